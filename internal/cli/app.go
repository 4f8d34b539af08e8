package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KafClaw/groupjournal/internal/analysis"
	"github.com/KafClaw/groupjournal/internal/artifact"
	"github.com/KafClaw/groupjournal/internal/backfill"
	"github.com/KafClaw/groupjournal/internal/bus"
	"github.com/KafClaw/groupjournal/internal/config"
	"github.com/KafClaw/groupjournal/internal/httpapi"
	"github.com/KafClaw/groupjournal/internal/metrics"
	"github.com/KafClaw/groupjournal/internal/provider"
	"github.com/KafClaw/groupjournal/internal/store"
	"github.com/KafClaw/groupjournal/internal/synthesis"
)

// app holds the wired components shared by serve, backfill and synthesize.
type app struct {
	cfg        *config.Config
	store      *store.SQLStore
	metrics    *metrics.Metrics
	publisher  bus.Publisher
	consumer   bus.Consumer
	analysis   *analysis.Trigger
	synthesis  *synthesis.Trigger
	dispatcher *synthesis.Dispatcher
	backfill   *backfill.Orchestrator

	closers []func() error
}

// newProvider is swapped by tests to avoid network calls.
var newProvider = func(cfg *config.Config) provider.AnalysisProvider {
	llm := provider.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Model.Name)
	return provider.NewLLMAnalysis(llm, cfg.Model.Name, cfg.Model.MaxTokens, cfg.Model.Temperature)
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.Store.Driver,
		DSN:         cfg.Store.DSN,
		GroupColumn: cfg.Store.GroupColumn,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, store: st, metrics: metrics.New()}
	a.closers = append(a.closers, st.Close)
	slog.Info("Store ready", "driver", st.Driver(), "group_column", st.GroupColumn())

	switch strings.ToLower(strings.TrimSpace(cfg.Bus.Driver)) {
	case "", "memory":
		mb := bus.NewMessageBus(cfg.Bus.BufferSize)
		a.publisher, a.consumer = mb, mb
		a.closers = append(a.closers, mb.Close)
	case "kafka":
		if strings.TrimSpace(cfg.Bus.KafkaBrokers) == "" {
			a.Close()
			return nil, fmt.Errorf("bus driver kafka requires kafkaBrokers")
		}
		pub := bus.NewKafkaPublisher(cfg.Bus.KafkaBrokers, cfg.Bus.Topic)
		cons := bus.NewKafkaConsumer(cfg.Bus.KafkaBrokers, cfg.Bus.ConsumerGroup, cfg.Bus.Topic)
		a.publisher, a.consumer = pub, cons
		a.closers = append(a.closers, pub.Close, cons.Close)
	default:
		a.Close()
		return nil, fmt.Errorf("unsupported bus driver %q", cfg.Bus.Driver)
	}

	prov := newProvider(cfg)
	a.analysis = analysis.NewTrigger(st, prov, a.publisher, a.metrics, analysis.Options{
		Kinds:     cfg.Analysis.Kinds,
		Timeout:   cfg.Analysis.Timeout,
		Threshold: cfg.Analysis.Threshold,
	})
	a.synthesis = synthesis.NewTrigger(st, prov, artifact.NewQRGenerator(cfg.Artifact.Size), a.metrics, synthesis.Options{
		Threshold:       cfg.Analysis.Threshold,
		CorpusBudget:    cfg.Synthesis.CorpusBudget,
		Timeout:         cfg.Synthesis.Timeout,
		Retries:         cfg.Synthesis.Retries,
		IdentityBaseURL: cfg.Artifact.IdentityBaseURL,
	})
	a.dispatcher = synthesis.NewDispatcher(a.consumer, a.synthesis, cfg.Cascade.MaxConcurrent, a.metrics)
	a.backfill = backfill.New(st, a.synthesis, a.metrics, backfill.Options{
		Workers:   cfg.Backfill.Workers,
		Cooldown:  cfg.Backfill.Cooldown,
		Threshold: cfg.Analysis.Threshold,
	})
	return a, nil
}

func (a *app) services() httpapi.Services {
	return httpapi.Services{
		Analysis:  a.analysis,
		Synthesis: a.synthesis,
		Backfill:  a.backfill,
		Store:     a.store,
		Metrics:   a.metrics,
	}
}

// Close releases components in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("Close failed", "error", err)
		}
	}
	a.closers = nil
}
