package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/KafClaw/groupjournal/internal/bus"
	"github.com/KafClaw/groupjournal/internal/metrics"
	"github.com/KafClaw/groupjournal/internal/scheduler"
)

// Synthesizer is the part of Trigger the dispatchers depend on.
type Synthesizer interface {
	Handle(ctx context.Context, req Request) (*Result, error)
}

// Dispatcher feeds cascade requests from a bus consumer into a Synthesizer
// with bounded concurrency.
type Dispatcher struct {
	consumer bus.Consumer
	synth    Synthesizer
	sem      *scheduler.Semaphore
	metrics  *metrics.Metrics
	wg       sync.WaitGroup

	mu      sync.Mutex
	running map[string]int
}

// NewDispatcher creates a Dispatcher running at most maxConcurrent syntheses.
func NewDispatcher(consumer bus.Consumer, synth Synthesizer, maxConcurrent int, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		consumer: consumer,
		synth:    synth,
		sem:      scheduler.NewSemaphore(maxConcurrent),
		metrics:  m,
		running:  make(map[string]int),
	}
}

// InFlightGroups lists the groups with a cascade synthesis still running.
func (d *Dispatcher) InFlightGroups() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.running))
	for g := range d.running {
		out = append(out, g)
	}
	slices.Sort(out)
	return out
}

func (d *Dispatcher) track(groupID string, delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running[groupID] += delta; d.running[groupID] <= 0 {
		delete(d.running, groupID)
	}
}

// Run consumes requests until ctx is cancelled or the consumer closes, then
// waits for in-flight syntheses to finish.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.consumer.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	slog.Info("Cascade dispatcher started", "maxConcurrent", d.sem.Cap())
	defer d.wg.Wait()

	msgs := d.consumer.Messages()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Cascade dispatcher stopping")
			return ctx.Err()
		case req, ok := <-msgs:
			if !ok {
				slog.Info("Cascade dispatcher: consumer closed")
				return nil
			}
			if err := d.sem.Acquire(ctx); err != nil {
				return err
			}
			slog.Debug("Cascade synthesis dispatched", "group", req.GroupID, "source", req.Source, "inFlight", d.sem.InUse())
			d.wg.Add(1)
			// In-flight runs outlive shutdown so a cancelled provider call
			// never replaces a journal with the placeholder.
			go d.handle(context.WithoutCancel(ctx), req)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, req bus.SynthesisRequest) {
	d.metrics.DispatcherInFlight(1)
	d.track(req.GroupID, 1)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Cascade synthesis panicked", "group", req.GroupID, "panic", r, "stack", string(debug.Stack()))
		}
		d.metrics.DispatcherInFlight(-1)
		d.track(req.GroupID, -1)
		d.sem.Release()
		d.wg.Done()
	}()

	source := req.Source
	if source == "" {
		source = bus.SourceCascade
	}
	res, err := d.synth.Handle(ctx, Request{GroupID: req.GroupID, Source: source})
	if err != nil {
		slog.Warn("Cascade synthesis failed", "group", req.GroupID, "request", req.RequestID, "error", err)
		return
	}
	slog.Debug("Cascade synthesis done", "group", req.GroupID, "updated", res.Updated, "reason", res.Reason)
}
