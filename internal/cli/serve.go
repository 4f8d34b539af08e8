package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/KafClaw/groupjournal/internal/backfill"
	"github.com/KafClaw/groupjournal/internal/httpapi"
	"github.com/KafClaw/groupjournal/internal/scheduler"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the cascade dispatcher and the backfill scheduler",
	RunE:  runServe,
}

var (
	serveSignalNotify = signal.Notify
	serveSignalStop   = signal.Stop
)

func runServe(cmd *cobra.Command, args []string) error {
	printHeader("📓 groupjournal serve")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	setupLogging(cfg.Log, os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	serveSignalNotify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer serveSignalStop(sigChan)

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Cascade dispatcher stopped", "error", err)
		}
	}()

	sched := scheduler.New(scheduler.Config{
		Interval: cfg.Backfill.Interval,
		LockPath: cfg.Backfill.LockPath,
	}, func(ctx context.Context) error {
		report, err := a.backfill.Run(ctx, backfill.Request{})
		if err != nil {
			return err
		}
		slog.Info("Scheduled backfill finished",
			"processed", report.Processed, "ok", report.OkCount,
			"errors", report.ErrorCount, "skipped", len(report.Skipped))
		return nil
	})
	if sched.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Backfill scheduler stopped", "error", err)
			}
		}()
		slog.Info("Backfill scheduler enabled", "interval", cfg.Backfill.Interval)
	}

	addr := net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	server := &http.Server{
		Addr: addr,
		Handler: httpapi.NewServer(a.services(),
			httpapi.WithMiddlewares(httpapi.LoggingMiddleware),
			httpapi.WithAuthToken(cfg.Gateway.AuthToken),
		),
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP API listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	fmt.Println("groupjournal running. Press Ctrl+C to stop.")
	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("Shutting down", "signal", sig.String())
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	cancel()

	if abandoned, ok := waitBackground(shutdownCtx, &wg, a.dispatcher.InFlightGroups); !ok {
		// Closing the store below fails these runs' writes.
		slog.Warn("Background work still running at shutdown deadline", "abandonedGroups", abandoned)
	}
	return runErr
}

// waitBackground waits for wg until ctx is done. On timeout it reports false
// with the groups whose syntheses are still running.
func waitBackground(ctx context.Context, wg *sync.WaitGroup, inFlight func() []string) ([]string, bool) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil, true
	case <-ctx.Done():
		return inFlight(), false
	}
}
