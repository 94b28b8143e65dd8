package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"devenv/internal/orchestrator"
	"devenv/pkg/logging"
)

// runUpMode starts every unit, waits for an interrupt and shuts down.
func runUpMode(ctx context.Context, config *Config, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if config.MetricsAddr != "" {
		shutdownMetrics, err := serveMetrics(config.MetricsAddr, services)
		if err != nil {
			return err
		}
		defer shutdownMetrics()
	}

	orch := services.Orchestrator
	if err := orch.Start(ctx); err != nil {
		logging.Error("CLI", err, "Failed to start project")
		return err
	}
	logStatus(orch.Status())

	logging.Info("CLI", "Project running. Press Ctrl+C to stop all units and exit.")
	<-ctx.Done()

	// Graceful shutdown sequence
	logging.Info("CLI", "--- Shutting down ---")
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget(services))
	defer cancel()
	return orch.Shutdown(stopCtx)
}

// runDownMode removes everything the project created in the container runtime.
func runDownMode(ctx context.Context, services *Services) error {
	if err := services.Orchestrator.Down(ctx); err != nil {
		logging.Error("CLI", err, "Failed to remove project containers")
		return err
	}
	logging.Info("CLI", "Removed project containers and network")
	return nil
}

// shutdownBudget covers a SIGINT grace period for services plus a container
// stop timeout for infra, which run in parallel.
func shutdownBudget(services *Services) time.Duration {
	return 2*services.StopGrace + 10*time.Second
}

// serveMetrics exposes the run's registry on addr until the returned
// function is called.
func serveMetrics(addr string, services *Services) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", services.Metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Metrics", err, "Metrics server stopped")
		}
	}()
	logging.Info("Metrics", "Serving metrics on http://%s/metrics", listener.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func logStatus(status []orchestrator.Status) {
	for _, st := range status {
		switch {
		case st.Err != nil:
			logging.Warn("CLI", "%-8s %-20s failed: %v", st.Type, st.Name, st.Err)
		case st.Port != 0:
			logging.Info("CLI", "%-8s %-20s running on port %d (PID %d)", st.Type, st.Name, st.Port, st.PID)
		default:
			logging.Info("CLI", "%-8s %-20s running", st.Type, st.Name)
		}
	}
}
