package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/rom8726/flowsim"
	"github.com/rom8726/flowsim/api"
	"github.com/rom8726/flowsim/internal/tracing"
	"github.com/rom8726/flowsim/plugins/audit"
	"github.com/rom8726/flowsim/plugins/metrics"
	"github.com/rom8726/flowsim/plugins/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow API and run queued simulations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return a.serve(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")

	return cmd
}

func (a *app) serve(ctx context.Context, addr string) error {
	cfg := a.cfg
	if addr != "" {
		cfg.Server.Addr = addr
	}

	shutdownTracing, err := tracing.Init(ctx, tracing.Options{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			a.logger.Error("tracing shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	runner := flowsim.NewRunner(store,
		flowsim.WithRunnerExecutor(flowsim.NewExecutor(
			flowsim.WithStepExecutor(a.stepExecutor(cfg.Engine.Seed, cfg.Engine.SuccessRate)),
			flowsim.WithMaxSteps(cfg.Engine.MaxSteps),
		)),
		flowsim.WithRunnerObservers(
			metrics.New(metrics.NewPrometheusCollector(registry)),
			telemetry.New(otel.Tracer("flowsim")),
			audit.New(audit.NewSlogWriter(a.logger)),
		),
	)

	pool := flowsim.NewWorkerPool(runner, cfg.Server.Workers, cfg.Server.QueueSize)
	pool.Start(ctx)
	defer pool.Stop()

	server := api.NewServer(runner, pool, metrics.NewRoutesPlugin(registry))
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("flowsim API listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver,
			"workers", pool.Size())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return httpServer.Shutdown(shutdownCtx)
}
