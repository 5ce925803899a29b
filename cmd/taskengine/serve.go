package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	taskengine "github.com/Swind/go-task-engine"
	"github.com/Swind/go-task-engine/config"
	"github.com/Swind/go-task-engine/core"
	"github.com/Swind/go-task-engine/observability/otel"
	promexporter "github.com/Swind/go-task-engine/observability/prometheus"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a manager with a heartbeat schedule and serve Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			addr, _ := cmd.Flags().GetString("addr")
			interval, _ := cmd.Flags().GetDuration("heartbeat")

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Metrics.Addr = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, interval)
		},
	}
	cmd.Flags().String("addr", "", "Metrics listen address (overrides metrics.addr)")
	cmd.Flags().Duration("heartbeat", 10*time.Second, "Period of the heartbeat schedule")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, heartbeat time.Duration) error {
	reg := prometheus.NewRegistry()
	exporter, err := promexporter.NewMetricsExporter(cfg.Metrics.Namespace, reg, promexporter.ExporterOptions{})
	if err != nil {
		return err
	}
	poller, err := promexporter.NewSnapshotPoller(cfg.Metrics.Namespace, reg, cfg.Metrics.PollInterval)
	if err != nil {
		return err
	}

	m, err := taskengine.NewManagerFromConfig(cfg,
		core.WithMetrics(exporter),
		core.WithHooks(otel.NewTracer()))
	if err != nil {
		return err
	}
	poller.Watch(m)
	poller.Start(ctx)
	defer poller.Stop()

	logger := m.Logger()
	beat := core.ScheduleFunc(func(ctx context.Context) (any, error) {
		stats := core.CurrentManager(ctx).Stats()
		logger.Info("heartbeat",
			core.F("active", stats.Active),
			core.F("pending", stats.Pending),
			core.F("known", stats.Known))
		return nil, nil
	}, []core.TaskOption{core.WithName("heartbeat"), core.WithPeriod(heartbeat)},
		core.WithName("heartbeat-iteration"))
	if _, err := m.Submit(ctx, beat, core.TagNonTransient); err != nil {
		m.ShutdownNow()
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", core.F("addr", cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if err := m.ShutdownGraceful(cfg.ShutdownTimeout); err != nil {
		logger.Warn("manager did not drain", core.F("error", err))
	}
	return serveErr
}
