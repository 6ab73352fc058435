package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadia/mnemo/internal/observability"
	"github.com/nadia/mnemo/internal/tracing"
	"github.com/nadia/mnemo/pkg/fileindex"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background indexer",
	Long: `Run mnemo as a long-lived process: watch the index roots for
changes, run the nightly incremental pass and the weekly embedding
sweep, and optionally expose Prometheus metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	zl := a.log.GetZerolog()

	if !a.cfg.Index.Enabled {
		return fmt.Errorf("file index is disabled in the configuration")
	}
	if len(a.cfg.Index.Roots) == 0 {
		return fmt.Errorf("no index roots configured")
	}

	if err := tracing.InitOpenTelemetry("mnemo"); err != nil {
		zl.Warn().Err(err).Msg("Tracing unavailable")
	} else {
		defer tracing.ShutdownOpenTelemetry(context.Background())
	}

	scheduler := fileindex.NewScheduler(a.indexer, a.embeddings, zl)
	if err := scheduler.Start(a.cfg.Index.Schedule, a.cfg.Index.SweepSchedule); err != nil {
		return err
	}
	defer scheduler.Stop()

	watcher, err := fileindex.NewWatcher(a.cfg.Index.Extensions, zl, scheduler.TriggerIndex)
	if err != nil {
		return err
	}
	defer watcher.Stop()
	for _, root := range a.cfg.Index.Roots {
		if err := watcher.Watch(root); err != nil {
			zl.Warn().Err(err).Str("root", root).Msg("Failed to watch root")
		}
	}

	var metricsServer *http.Server
	if a.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		metricsServer = &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zl.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		zl.Info().Str("listen", a.cfg.Metrics.Listen).Msg("Metrics endpoint started")
	}

	// Bring the index up to date before settling into the schedule.
	scheduler.TriggerIndex()

	zl.Info().Msg("mnemo serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zl.Info().Str("signal", sig.String()).Msg("Shutting down")

	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			zl.Warn().Err(err).Msg("Metrics server shutdown failed")
		}
	}
	return nil
}
