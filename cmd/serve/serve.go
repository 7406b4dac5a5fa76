// Package serve implements the long-running updater service.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mpetrenko/campusched/internal/conf"
	"github.com/mpetrenko/campusched/internal/datastore"
	"github.com/mpetrenko/campusched/internal/errors"
	"github.com/mpetrenko/campusched/internal/ingest"
	"github.com/mpetrenko/campusched/internal/logging"
	"github.com/mpetrenko/campusched/internal/timetable"
)

// Command creates the serve command: an initial ingestion followed by
// periodic re-scrapes on a cron schedule, until SIGINT or SIGTERM.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic timetable updater",
		Long:  "Runs one ingestion immediately, then re-ingests on the configured cron schedule with periodic health checks. Stops gracefully on SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runService(ctx, settings)
		},
	}

	cmd.Flags().StringVar(&settings.Updater.Schedule, "cron", viper.GetString("updater.schedule"), "Cron expression for periodic ingestion")
	_ = viper.BindPFlags(cmd.Flags())

	return cmd
}

func logLevel(settings *conf.Settings) slog.Level {
	if settings.Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func runService(ctx context.Context, settings *conf.Settings) error {
	logger := logging.ForService("serve")
	if settings.Main.Log.Enabled {
		fileLogger, closeLogger, err := logging.NewFileLogger(
			filepath.Join(settings.Main.Log.Path, "campusched.log"), "serve", logLevel(settings))
		if err != nil {
			return fmt.Errorf("opening service log: %w", err)
		}
		defer func() { _ = closeLogger() }()
		logger = fileLogger
	}

	store := datastore.New(settings)
	if store == nil {
		return fmt.Errorf("no datastore output enabled")
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	client, err := timetable.NewClient(timetable.ConfigFromSettings(settings))
	if err != nil {
		return err
	}
	runner := ingest.NewRunner(client, store, settings)

	runOnce := func() {
		summary, err := runner.Run(ctx)
		switch {
		case err == nil:
			logger.Info("scheduled ingestion finished",
				"run_id", summary.RunID.String(),
				"inserted", summary.Inserted,
				"updated", summary.Updated,
				"retired", summary.Retired,
				"gaps", summary.Gaps)
		case errors.IsCategory(err, errors.CategoryCancellation):
			if summary != nil {
				logger.Info("ingestion cancelled by shutdown, partial progress committed",
					"run_id", summary.RunID.String(),
					"inserted", summary.Inserted,
					"updated", summary.Updated,
					"retired", summary.Retired)
			} else {
				logger.Info("ingestion cancelled by shutdown")
			}
		default:
			// A failed run is logged and retried on the next tick; the
			// service itself stays up.
			logger.Error("scheduled ingestion failed", "error", err)
		}
	}

	logger.Info("updater service starting",
		"schedule", settings.Updater.Schedule,
		"health_interval_min", settings.Updater.HealthIntervalMin)

	runOnce()
	if ctx.Err() != nil {
		return nil
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(settings.Updater.Schedule, runOnce); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", settings.Updater.Schedule, err)
	}
	scheduler.Start()
	defer func() {
		stopCtx := scheduler.Stop()
		<-stopCtx.Done()
	}()

	healthInterval := time.Duration(settings.Updater.HealthIntervalMin) * time.Minute
	if healthInterval <= 0 {
		healthInterval = 10 * time.Minute
	}
	healthTicker := time.NewTicker(healthInterval)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("updater service stopping")
			return nil
		case <-healthTicker.C:
			if err := runner.HealthCheck(ctx); err != nil {
				logger.Warn("health check failed", "error", err)
			} else {
				logger.Debug("health check passed")
			}
		}
	}
}
