package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"bankrecon/internal/app"
	"bankrecon/internal/domain/connection"
	"bankrecon/internal/infrastructure/postgres/listener"
	"bankrecon/internal/interfaces/scheduler"
	"bankrecon/internal/shared/clock"
	"bankrecon/internal/shared/config"
	"bankrecon/internal/shared/logger"
	"bankrecon/internal/shared/telemetry"
)

func main() {
	boot := logger.New()
	if err := config.LoadDotEnv(".env"); err != nil {
		boot.Fatal().Err(err).Msg("failed to load .env")
	}

	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.Setup(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Telemetry.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
			SampleRatio:  cfg.Telemetry.SampleRatio,
		}, log)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("telemetry shutdown failed")
			}
		}()
	}

	deps, err := app.NewDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	var sched *scheduler.Scheduler
	var statusListener *listener.StatusListener
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(scheduler.Config{
			ScheduleTimes:      cfg.Scheduler.ScheduleTimes,
			WorkerCount:        cfg.Scheduler.WorkerCount,
			JobDelay:           cfg.Scheduler.JobDelay,
			JobTimeout:         cfg.Scheduler.JobTimeout,
			QueueSize:          cfg.Scheduler.QueueSize,
			RunOnStartup:       cfg.Scheduler.RunOnStartup,
			RetrySweepInterval: cfg.Scheduler.RetrySweepInterval,
		}, deps.Connections, deps.Pipeline, clock.Real(), log)
		if err != nil {
			return err
		}
		sched.Start()

		// A connection that reaches ACTIVE, on any replica, gets an immediate pull.
		statusListener = listener.NewStatusListener(cfg.Database.ConnectionString(), func(ctx context.Context, change listener.StatusChange) {
			if change.Status != connection.StatusActive {
				return
			}
			if err := sched.EnqueueIngestion(change.ConnectionID); err != nil {
				log.Warn().Err(err).Str("connection_id", change.ConnectionID).Msg("failed to enqueue ingestion")
			}
		}, log)
		statusListener.Start(ctx)
	} else {
		log.Info().Msg("scheduler is disabled")
	}

	handler := SetupRoutes(deps, cfg, log)

	errCh := make(chan error, 1)
	srv, redirectSrv := StartServers(NewServerConfigFromConfig(handler, cfg), log, errCh)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
		GracefulShutdown(srv, redirectSrv, sched, statusListener, 30*time.Second, log)
		return err
	}

	GracefulShutdown(srv, redirectSrv, sched, statusListener, 30*time.Second, log)
	return nil
}
