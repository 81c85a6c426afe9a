package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"screener/internal/controller"
	"screener/internal/database"
	"screener/internal/model"
	"screener/internal/server"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, the scan request consumer and the maintenance loops",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides the config file)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, true)

	var db database.Database
	if cfg.MongoDB.URI != "" {
		db, err = database.New(cfg.MongoDB)
		if err != nil {
			log.Warn().Err(err).Msg("MongoDB unavailable, scans are not archived")
			db = nil
		}
	}

	var archive database.JobArchive
	if db != nil {
		archive = db
	}

	scans := controller.NewScanController(a.engine, a.universe, archive, a.rabbit, cfg.RabbitMQ)
	httpServer := server.New(*cfg, controller.NewServer(a.healthChecks(db)), scans, a.tiered)

	if cfg.Scanner.ResumeOnStart {
		if n := a.engine.Resume(ctx); n > 0 {
			log.Info().Int("jobs", n).Msg("Resumed interrupted scans")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.tiered.Run(gctx)
	})

	g.Go(func() error {
		return a.store.Run(gctx, func(ctx context.Context, jobs []model.Job) {
			if archive != nil {
				archive.ArchiveJobs(ctx, jobs)
			}
		})
	})

	if a.rabbit != nil {
		if err := scans.ConsumeScanRequests(gctx); err != nil {
			log.Warn().Err(err).Msg("Scan request consumer not started")
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown")
		}
		scans.StopProcessing()
		a.shutdown(shutdownCtx)

		if db != nil {
			if err := db.Close(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("MongoDB disconnect")
			}
		}
		return nil
	})

	return g.Wait()
}

// healthChecks lists a check for every dependency that is connected
func (a *app) healthChecks(db database.Database) map[string]controller.HealthCheck {
	checks := map[string]controller.HealthCheck{}

	if a.redis != nil {
		checks["redis"] = a.redis.Ping
	}
	if db != nil {
		checks["mongodb"] = func(context.Context) error { return db.Health() }
	}
	if a.rabbit != nil {
		checks["rabbitmq"] = func(context.Context) error { return a.rabbit.Health() }
	}
	if a.nats != nil {
		checks["nats"] = func(context.Context) error { return a.nats.Health() }
	}
	if a.files != nil {
		checks["s3"] = a.files.TestConnection
	}
	return checks
}
