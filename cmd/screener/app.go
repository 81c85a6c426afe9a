package main

import (
	"context"
	"os"
	"screener/internal/aws"
	"screener/internal/cache"
	"screener/internal/config"
	"screener/internal/events"
	"screener/internal/rabbitmq"
	"screener/internal/ratelimit"
	"screener/internal/scanner"
	"screener/internal/store"
	"screener/internal/universe"
	"screener/pkg/marketdata"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// app holds the wired components shared by the subcommands
type app struct {
	cfg *config.Config

	remote   cache.Cache
	redis    *cache.RedisCache
	tiered   *cache.Tiered
	limiter  *ratelimit.SlidingWindow
	store    *store.Store
	universe *universe.Static
	engine   *scanner.Engine

	rabbit rabbitmq.Client
	nats   *events.NATSPublisher
	files  aws.FileService

	closers []func()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	setupLogger(cfg.Logging)
	return cfg, nil
}

// setupLogger configures the global zerolog logger. Logs go to stderr so
// command output on stdout stays machine readable.
func setupLogger(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// newApp wires the scan engine. With integrations the event buses and the
// result export are connected too; each of them is optional.
func newApp(cfg *config.Config, integrations bool) *app {
	a := &app{cfg: cfg}

	a.connectRedis()
	a.tiered = cache.NewTiered(a.redisOrNil(), cfg.Cache)
	a.limiter = ratelimit.New(cfg.Scanner.CallsPerMinute)
	a.store = store.New(a.remote, cfg.Scanner)
	a.universe = universe.NewStatic(cfg.Universe)

	opts := scanner.Options{
		MaxConcurrentJobs: cfg.Scanner.MaxConcurrentJobs,
		MaxErrorLength:    cfg.Scanner.MaxErrorLength,
		Universe:          a.universe,
		Progress:          a.tiered,
	}

	if integrations {
		opts.Events = a.connectEvents()
		if archive := a.connectS3(); archive != nil {
			opts.Results = archive
		}
	}

	processor := marketdata.NewProcessor(marketdata.New(cfg.MarketData), a.tiered)
	a.engine = scanner.New(a.store, a.limiter, processor.Process, opts)

	return a
}

// connectRedis falls back to an in-process store when Redis is unreachable
func (a *app) connectRedis() {
	if a.cfg.Redis.Address != "" {
		redisCache, err := cache.NewRedisCache(a.cfg.Redis)
		if err == nil {
			a.redis = redisCache
			a.remote = redisCache
			a.closers = append(a.closers, func() { _ = redisCache.Close() })
			return
		}
		log.Warn().Err(err).Msg("Redis unavailable, job snapshots and cache stay in process")
	}
	a.remote = cache.NewMemoryCache()
}

// redisOrNil keeps the tiered cache memory-only when Redis is not connected
func (a *app) redisOrNil() cache.Cache {
	if a.redis == nil {
		return nil
	}
	return a.redis
}

func (a *app) connectEvents() events.Publisher {
	var publishers events.Multi

	if a.cfg.RabbitMQ.Host != "" {
		client, err := rabbitmq.NewClientFromConfig(a.cfg.RabbitMQ)
		if err != nil {
			log.Warn().Err(err).Msg("RabbitMQ unavailable, scan requests and events over AMQP disabled")
		} else {
			a.rabbit = client
			a.closers = append(a.closers, func() { _ = client.Close() })

			pub, err := events.NewRabbitPublisher(client, a.cfg.RabbitMQ.EventExchange)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to set up event exchange")
			} else {
				publishers = append(publishers, pub)
			}
		}
	}

	if a.cfg.NATS.URL != "" {
		pub, err := events.ConnectNATS(a.cfg.NATS.URL, a.cfg.NATS.SubjectPrefix)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, events over NATS disabled")
		} else {
			a.nats = pub
			a.closers = append(a.closers, pub.Close)
			publishers = append(publishers, pub)
		}
	}

	if len(publishers) == 0 {
		return events.Noop{}
	}
	return publishers
}

func (a *app) connectS3() *aws.ResultArchive {
	if a.cfg.S3.Bucket == "" {
		return nil
	}

	files, err := aws.NewFileService(a.cfg.S3)
	if err != nil {
		log.Warn().Err(err).Msg("S3 unavailable, result export disabled")
		return nil
	}
	a.files = files
	return aws.NewResultArchive(files, a.cfg.S3.Prefix)
}

// shutdown stops the engine and releases every connection
func (a *app) shutdown(ctx context.Context) {
	if err := a.engine.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Scan workers did not stop in time")
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
