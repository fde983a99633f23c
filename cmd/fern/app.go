package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/olivere/elastic/v7"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/search"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

const (
	depTracing  = "tracing"
	depDatabase = "database"
	depSearch   = "elasticsearch"
	depRedis    = "redis"
	depKafka    = "kafka"
)

// app owns the connections a command needs. Each require* call registers a
// dependency; start connects all of them with retries.
type app struct {
	cfg     *config.Config
	logger  ectologger.Logger
	startup *startup.Startup

	db       database.DB
	search   *elastic.Client
	redis    *redis.Client
	producer *kafka.Producer
}

func newApp(cfg *config.Config, logger ectologger.Logger) *app {
	return &app{
		cfg:     cfg,
		logger:  logger,
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
	}
}

func (a *app) requireTracing() {
	var shutdown func(context.Context) error
	a.startup.AddDependency(startup.Dependency{
		Name: depTracing,
		StartFn: func(ctx context.Context) error {
			exporter, err := exporters.New(ctx, a.cfg.OTLPEnabled, exporters.OTLPConfig{
				Endpoint: a.cfg.OTLPEndpoint,
				Protocol: a.cfg.OTLPProtocol,
				Insecure: a.cfg.OTLPInsecure,
			})
			if err != nil {
				return err
			}
			shutdown = tracing.Setup(a.cfg.AppName, exporter)
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	})
}

func (a *app) requireDatabase() {
	a.startup.AddDependency(startup.Dependency{
		Name: depDatabase,
		StartFn: func(ctx context.Context) error {
			db, err := database.Connect(ctx, "postgres", a.cfg.DatabaseDSN(), database.PoolConfig{
				MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
			}, a.logger)
			if err != nil {
				return err
			}
			a.db = db
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if a.db == nil {
				return nil
			}
			return a.db.Close()
		},
	})
}

func (a *app) requireSearch() {
	a.startup.AddDependency(startup.Dependency{
		Name: depSearch,
		StartFn: func(ctx context.Context) error {
			client, err := search.NewClient(a.searchConfig())
			if err != nil {
				return err
			}
			a.search = client
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if a.search != nil {
				a.search.Stop()
			}
			return nil
		},
	})
}

func (a *app) requireRedis() {
	a.startup.AddDependency(startup.Dependency{
		Name: depRedis,
		StartFn: func(ctx context.Context) error {
			client, err := redis.NewClient(ctx, redis.Config{
				Host:     a.cfg.RedisHost,
				Port:     a.cfg.RedisPort,
				Password: a.cfg.RedisPassword,
				DB:       a.cfg.RedisDB,
			}, a.logger)
			if err != nil {
				return err
			}
			a.redis = client
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if a.redis == nil {
				return nil
			}
			return a.redis.Close()
		},
	})
}

func (a *app) requireKafka() {
	a.startup.AddDependency(startup.Dependency{
		Name: depKafka,
		StartFn: func(ctx context.Context) error {
			a.producer = kafka.NewProducer(kafka.ParseConfig(a.cfg.KafkaBrokers, a.cfg.KafkaSyncTopic), a.logger)
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if a.producer == nil {
				return nil
			}
			return a.producer.Close()
		},
	})
}

func (a *app) searchConfig() search.Config {
	var urls []string
	for _, u := range strings.Split(a.cfg.ElasticURLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return search.Config{
		URLs:      urls,
		Index:     a.cfg.ElasticIndex,
		ChunkSize: a.cfg.SearchChunkSize,
		Sniff:     a.cfg.ElasticSniff,
	}
}

func (a *app) publisher() *search.Publisher {
	cfg := a.searchConfig()
	return search.NewPublisher(a.search, cfg.Index, cfg.ChunkSize, a.logger)
}

func (a *app) start(ctx context.Context) error {
	if err := a.startup.Start(ctx); err != nil {
		a.logger.WithContext(ctx).WithError(err).Error("Failed to start dependencies")
		return err
	}
	return nil
}

// close stops every started dependency. It runs on a fresh context so a
// cancelled command still flushes spans and closes connections.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.startup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.WithError(err).Warn("Failed to stop dependencies cleanly")
	}
}
