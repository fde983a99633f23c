package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/internal/repositories/content"
	"github.com/Ramsey-B/fern/pkg/cascade"
	"github.com/Ramsey-B/fern/pkg/changes"
	"github.com/Ramsey-B/fern/pkg/enrich"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/watermark"
)

func newSyncCommand(bootstrap bootstrapFunc) *cobra.Command {
	var (
		daemon      bool
		interval    time.Duration
		exportAfter string
		kinds       []string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Publish changed film works to the search index",
		Long: "Runs one sync cycle over every kind and exits, or with --daemon repeats the cycle " +
			"every --interval and serves health, watermark and metrics endpoints.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			if err := a.cfg.ValidateSync(); err != nil {
				a.logger.WithError(err).Error("Invalid configuration")
				return err
			}

			after, err := parseExportAfter(exportAfter)
			if err != nil {
				return err
			}
			selected, err := parseKinds(kinds)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("interval") {
				interval = a.cfg.SyncInterval
			}

			a.requireTracing()
			a.requireDatabase()
			a.requireSearch()
			if a.cfg.RedisEnabled {
				a.requireRedis()
			}
			if a.cfg.KafkaEnabled {
				a.requireKafka()
			}
			if err := a.start(cmd.Context()); err != nil {
				return err
			}
			defer a.close()

			store, err := a.watermarkStore()
			if err != nil {
				return err
			}
			driver := a.driver(store, selected, after)

			ctx := cmd.Context()
			if !daemon {
				_, err := driver.RunCycle(ctx)
				return err
			}
			return a.serve(ctx, driver, store, interval)
		},
	}

	cmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "keep syncing until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", pipeline.DefaultInterval, "pause between daemon cycles (defaults to SYNC_INTERVAL)")
	cmd.Flags().StringVar(&exportAfter, "export-after", "", "sync changes after this time instead of the stored watermark, first cycle only")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "kinds to sync (film_work, person, genre); all when empty")
	return cmd
}

func parseKinds(values []string) ([]models.Kind, error) {
	kinds := make([]models.Kind, 0, len(values))
	for _, v := range values {
		kind, err := models.ParseKind(v)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func (a *app) watermarkStore() (watermark.Store, error) {
	var store watermark.Store
	switch a.cfg.WatermarkBackend {
	case "file":
		fs, err := watermark.NewFileStore(a.cfg.WatermarkDir, a.logger)
		if err != nil {
			return nil, err
		}
		store = fs
	case "redis":
		store = watermark.NewRedisStore(a.redis, a.cfg.WatermarkKeyPrefix)
	case "postgres":
		store = watermark.NewPostgresStore(a.db)
	default:
		return nil, fmt.Errorf("unknown WATERMARK_BACKEND %q", a.cfg.WatermarkBackend)
	}
	return watermark.NewMonotonic(store), nil
}

func (a *app) driver(store watermark.Store, kinds []models.Kind, exportAfter *time.Time) *pipeline.Driver {
	repo := content.NewRepository(a.db, a.logger)

	opts := pipeline.Options{
		Kinds:        kinds,
		ExportAfter:  exportAfter,
		QueryTimeout: a.cfg.SyncQueryTimeout,
		LockTTL:      a.cfg.SyncLockTTL,
	}
	if a.cfg.SyncRetryEnabled {
		opts.Retry = retry.DefaultConfig()
	}
	if a.cfg.SyncLockEnabled {
		opts.Locker = redis.NewLocker(a.redis, "")
	}
	if a.producer != nil {
		opts.Notifier = a.producer
	}

	return pipeline.NewDriver(
		a.db,
		store,
		changes.NewExtractor(repo, a.cfg.SyncChunkSize, a.logger),
		cascade.NewResolver(repo, a.cfg.SyncChunkSize, a.logger),
		enrich.NewEnricher(repo, a.cfg.SyncChunkSize, a.logger),
		a.publisher(),
		opts,
		a.logger,
	)
}

// serve runs the daemon loop next to the status server until ctx is done.
func (a *app) serve(ctx context.Context, driver *pipeline.Driver, store watermark.Store, interval time.Duration) error {
	checker := health.NewChecker(version).
		Require("database", a.db.PingContext).
		Require("elasticsearch", a.publisher().Ping)
	if a.redis != nil {
		checker.Require("redis", a.redis.Ping)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))

	checker.RegisterRoutes(e)
	handlers.NewWatermarkHandler(driver, store, a.logger).RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	serverErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", a.cfg.Port)
		a.logger.WithContext(ctx).Infof("Status server listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	checker.SetReady(true)
	runErr := driver.Run(ctx, interval)
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("Failed to stop status server cleanly")
	}

	if err := <-serverErr; err != nil {
		a.logger.WithError(err).Error("Status server failed")
		return errors.Join(runErr, err)
	}
	return runErr
}
