package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/loader"
)

type bootstrapFunc func(cmd *cobra.Command) (*app, error)

func newMigrateCommand(bootstrap bootstrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the content and watermark schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			if err := a.cfg.ValidateDatabase(); err != nil {
				a.logger.WithError(err).Error("Invalid configuration")
				return err
			}

			a.requireDatabase()
			if err := a.start(cmd.Context()); err != nil {
				return err
			}
			defer a.close()

			migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
				MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
				Version:             uint(a.cfg.DatabaseMigrationVersion),
				Force:               a.cfg.DatabaseMigrationForce,
				AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
			})
			return migrations.MigratePostgres(a.db.Unwrap().DB, a.cfg.DatabaseName)
		},
	}
}

func newLoadCommand(bootstrap bootstrapFunc) *cobra.Command {
	var (
		sqlitePath string
		chunkSize  int
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Copy a SQLite catalogue into PostgreSQL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			if err := a.cfg.ValidateDatabase(); err != nil {
				a.logger.WithError(err).Error("Invalid configuration")
				return err
			}

			a.requireTracing()
			a.requireDatabase()
			if err := a.start(cmd.Context()); err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			source, err := loader.OpenSQLite(ctx, sqlitePath)
			if err != nil {
				a.logger.WithContext(ctx).WithError(err).Error("Failed to open SQLite source")
				return err
			}
			defer source.Close()

			stats, err := loader.NewLoader(source, a.db, chunkSize, a.logger).Run(ctx)
			if err != nil {
				a.logger.WithContext(ctx).WithError(err).Error("Bulk load failed")
				return err
			}

			var skipped int
			for _, s := range stats {
				skipped += s.Skipped
			}
			a.logger.WithContext(ctx).WithField("skipped", skipped).Info("Bulk load finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&sqlitePath, "sqlite", "db.sqlite", "path of the SQLite catalogue")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", loader.DefaultChunkSize, "rows per insert transaction")
	return cmd
}

func newIndexCommand(bootstrap bootstrapFunc) *cobra.Command {
	index := &cobra.Command{
		Use:   "index",
		Short: "Manage the search index",
	}

	run := func(cmd *cobra.Command, action func(a *app) error) error {
		a, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		if a.cfg.ElasticURLs == "" {
			err := errors.New("missing configuration: ELASTIC_URLS")
			a.logger.WithError(err).Error("Invalid configuration")
			return err
		}

		a.requireSearch()
		if err := a.start(cmd.Context()); err != nil {
			return err
		}
		defer a.close()
		return action(a)
	}

	index.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Create the index with the film mapping if it does not exist",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, func(a *app) error {
					publisher := a.publisher()
					created, err := publisher.EnsureIndex(cmd.Context())
					if err != nil {
						return err
					}
					a.logger.WithContext(cmd.Context()).WithField("created", created).Infof("Index %s is ready", publisher.Index())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Delete the index",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd, func(a *app) error {
					publisher := a.publisher()
					if err := publisher.DeleteIndex(cmd.Context()); err != nil {
						return err
					}
					a.logger.WithContext(cmd.Context()).Infof("Index %s deleted", publisher.Index())
					return nil
				})
			},
		},
	)
	return index
}

func parseExportAfter(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
		if ts, err := time.Parse(layout, value); err == nil {
			ts = ts.UTC()
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("invalid --export-after %q: use RFC3339 or YYYY-MM-DD", value)
}
