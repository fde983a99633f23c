// Package loader copies the film catalogue from a SQLite file into the
// PostgreSQL content schema.
package loader

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const DefaultChunkSize = 50

// TableStats counts what happened to one table's rows.
type TableStats struct {
	Table     string
	Read      int
	Inserted  int
	Conflicts int
	Skipped   int
}

type Loader struct {
	source    *sqlx.DB
	target    database.DB
	chunkSize int
	validate  *validator.Validate
	logger    ectologger.Logger
}

func NewLoader(source *sqlx.DB, target database.DB, chunkSize int, logger ectologger.Logger) *Loader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Loader{
		source:    source,
		target:    target,
		chunkSize: chunkSize,
		validate:  newValidator(),
		logger:    logger,
	}
}

// Run copies every table, entities before the join tables that reference
// them. Each chunk is committed on its own and rows whose id already exists
// are left untouched, so a rerun only inserts what is missing. Malformed rows
// are skipped; a read or write error stops the load.
func (l *Loader) Run(ctx context.Context) ([]TableStats, error) {
	ctx, span := tracing.StartSpan(ctx, "Loader.Run")
	defer span.End()

	steps := []func(context.Context) (TableStats, error){
		func(ctx context.Context) (TableStats, error) {
			return loadTable[models.FilmWork, filmWorkRecord](ctx, l, tableSpec{
				source:   "film_work",
				target:   models.FilmWork{}.TableName(),
				columns:  []string{"id", "title", "description", "creation_date", "rating", "type", "created_at", "updated_at"},
				optional: []string{"file_path"},
				conflict: []string{"id"},
			})
		},
		func(ctx context.Context) (TableStats, error) {
			return loadTable[models.Person, personRecord](ctx, l, tableSpec{
				source:   "person",
				target:   models.Person{}.TableName(),
				columns:  []string{"id", "full_name", "created_at", "updated_at"},
				optional: []string{"gender"},
				conflict: []string{"id"},
			})
		},
		func(ctx context.Context) (TableStats, error) {
			return loadTable[models.Genre, genreRecord](ctx, l, tableSpec{
				source:   "genre",
				target:   models.Genre{}.TableName(),
				columns:  []string{"id", "name", "description", "created_at", "updated_at"},
				conflict: []string{"id"},
			})
		},
		// join rows also carry a natural unique key, so any conflict skips the row
		func(ctx context.Context) (TableStats, error) {
			return loadTable[models.GenreFilmWork, genreFilmWorkRecord](ctx, l, tableSpec{
				source:  "genre_film_work",
				target:  models.GenreFilmWork{}.TableName(),
				columns: []string{"id", "film_work_id", "genre_id", "created_at"},
			})
		},
		func(ctx context.Context) (TableStats, error) {
			return loadTable[models.PersonFilmWork, personFilmWorkRecord](ctx, l, tableSpec{
				source:  "person_film_work",
				target:  models.PersonFilmWork{}.TableName(),
				columns: []string{"id", "film_work_id", "person_id", "role", "created_at"},
			})
		},
	}

	all := make([]TableStats, 0, len(steps))
	for _, step := range steps {
		stats, err := step(ctx)
		all = append(all, stats)

		metrics.RecordLoaderRows(stats.Table, "inserted", stats.Inserted)
		metrics.RecordLoaderRows(stats.Table, "conflict", stats.Conflicts)
		metrics.RecordLoaderRows(stats.Table, "skipped", stats.Skipped)

		if err != nil {
			span.RecordError(err)
			return all, err
		}
		l.logger.WithContext(ctx).WithFields(map[string]any{
			"table":     stats.Table,
			"read":      stats.Read,
			"inserted":  stats.Inserted,
			"conflicts": stats.Conflicts,
			"skipped":   stats.Skipped,
		}).Info("Loaded table")
	}
	return all, nil
}

// tableSpec maps one source table onto its destination.
type tableSpec struct {
	source  string
	target  string
	columns []string
	// optional columns are read only when the source table has them
	optional []string
	// conflict is the ON CONFLICT target; empty skips rows violating any unique index
	conflict []string
}

func loadTable[M any, R record[M]](ctx context.Context, l *Loader, spec tableSpec) (TableStats, error) {
	stats := TableStats{Table: spec.target}
	builder := database.NewStruct(new(M))
	source := spec.source

	columns, err := l.sourceColumns(ctx, spec)
	if err != nil {
		return stats, err
	}

	for chunk, err := range readTable[R](ctx, l.source, source, columns, l.chunkSize) {
		if err != nil {
			return stats, fmt.Errorf("failed to read %s: %w", source, err)
		}
		stats.Read += len(chunk)

		rows := make([]any, 0, len(chunk))
		for _, rec := range chunk {
			m, err := convert[M](ctx, l.validate, rec)
			if err != nil {
				stats.Skipped++
				l.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
					"table": source,
					"id":    rec.key(),
				}).Warn("Skipping malformed row")
				continue
			}
			rows = append(rows, m)
		}
		if len(rows) == 0 {
			continue
		}

		inserted, err := l.insertChunk(ctx, builder, spec.target, spec.conflict, rows)
		if err != nil {
			return stats, err
		}
		stats.Inserted += inserted
		stats.Conflicts += len(rows) - inserted
	}
	return stats, nil
}

// sourceColumns returns the required columns plus the optional ones the
// source table actually has.
func (l *Loader) sourceColumns(ctx context.Context, spec tableSpec) ([]string, error) {
	columns := slices.Clone(spec.columns)
	if len(spec.optional) == 0 {
		return columns, nil
	}

	present, err := tableColumns(ctx, l.source, spec.source)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", spec.source, err)
	}
	for _, col := range spec.optional {
		if slices.Contains(present, col) {
			columns = append(columns, col)
			continue
		}
		l.logger.WithContext(ctx).WithFields(map[string]any{
			"table":  spec.source,
			"column": col,
		}).Info("Source column missing, loading defaults")
	}
	return columns, nil
}

func convert[M any, R record[M]](ctx context.Context, validate *validator.Validate, rec R) (M, error) {
	m, err := rec.toModel()
	if err != nil {
		return m, err
	}
	if err := validate.StructCtx(ctx, m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return m, fmt.Errorf("%w: %v", ErrMalformedRow, verrs)
		}
		return m, err
	}
	return m, nil
}

// insertChunk writes rows in one transaction and returns how many were new.
func (l *Loader) insertChunk(ctx context.Context, builder *database.Struct, table string, conflict []string, rows []any) (int, error) {
	txCtx, tx, err := l.target.GetTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(txCtx)
	}()

	query, args := builder.InsertInto(table, rows...).OnConflictDoNothing(conflict...).Build()
	res, err := tx.ExecContext(txCtx, query, args...)
	if err != nil {
		l.logger.WithContext(ctx).WithError(err).WithField("table", table).Error("Failed to insert chunk")
		return 0, fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	if err := tx.Commit(txCtx); err != nil {
		return 0, err
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(inserted), nil
}
