// Package content reads the film catalogue tables. Every method runs on the
// transaction carried by ctx when there is one.
package content

import (
	"context"
	"database/sql"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ChangedRow is one id with its modification time.
type ChangedRow struct {
	ID        string    `db:"id"`
	UpdatedAt time.Time `db:"updated_at"`
}

// AggregateRow is one film work joined with at most one participant and one
// genre. Join sides are null when the film has none.
type AggregateRow struct {
	FilmWorkID  string          `db:"fw_id"`
	Title       sql.NullString  `db:"title"`
	Description sql.NullString  `db:"description"`
	Rating      sql.NullFloat64 `db:"rating"`
	Role        sql.NullString  `db:"role"`
	PersonID    sql.NullString  `db:"person_id"`
	PersonName  sql.NullString  `db:"full_name"`
	GenreName   sql.NullString  `db:"genre_name"`
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) queryer(ctx context.Context) database.Queryer {
	return database.QueryerFromContext(ctx, r.db)
}

// ChangedSince returns one page of rows of kind modified after since.
func (r *Repository) ChangedSince(ctx context.Context, kind models.Kind, since time.Time, after *Cursor, limit int) ([]ChangedRow, error) {
	ctx, span := tracing.StartSpan(ctx, "ContentRepository.ChangedSince")
	defer span.End()

	query, args := changedQuery(kind, since, after, limit)

	rows := []ChangedRow{}
	if err := r.queryer(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":  kind,
			"since": since,
		}).Error("Failed to select changed rows")
		return nil, err
	}
	return rows, nil
}

// AffectedFilmWorks returns the distinct film works linked to ids of kind.
func (r *Repository) AffectedFilmWorks(ctx context.Context, kind models.Kind, ids []string) ([]ChangedRow, error) {
	if len(ids) == 0 {
		return []ChangedRow{}, nil
	}

	ctx, span := tracing.StartSpan(ctx, "ContentRepository.AffectedFilmWorks")
	defer span.End()

	query, args, err := affectedFilmWorksQuery(kind, ids)
	if err != nil {
		return nil, err
	}

	rows := []ChangedRow{}
	if err := r.queryer(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":  kind,
			"count": len(ids),
		}).Error("Failed to select affected film works")
		return nil, err
	}
	return rows, nil
}

// StreamAggregateRows calls fn for every joined row of the given film works.
// The cursor is closed before it returns.
func (r *Repository) StreamAggregateRows(ctx context.Context, ids []string, fn func(AggregateRow) error) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "ContentRepository.StreamAggregateRows")
	defer span.End()

	query, args := aggregateQuery(ids)
	rows, err := r.queryer(ctx).QueryxContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("count", len(ids)).Error("Failed to query film work aggregates")
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var row AggregateRow
		if err := rows.StructScan(&row); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}
