package watermark

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

const watermarkTable = "etl.watermarks"

// PostgresStore keeps watermarks in etl.watermarks.
type PostgresStore struct {
	db database.DB
}

func NewPostgresStore(db database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, kind models.Kind) (time.Time, error) {
	sb := database.NewSelectBuilder()
	sb.Select("watermark").From(watermarkTable).Where(sb.Equal("kind", string(kind)))
	query, args := sb.Build()

	var ts time.Time
	err := s.db.GetContext(ctx, &ts, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		ib := database.NewInsertBuilder().
			InsertInto(watermarkTable).
			Cols("kind", "watermark").
			Values(string(kind), Min).
			OnConflictDoNothing("kind")
		query, args := ib.Build()
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return Min, fmt.Errorf("failed to initialize watermark for %s: %w", kind, err)
		}
		return Min, nil
	}
	if err != nil {
		return Min, fmt.Errorf("failed to read watermark for %s: %w", kind, err)
	}
	return ts.UTC(), nil
}

func (s *PostgresStore) Set(ctx context.Context, kind models.Kind, ts time.Time) error {
	query, args := upsertQuery(kind, ts, time.Now().UTC())
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to write watermark for %s: %w", kind, err)
	}
	return nil
}

func upsertQuery(kind models.Kind, ts time.Time, now time.Time) (string, []any) {
	ib := database.NewInsertBuilder().
		InsertInto(watermarkTable).
		Cols("kind", "watermark", "updated_at").
		Values(string(kind), ts.UTC(), now)
	ub := ib.OnConflict("kind")
	ub.Set(
		ub.Assign("watermark", database.Excluded("watermark")),
		ub.Assign("updated_at", database.Excluded("updated_at")),
	)
	return ib.Build()
}
