package loader

import (
	"context"
	"fmt"
	"iter"
	"os"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens path read-only.
func OpenSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("sqlite source %s: %w", path, err)
	}

	db, err := sqlx.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite source %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open sqlite source %s: %w", path, err)
	}
	return db, nil
}

// tableColumns lists the columns of table. An unknown table has none.
func tableColumns(ctx context.Context, db *sqlx.DB, table string) ([]string, error) {
	var columns []string
	if err := db.SelectContext(ctx, &columns, `SELECT name FROM pragma_table_info(?)`, table); err != nil {
		return nil, err
	}
	return columns, nil
}

// readTable streams columns of table in chunks of chunkSize. The cursor stays
// open between chunks; stopping the iteration closes it.
func readTable[R any](ctx context.Context, db *sqlx.DB, table string, columns []string, chunkSize int) iter.Seq2[[]R, error] {
	return func(yield func([]R, error) bool) {
		sb := sqlbuilder.SQLite.NewSelectBuilder()
		sb.Select(columns...).From(table).OrderBy("rowid")
		query, args := sb.Build()

		rows, err := db.QueryxContext(ctx, query, args...)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()

		chunk := make([]R, 0, chunkSize)
		for rows.Next() {
			var r R
			if err := rows.StructScan(&r); err != nil {
				yield(nil, err)
				return
			}
			chunk = append(chunk, r)
			if len(chunk) == chunkSize {
				if !yield(chunk, nil) {
					return
				}
				chunk = make([]R, 0, chunkSize)
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
			return
		}
		if len(chunk) > 0 {
			yield(chunk, nil)
		}
	}
}
