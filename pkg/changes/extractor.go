// Package changes streams the ids of rows modified after a watermark.
package changes

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/content"
	"github.com/Ramsey-B/fern/pkg/models"
)

const DefaultChunkSize = 1000

type Source interface {
	ChangedSince(ctx context.Context, kind models.Kind, since time.Time, after *content.Cursor, limit int) ([]content.ChangedRow, error)
}

type Extractor struct {
	source    Source
	chunkSize int
	logger    ectologger.Logger
}

func NewExtractor(source Source, chunkSize int, logger ectologger.Logger) *Extractor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Extractor{
		source:    source,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Changes yields chunks of ids of kind with updated_at > since, ascending by
// (updated_at, id). Each chunk is one keyset query, so iteration can stop at
// any point without holding a cursor open. A query error is yielded once and
// ends the sequence.
func (e *Extractor) Changes(ctx context.Context, kind models.Kind, since time.Time) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		var cursor *content.Cursor
		for page := 1; ; page++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			rows, err := e.source.ChangedSince(ctx, kind, since, cursor, e.chunkSize)
			if err != nil {
				yield(nil, fmt.Errorf("failed to extract %s changes: %w", kind, err))
				return
			}
			if len(rows) == 0 {
				return
			}

			ids := make([]string, len(rows))
			for i, row := range rows {
				ids[i] = row.ID
			}
			last := rows[len(rows)-1]
			cursor = &content.Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID}

			e.logger.WithContext(ctx).WithFields(map[string]any{
				"kind":  kind,
				"page":  page,
				"count": len(ids),
			}).Debug("Extracted changed ids")

			if !yield(ids, nil) {
				return
			}
			if len(rows) < e.chunkSize {
				return
			}
		}
	}
}
