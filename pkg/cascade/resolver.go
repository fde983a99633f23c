// Package cascade maps changed persons and genres to the film works whose
// documents embed them.
package cascade

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/content"
	"github.com/Ramsey-B/fern/pkg/models"
)

const DefaultChunkSize = 1000

type Source interface {
	AffectedFilmWorks(ctx context.Context, kind models.Kind, ids []string) ([]content.ChangedRow, error)
}

type Resolver struct {
	source    Source
	chunkSize int
	logger    ectologger.Logger
}

func NewResolver(source Source, chunkSize int, logger ectologger.Logger) *Resolver {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Resolver{
		source:    source,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Resolve yields chunks of film work ids affected by the changed ids of kind.
// The root kind passes through unchanged. Each input chunk costs one query;
// a film work linked from several input chunks is yielded once per chunk.
// An empty input chunk ends the sequence.
func (r *Resolver) Resolve(ctx context.Context, kind models.Kind, changed iter.Seq2[[]string, error]) iter.Seq2[[]string, error] {
	if kind.IsRoot() {
		return changed
	}

	return func(yield func([]string, error) bool) {
		for ids, err := range changed {
			if err != nil {
				yield(nil, err)
				return
			}
			if len(ids) == 0 {
				return
			}

			rows, err := r.source.AffectedFilmWorks(ctx, kind, ids)
			if err != nil {
				yield(nil, fmt.Errorf("failed to resolve film works for %s: %w", kind, err))
				return
			}

			r.logger.WithContext(ctx).WithFields(map[string]any{
				"kind":     kind,
				"changed":  len(ids),
				"affected": len(rows),
			}).Debug("Resolved affected film works")

			filmWorkIDs := make([]string, len(rows))
			for i, row := range rows {
				filmWorkIDs[i] = row.ID
			}
			for chunk := range slices.Chunk(filmWorkIDs, r.chunkSize) {
				if !yield(chunk, nil) {
					return
				}
			}
		}
	}
}
