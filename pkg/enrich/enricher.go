package enrich

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/content"
)

const DefaultChunkSize = 1000

type Source interface {
	StreamAggregateRows(ctx context.Context, ids []string, fn func(content.AggregateRow) error) error
}

type Enricher struct {
	source    Source
	chunkSize int
	logger    ectologger.Logger
}

func NewEnricher(source Source, chunkSize int, logger ectologger.Logger) *Enricher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Enricher{
		source:    source,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Init drains ids into a new Target with one entry per distinct id.
func (e *Enricher) Init(ctx context.Context, ids iter.Seq2[[]string, error]) (*Target, error) {
	target := NewTarget()
	for chunk, err := range ids {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		target.Add(chunk...)
	}
	return target, nil
}

// Enrich runs one aggregate query per chunk of target ids and merges every
// row into target.
func (e *Enricher) Enrich(ctx context.Context, target *Target) error {
	log := e.logger.WithContext(ctx)

	for chunk := range slices.Chunk(target.IDs(), e.chunkSize) {
		err := e.source.StreamAggregateRows(ctx, chunk, func(row content.AggregateRow) error {
			known, conflicts := target.Merge(row)
			if !known {
				log.WithField("film_work_id", row.FilmWorkID).Warn("Skipping row for a film work outside the target set")
				return nil
			}
			if len(conflicts) > 0 {
				log.WithFields(map[string]any{
					"film_work_id": row.FilmWorkID,
					"fields":       conflicts,
				}).Warn("Joined rows disagree on film work fields, keeping the last row")
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to enrich film works: %w", err)
		}
	}

	stats := target.Stats()
	log.WithFields(map[string]any{
		"documents":        target.Len(),
		"rows":             stats.Rows,
		"unknown_rows":     stats.UnknownRows,
		"scalar_conflicts": stats.ScalarConflicts,
	}).Info("Merged film work rows")
	return nil
}
