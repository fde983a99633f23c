// Package watermark persists, per entity kind, the modification time up to
// which changes have been published.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Min is the watermark of a kind that has never been synced.
var Min = time.Time{}

var ErrWatermarkRegression = errors.New("watermark regression")

type Store interface {
	// Get returns the committed watermark, persisting Min on first use.
	Get(ctx context.Context, kind models.Kind) (time.Time, error)
	// Set overwrites the watermark.
	Set(ctx context.Context, kind models.Kind, ts time.Time) error
}

// Monotonic rejects writes that would move a watermark backwards.
type Monotonic struct {
	store Store
	mu    sync.Mutex
}

func NewMonotonic(store Store) *Monotonic {
	return &Monotonic{store: store}
}

func (m *Monotonic) Get(ctx context.Context, kind models.Kind) (time.Time, error) {
	return m.store.Get(ctx, kind)
}

func (m *Monotonic) Set(ctx context.Context, kind models.Kind, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.Get(ctx, kind)
	if err != nil {
		return err
	}
	if ts.Before(current) {
		return fmt.Errorf("%w: %s %s < %s", ErrWatermarkRegression, kind,
			ts.Format(time.RFC3339Nano), current.Format(time.RFC3339Nano))
	}
	return m.store.Set(ctx, kind, ts)
}

func format(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func parse(kind models.Kind, value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return Min, fmt.Errorf("invalid watermark for %s: %w", kind, err)
	}
	return ts.UTC(), nil
}
