package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/content"
	"github.com/Ramsey-B/fern/pkg/cascade"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/enrich"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/search"
	"github.com/Ramsey-B/fern/pkg/watermark"
)

var now = time.Date(2024, 6, 1, 10, 0, 0, 123456789, time.UTC)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type memStore struct {
	mu   sync.Mutex
	data map[models.Kind]time.Time
	err  error
}

func newMemStore() *memStore {
	return &memStore{data: map[models.Kind]time.Time{}}
}

func (s *memStore) Get(_ context.Context, kind models.Kind) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return watermark.Min, s.err
	}
	ts, ok := s.data[kind]
	if !ok {
		s.data[kind] = watermark.Min
		return watermark.Min, nil
	}
	return ts, nil
}

func (s *memStore) Set(_ context.Context, kind models.Kind, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[kind] = ts
	return nil
}

// fakeExtractor returns fixed ids per kind and remembers the watermark it was asked for.
type fakeExtractor struct {
	ids   map[models.Kind][]string
	err   map[models.Kind]error
	since map[models.Kind][]time.Time
}

func (e *fakeExtractor) Changes(_ context.Context, kind models.Kind, since time.Time) iter.Seq2[[]string, error] {
	if e.since == nil {
		e.since = map[models.Kind][]time.Time{}
	}
	e.since[kind] = append(e.since[kind], since)
	return func(yield func([]string, error) bool) {
		if err := e.err[kind]; err != nil {
			yield(nil, err)
			return
		}
		if ids := e.ids[kind]; len(ids) > 0 {
			yield(ids, nil)
		}
	}
}

// linkSource resolves persons and genres through a static relation.
type linkSource struct {
	links map[string][]string
}

func (s *linkSource) AffectedFilmWorks(_ context.Context, _ models.Kind, ids []string) ([]content.ChangedRow, error) {
	rows := []content.ChangedRow{}
	for _, id := range ids {
		for _, fw := range s.links[id] {
			rows = append(rows, content.ChangedRow{ID: fw})
		}
	}
	return rows, nil
}

// titleSource returns one row per film work titled after its id.
type titleSource struct{}

func (titleSource) StreamAggregateRows(_ context.Context, ids []string, fn func(content.AggregateRow) error) error {
	for _, id := range ids {
		if err := fn(content.AggregateRow{
			FilmWorkID: id,
			Title:      sql.NullString{String: "Title " + id, Valid: true},
		}); err != nil {
			return err
		}
	}
	return nil
}

type fakePublisher struct {
	published [][]models.Document
	reject    map[string]bool
	failures  int
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, docs iter.Seq[models.Document]) (search.Report, error) {
	if p.failures > 0 {
		p.failures--
		return search.Report{}, errors.New("connection refused")
	}
	if p.err != nil {
		return search.Report{}, p.err
	}

	var batch []models.Document
	report := search.Report{Succeeded: []string{}, Failed: []search.ItemFailure{}}
	for doc := range docs {
		batch = append(batch, doc)
		if p.reject[doc.ID] {
			report.Failed = append(report.Failed, search.ItemFailure{ID: doc.ID, Status: 400})
		} else {
			report.Succeeded = append(report.Succeeded, doc.ID)
		}
	}
	p.published = append(p.published, batch)
	if len(report.Failed) > 0 {
		return report, &search.PartialFailureError{Report: report}
	}
	return report, nil
}

type fakeTx struct {
	database.Tx
	rolledBack bool
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeDB struct {
	opts []*sql.TxOptions
	txs  []*fakeTx
}

func (db *fakeDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	tx := &fakeTx{}
	db.opts = append(db.opts, opts)
	db.txs = append(db.txs, tx)
	return ctx, tx, nil
}

type fakeLocker struct {
	held map[string]bool
	keys []string
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(ctx context.Context) error) error {
	l.keys = append(l.keys, key)
	if l.held[key] {
		return redis.ErrLockNotAcquired
	}
	return fn(ctx)
}

type fakeNotifier struct {
	events []*kafka.SyncEvent
}

func (n *fakeNotifier) PublishSyncEvent(_ context.Context, evt *kafka.SyncEvent) error {
	n.events = append(n.events, evt)
	return nil
}

type harness struct {
	store     *memStore
	extractor *fakeExtractor
	publisher *fakePublisher
	db        *fakeDB
}

func newHarness() *harness {
	return &harness{
		store: newMemStore(),
		extractor: &fakeExtractor{ids: map[models.Kind][]string{
			models.KindFilmWork: {"fw-1", "fw-2"},
			models.KindPerson:   {"p-1"},
			models.KindGenre:    {"g-1"},
		}},
		publisher: &fakePublisher{},
		db:        &fakeDB{},
	}
}

func (h *harness) driver(opts Options) *Driver {
	if opts.Now == nil {
		opts.Now = func() time.Time { return now }
	}
	logger := testLogger()
	links := &linkSource{links: map[string][]string{
		"p-1": {"fw-1", "fw-3"},
		"g-1": {"fw-2"},
	}}
	return NewDriver(
		h.db,
		watermark.NewMonotonic(h.store),
		h.extractor,
		cascade.NewResolver(links, 10, logger),
		enrich.NewEnricher(titleSource{}, 10, logger),
		h.publisher,
		opts,
		logger,
	)
}

func docIDs(docs []models.Document) []string {
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	return ids
}

func TestRunCycle_SyncsKindsInOrder(t *testing.T) {
	h := newHarness()
	d := h.driver(Options{})

	results, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, []models.Kind{models.KindFilmWork, models.KindPerson, models.KindGenre},
		[]models.Kind{results[0].Kind, results[1].Kind, results[2].Kind})

	require.Len(t, h.publisher.published, 3)
	assert.Equal(t, []string{"fw-1", "fw-2"}, docIDs(h.publisher.published[0]))
	assert.Equal(t, []string{"fw-1", "fw-3"}, docIDs(h.publisher.published[1]))
	assert.Equal(t, []string{"fw-2"}, docIDs(h.publisher.published[2]))
	assert.Equal(t, "Title fw-3", h.publisher.published[1][1].Title)

	assert.Equal(t, 1, results[1].Changed)
	assert.Equal(t, 2, results[1].Documents)
}

func TestRunCycle_AdvancesToCapturedStartTime(t *testing.T) {
	h := newHarness()
	d := h.driver(Options{})

	_, err := d.RunCycle(context.Background())
	require.NoError(t, err)

	want := now.Truncate(time.Microsecond)
	for _, kind := range models.Kinds() {
		assert.True(t, h.store.data[kind].Equal(want), "kind %s", kind)
	}
}

func TestRunCycle_WatermarkNeverRegresses(t *testing.T) {
	h := newHarness()
	future := now.Add(time.Hour)
	h.store.data[models.KindFilmWork] = future
	d := h.driver(Options{})

	results, err := d.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, h.store.data[models.KindFilmWork].Equal(future))
	assert.True(t, results[0].Watermark.Equal(future))
	assert.Equal(t, []time.Time{future}, h.extractor.since[models.KindFilmWork])
}

func TestRunCycle_PartialFailureKeepsWatermark(t *testing.T) {
	h := newHarness()
	h.publisher.reject = map[string]bool{"fw-3": true}
	d := h.driver(Options{})

	results, err := d.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, search.ErrPartialFailure)

	// person is the only kind whose documents include fw-3
	assert.True(t, h.store.data[models.KindPerson].Equal(watermark.Min))
	assert.False(t, h.store.data[models.KindFilmWork].Equal(watermark.Min))
	assert.False(t, h.store.data[models.KindGenre].Equal(watermark.Min))

	var se *StageError
	require.True(t, errors.As(results[1].Err, &se))
	assert.Equal(t, StagePublishing, se.Stage)
	assert.Equal(t, []string{"fw-1"}, results[1].Report.Succeeded)
}

func TestRunCycle_FailedKindIsRetriedFromSameWatermark(t *testing.T) {
	h := newHarness()
	h.publisher.err = errors.New("cluster unavailable")
	d := h.driver(Options{Kinds: []models.Kind{models.KindFilmWork}})

	_, err := d.RunCycle(context.Background())
	require.Error(t, err)

	h.publisher.err = nil
	_, err = d.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Time{watermark.Min, watermark.Min}, h.extractor.since[models.KindFilmWork])
	require.Len(t, h.publisher.published, 1)
	assert.Equal(t, []string{"fw-1", "fw-2"}, docIDs(h.publisher.published[0]))
}

func TestRunCycle_ExtractionErrorAbortsOnlyThatKind(t *testing.T) {
	h := newHarness()
	h.extractor.err = map[models.Kind]error{models.KindFilmWork: errors.New("relation does not exist")}
	d := h.driver(Options{})

	results, err := d.RunCycle(context.Background())
	require.Error(t, err)

	var se *StageError
	require.True(t, errors.As(results[0].Err, &se))
	assert.Equal(t, StageExtracting, se.Stage)
	assert.Equal(t, models.KindFilmWork, se.Kind)

	assert.True(t, h.store.data[models.KindFilmWork].Equal(watermark.Min))
	assert.NoError(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Len(t, h.publisher.published, 2)
}

func TestRunCycle_WatermarkReadErrorAbortsKind(t *testing.T) {
	h := newHarness()
	h.store.err = errors.New("disk full")
	d := h.driver(Options{Kinds: []models.Kind{models.KindGenre}})

	results, err := d.RunCycle(context.Background())
	require.Error(t, err)
	assert.Empty(t, h.publisher.published)
	assert.ErrorIs(t, results[0].Err, h.store.err)
}

func TestRunCycle_NoChangesAdvancesWithoutPublishing(t *testing.T) {
	h := newHarness()
	h.extractor.ids = map[models.Kind][]string{}
	d := h.driver(Options{Kinds: []models.Kind{models.KindGenre}})

	results, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.publisher.published)
	assert.Zero(t, results[0].Documents)
	assert.True(t, h.store.data[models.KindGenre].Equal(now.Truncate(time.Microsecond)))
}

func TestRunCycle_ExportAfterAppliesToFirstCycleOnly(t *testing.T) {
	h := newHarness()
	h.store.data[models.KindFilmWork] = now.Add(-time.Minute)
	exportAfter := now.Add(-24 * time.Hour)
	d := h.driver(Options{Kinds: []models.Kind{models.KindFilmWork}, ExportAfter: &exportAfter})

	_, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	_, err = d.RunCycle(context.Background())
	require.NoError(t, err)

	since := h.extractor.since[models.KindFilmWork]
	require.Len(t, since, 2)
	assert.True(t, since[0].Equal(exportAfter))
	assert.True(t, since[1].Equal(now.Truncate(time.Microsecond)))
}

func TestRunCycle_UsesReadOnlyTransactionPerKind(t *testing.T) {
	h := newHarness()
	d := h.driver(Options{})

	_, err := d.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, h.db.txs, 3)
	for i, tx := range h.db.txs {
		assert.True(t, tx.rolledBack)
		assert.True(t, h.db.opts[i].ReadOnly)
		assert.Equal(t, sql.LevelRepeatableRead, h.db.opts[i].Isolation)
	}
}

func TestRunCycle_RetriesTransientFailures(t *testing.T) {
	h := newHarness()
	h.publisher.failures = 2
	d := h.driver(Options{
		Kinds: []models.Kind{models.KindFilmWork},
		Retry: &retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2},
	})

	results, err := d.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, results[0].Documents)
	assert.Len(t, h.extractor.since[models.KindFilmWork], 3)
}

func TestRunCycle_SkipsLockedKinds(t *testing.T) {
	h := newHarness()
	locker := &fakeLocker{held: map[string]bool{"sync:person": true}}
	d := h.driver(Options{Locker: locker})

	results, err := d.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"sync:film_work", "sync:person", "sync:genre"}, locker.keys)
	assert.True(t, results[1].Skipped)
	assert.True(t, h.store.data[models.KindPerson].Equal(watermark.Min))
	assert.Len(t, h.publisher.published, 2)
}

func TestRunCycle_NotifiesAfterSuccess(t *testing.T) {
	h := newHarness()
	h.publisher.reject = map[string]bool{"fw-2": true}
	notifier := &fakeNotifier{}
	d := h.driver(Options{Notifier: notifier})

	_, err := d.RunCycle(context.Background())
	require.Error(t, err)

	require.Len(t, notifier.events, 1)
	evt := notifier.events[0]
	assert.Equal(t, "person", evt.Kind)
	assert.Equal(t, 1, evt.Changed)
	assert.Equal(t, 2, evt.Published)
	assert.NotEmpty(t, evt.CycleID)
}

func TestStatus(t *testing.T) {
	h := newHarness()
	h.extractor.err = map[models.Kind]error{models.KindGenre: errors.New("boom")}
	d := h.driver(Options{})

	for _, s := range d.Status() {
		assert.Equal(t, StageIdle, s.Stage)
		assert.Nil(t, s.LastStartedAt)
	}

	_, _ = d.RunCycle(context.Background())

	status := d.Status()
	require.Len(t, status, 3)
	assert.Equal(t, models.KindFilmWork, status[0].Kind)
	require.NotNil(t, status[0].Watermark)
	assert.Empty(t, status[0].LastError)
	assert.Contains(t, status[2].LastError, "boom")
	assert.Nil(t, status[2].LastSuccessAt)
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness()
	d := h.driver(Options{Kinds: []models.Kind{models.KindFilmWork}})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, d.Run(ctx, 10*time.Millisecond))
	assert.GreaterOrEqual(t, len(h.extractor.since[models.KindFilmWork]), 2)
}
