// Package pipeline runs the per-kind incremental sync: extract changed ids,
// resolve them to film works, build documents, publish them and advance the
// watermark.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/enrich"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/search"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/watermark"
)

const DefaultLockTTL = 10 * time.Minute

type Extractor interface {
	Changes(ctx context.Context, kind models.Kind, since time.Time) iter.Seq2[[]string, error]
}

type Resolver interface {
	Resolve(ctx context.Context, kind models.Kind, changed iter.Seq2[[]string, error]) iter.Seq2[[]string, error]
}

type Enricher interface {
	Init(ctx context.Context, ids iter.Seq2[[]string, error]) (*enrich.Target, error)
	Enrich(ctx context.Context, target *enrich.Target) error
}

type Publisher interface {
	Publish(ctx context.Context, docs iter.Seq[models.Document]) (search.Report, error)
}

// TxBeginner opens the read transaction a kind's sync runs in. database.DB
// satisfies it.
type TxBeginner interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

type Notifier interface {
	PublishSyncEvent(ctx context.Context, evt *kafka.SyncEvent) error
}

// Options holds the optional parts of a Driver. The zero value syncs every
// kind once per cycle with no retry, lock, notification or timeout.
type Options struct {
	Kinds []models.Kind
	// ExportAfter replaces the stored watermark during the first cycle only.
	ExportAfter  *time.Time
	QueryTimeout time.Duration
	Retry        *retry.Config
	Locker       Locker
	LockTTL      time.Duration
	Notifier     Notifier
	Now          func() time.Time
}

// Result describes one kind's sync.
type Result struct {
	Kind      models.Kind
	Changed   int
	Documents int
	Report    search.Report
	Watermark time.Time
	Skipped   bool
	Err       error
}

// KindStatus is the last observed state of a kind.
type KindStatus struct {
	Kind          models.Kind `json:"kind"`
	Stage         Stage       `json:"stage"`
	LastStartedAt *time.Time  `json:"last_started_at,omitempty"`
	LastSuccessAt *time.Time  `json:"last_success_at,omitempty"`
	LastError     string      `json:"last_error,omitempty"`
	Watermark     *time.Time  `json:"watermark,omitempty"`
}

type Driver struct {
	db         TxBeginner
	watermarks watermark.Store
	extractor  Extractor
	resolver   Resolver
	enricher   Enricher
	publisher  Publisher
	opts       Options
	logger     ectologger.Logger

	mu          sync.Mutex
	exportAfter *time.Time
	status      map[models.Kind]*KindStatus
}

func NewDriver(
	db TxBeginner,
	watermarks watermark.Store,
	extractor Extractor,
	resolver Resolver,
	enricher Enricher,
	publisher Publisher,
	opts Options,
	logger ectologger.Logger,
) *Driver {
	if len(opts.Kinds) == 0 {
		opts.Kinds = models.Kinds()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	status := make(map[models.Kind]*KindStatus, len(opts.Kinds))
	for _, kind := range opts.Kinds {
		status[kind] = &KindStatus{Kind: kind, Stage: StageIdle}
	}

	return &Driver{
		db:          db,
		watermarks:  watermarks,
		extractor:   extractor,
		resolver:    resolver,
		enricher:    enricher,
		publisher:   publisher,
		opts:        opts,
		logger:      logger,
		exportAfter: opts.ExportAfter,
		status:      status,
	}
}

// RunCycle syncs every kind in order. A failed kind does not stop the cycle;
// the failures are joined into the returned error.
func (d *Driver) RunCycle(ctx context.Context) ([]Result, error) {
	ctx = appctx.SetCycleID(ctx, uuid.New().String())
	ctx, span := tracing.StartSpan(ctx, "Pipeline.RunCycle")
	defer span.End()

	d.mu.Lock()
	override := d.exportAfter
	d.exportAfter = nil
	d.mu.Unlock()

	log := d.logger.WithContext(ctx).WithFields(appctx.LogFields(ctx))
	log.Info("Starting sync cycle")

	results := make([]Result, 0, len(d.opts.Kinds))
	var errs []error
	for _, kind := range d.opts.Kinds {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		result := d.syncKind(ctx, kind, override)
		results = append(results, result)
		if result.Err != nil {
			errs = append(errs, result.Err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		log.WithError(err).Warn("Sync cycle finished with failures")
	} else {
		log.Info("Sync cycle finished")
	}
	return results, err
}

func (d *Driver) syncKind(ctx context.Context, kind models.Kind, override *time.Time) Result {
	ctx = appctx.SetKind(ctx, kind.String())
	ctx, span := tracing.StartSpan(ctx, "Pipeline.SyncKind")
	defer span.End()
	span.SetAttributes(attribute.String("kind", kind.String()))

	if d.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.QueryTimeout)
		defer cancel()
	}

	started := d.opts.Now()
	d.updateStatus(kind, func(s *KindStatus) {
		s.LastStartedAt = &started
	})

	var result Result
	run := func(ctx context.Context) error {
		var err error
		result, err = d.sync(ctx, kind, override)
		return err
	}
	if d.opts.Retry != nil {
		inner := run
		run = func(ctx context.Context) error {
			return retry.Do(ctx, d.opts.Retry, inner)
		}
	}

	var err error
	if d.opts.Locker != nil {
		err = d.opts.Locker.WithLock(ctx, "sync:"+kind.String(), d.opts.LockTTL, run)
	} else {
		err = run(ctx)
	}

	log := d.logger.WithContext(ctx).WithFields(appctx.LogFields(ctx))
	duration := d.opts.Now().Sub(started)

	if errors.Is(err, redis.ErrLockNotAcquired) {
		log.Info("Another process holds the sync lock, skipping")
		metrics.RecordSync(kind.String(), "skipped", duration)
		return Result{Kind: kind, Skipped: true}
	}

	if err != nil {
		stage := StageIdle
		var se *StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		span.RecordError(err)
		metrics.RecordStageFailure(kind.String(), string(stage))
		metrics.RecordSync(kind.String(), "failed", duration)
		log.WithError(err).WithField("stage", stage).Error("Sync failed, watermark not advanced")

		d.updateStatus(kind, func(s *KindStatus) {
			s.Stage = StageIdle
			s.LastError = err.Error()
		})
		result.Kind = kind
		result.Err = err
		return result
	}

	metrics.RecordSync(kind.String(), "success", duration)
	metrics.RecordWatermark(kind.String(), result.Watermark)
	d.updateStatus(kind, func(s *KindStatus) {
		finished := d.opts.Now()
		wm := result.Watermark
		s.LastSuccessAt = &finished
		s.LastError = ""
		s.Watermark = &wm
	})

	d.notify(ctx, result)
	return result
}

// sync runs the stages once. The committed watermark is the later of the
// stored one and the time captured before extraction, truncated to the
// precision the store keeps.
func (d *Driver) sync(ctx context.Context, kind models.Kind, override *time.Time) (Result, error) {
	result := Result{Kind: kind}

	d.enter(ctx, kind, StageExtracting)
	stored, err := d.watermarks.Get(ctx, kind)
	if err != nil {
		return result, stageError(kind, StageExtracting, err)
	}
	since := stored
	if override != nil {
		since = *override
	}
	start := d.opts.Now().UTC().Truncate(time.Microsecond)

	target, err := d.buildDocuments(ctx, kind, since, &result)
	if err != nil {
		return result, err
	}
	result.Documents = target.Len()

	d.enter(ctx, kind, StagePublishing)
	if target.Len() > 0 {
		report, err := d.publisher.Publish(ctx, target.Documents())
		result.Report = report
		metrics.RecordPublished(len(report.Succeeded), len(report.Failed))
		if err != nil {
			return result, stageError(kind, StagePublishing, err)
		}
	}

	d.enter(ctx, kind, StageAdvancing)
	next := stored
	if start.After(next) {
		next = start
	}
	if err := d.watermarks.Set(ctx, kind, next); err != nil {
		return result, stageError(kind, StageAdvancing, err)
	}
	result.Watermark = next

	d.enter(ctx, kind, StageIdle)
	d.logger.WithContext(ctx).WithFields(appctx.LogFields(ctx)).WithFields(map[string]any{
		"since":     since.Format(time.RFC3339Nano),
		"watermark": next.Format(time.RFC3339Nano),
		"changed":   result.Changed,
		"documents": result.Documents,
	}).Info("Sync complete")
	return result, nil
}

// buildDocuments runs extraction, resolution and enrichment inside one
// read-only repeatable-read transaction, released before publishing.
func (d *Driver) buildDocuments(ctx context.Context, kind models.Kind, since time.Time, result *Result) (*enrich.Target, error) {
	if d.db != nil {
		txCtx, tx, err := d.db.GetTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
		if err != nil {
			return nil, stageError(kind, StageExtracting, err)
		}
		defer func() {
			if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
				d.logger.WithContext(ctx).WithError(err).Warn("Failed to release sync transaction")
			}
		}()
		ctx = txCtx
	}

	ids := tagged(kind, StageExtracting, counted(&result.Changed, d.extractor.Changes(ctx, kind, since)))
	if !kind.IsRoot() {
		d.enter(ctx, kind, StageResolving)
		ids = tagged(kind, StageResolving, d.resolver.Resolve(ctx, kind, ids))
	}

	d.enter(ctx, kind, StageEnriching)
	target, err := d.enricher.Init(ctx, ids)
	if err != nil {
		return nil, stageError(kind, StageEnriching, err)
	}
	if target.Len() == 0 {
		return target, nil
	}
	if err := d.enricher.Enrich(ctx, target); err != nil {
		return nil, stageError(kind, StageEnriching, err)
	}
	metrics.RecordScalarConflicts(kind.String(), target.Stats().ScalarConflicts)
	return target, nil
}

func (d *Driver) enter(ctx context.Context, kind models.Kind, stage Stage) {
	d.updateStatus(kind, func(s *KindStatus) {
		s.Stage = stage
	})
	ctx = appctx.SetStage(ctx, string(stage))
	d.logger.WithContext(ctx).WithFields(appctx.LogFields(ctx)).Debug("Entering sync stage")
}

func (d *Driver) notify(ctx context.Context, result Result) {
	if d.opts.Notifier == nil {
		return
	}
	evt := &kafka.SyncEvent{
		CycleID:     appctx.GetCycleID(ctx),
		Kind:        result.Kind.String(),
		Watermark:   result.Watermark,
		Changed:     result.Changed,
		Published:   len(result.Report.Succeeded),
		DocumentIDs: result.Report.Succeeded,
	}
	if err := d.opts.Notifier.PublishSyncEvent(ctx, evt); err != nil {
		d.logger.WithContext(ctx).WithError(err).Warn("Failed to publish sync event")
	}
}

func (d *Driver) updateStatus(kind models.Kind, fn func(s *KindStatus)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.status[kind]
	if !ok {
		s = &KindStatus{Kind: kind, Stage: StageIdle}
		d.status[kind] = s
	}
	fn(s)
}

// Status returns a copy of every kind's state in sync order.
func (d *Driver) Status() []KindStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]KindStatus, 0, len(d.opts.Kinds))
	for _, kind := range d.opts.Kinds {
		out = append(out, *d.status[kind])
	}
	return out
}
