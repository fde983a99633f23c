// Package search writes film documents to Elasticsearch.
package search

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"iter"

	"github.com/Gobusters/ectologger"
	"github.com/olivere/elastic/v7"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const DefaultChunkSize = 1000

//go:embed mapping.json
var indexMapping string

// ErrPartialFailure is matched by a *PartialFailureError.
var ErrPartialFailure = errors.New("some documents were not indexed")

// Config holds Elasticsearch connection settings
type Config struct {
	URLs      []string
	Index     string
	ChunkSize int
	Sniff     bool
}

// NewClient creates an Elasticsearch client. Extra options are applied after
// the ones derived from cfg.
func NewClient(cfg Config, opts ...elastic.ClientOptionFunc) (*elastic.Client, error) {
	options := []elastic.ClientOptionFunc{
		elastic.SetURL(cfg.URLs...),
		elastic.SetSniff(cfg.Sniff),
	}
	options = append(options, opts...)

	client, err := elastic.NewClient(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return client, nil
}

// ItemFailure describes one document the bulk API rejected.
type ItemFailure struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Report lists the outcome of every document sent by Publish.
type Report struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []ItemFailure `json:"failed"`
}

func (r Report) Total() int {
	return len(r.Succeeded) + len(r.Failed)
}

// PartialFailureError is returned when the bulk requests succeeded but some
// items did not.
type PartialFailureError struct {
	Report Report
}

func (e *PartialFailureError) Error() string {
	msg := fmt.Sprintf("%d of %d documents failed to index", len(e.Report.Failed), e.Report.Total())
	if len(e.Report.Failed) > 0 {
		first := e.Report.Failed[0]
		msg += fmt.Sprintf(" (first: %s %s: %s)", first.ID, first.Type, first.Reason)
	}
	return msg
}

func (e *PartialFailureError) Unwrap() error {
	return ErrPartialFailure
}

type Publisher struct {
	client    *elastic.Client
	index     string
	chunkSize int
	logger    ectologger.Logger
}

func NewPublisher(client *elastic.Client, index string, chunkSize int, logger ectologger.Logger) *Publisher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Publisher{
		client:    client,
		index:     index,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

func (p *Publisher) Index() string {
	return p.index
}

// Publish indexes docs with _id set to the document id, chunkSize documents
// per bulk request. A failed request stops publishing and is returned as is;
// rejected items are collected and returned as a *PartialFailureError once
// every chunk has been sent.
func (p *Publisher) Publish(ctx context.Context, docs iter.Seq[models.Document]) (Report, error) {
	ctx, span := tracing.StartSpan(ctx, "Search.Publish")
	defer span.End()

	report := Report{Succeeded: []string{}, Failed: []ItemFailure{}}

	batch := make([]models.Document, 0, p.chunkSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.bulk(ctx, batch, &report); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for doc := range docs {
		batch = append(batch, doc)
		if len(batch) == p.chunkSize {
			if err := flush(); err != nil {
				span.RecordError(err)
				return report, err
			}
		}
	}
	if err := flush(); err != nil {
		span.RecordError(err)
		return report, err
	}

	span.SetAttributes(
		attribute.Int("search.succeeded", len(report.Succeeded)),
		attribute.Int("search.failed", len(report.Failed)),
	)

	if len(report.Failed) > 0 {
		return report, &PartialFailureError{Report: report}
	}
	return report, nil
}

func (p *Publisher) bulk(ctx context.Context, docs []models.Document, report *Report) error {
	bulk := p.client.Bulk()
	for _, doc := range docs {
		bulk.Add(elastic.NewBulkIndexRequest().Index(p.index).Id(doc.ID).Doc(doc))
	}

	resp, err := bulk.Do(ctx)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("documents", len(docs)).Error("Bulk request failed")
		return fmt.Errorf("failed to bulk index %d documents: %w", len(docs), err)
	}

	for _, item := range resp.Succeeded() {
		report.Succeeded = append(report.Succeeded, item.Id)
	}
	for _, item := range resp.Failed() {
		failure := ItemFailure{ID: item.Id, Status: item.Status}
		if item.Error != nil {
			failure.Type = item.Error.Type
			failure.Reason = item.Error.Reason
		}
		report.Failed = append(report.Failed, failure)
	}

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"index":     p.index,
		"documents": len(docs),
		"failed":    len(resp.Failed()),
	})
	if len(resp.Failed()) > 0 {
		log.Warn("Bulk request had rejected documents")
	} else {
		log.Debug("Bulk request indexed all documents")
	}
	return nil
}

// EnsureIndex creates the index from the embedded mapping when it does not
// exist. It reports whether the index was created.
func (p *Publisher) EnsureIndex(ctx context.Context) (bool, error) {
	exists, err := p.client.IndexExists(p.index).Do(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check index %s: %w", p.index, err)
	}
	if exists {
		return false, nil
	}

	if _, err := p.client.CreateIndex(p.index).BodyString(indexMapping).Do(ctx); err != nil {
		return false, fmt.Errorf("failed to create index %s: %w", p.index, err)
	}
	p.logger.WithContext(ctx).WithField("index", p.index).Info("Created search index")
	return true, nil
}

// DeleteIndex removes the index. A missing index is not an error.
func (p *Publisher) DeleteIndex(ctx context.Context) error {
	_, err := p.client.DeleteIndex(p.index).Do(ctx)
	if err != nil && !elastic.IsNotFound(err) {
		return fmt.Errorf("failed to delete index %s: %w", p.index, err)
	}
	p.logger.WithContext(ctx).WithField("index", p.index).Info("Deleted search index")
	return nil
}

// Ping reports whether the cluster answers a health request.
func (p *Publisher) Ping(ctx context.Context) error {
	if _, err := p.client.ClusterHealth().Do(ctx); err != nil {
		return fmt.Errorf("elasticsearch unavailable: %w", err)
	}
	return nil
}
