package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestParseConfig(t *testing.T) {
	cfg := ParseConfig("a:9092, b:9092 ", "fern.sync")
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers)
	assert.Equal(t, "fern.sync", cfg.Topic)
}

func TestPublishSyncEvent(t *testing.T) {
	writer := &recordingWriter{}
	p := NewProducerWithWriter(writer, "fern.sync", testLogger())

	watermark := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err := p.PublishSyncEvent(context.Background(), &SyncEvent{
		CycleID:     "cycle-1",
		Kind:        "person",
		Watermark:   watermark,
		Changed:     2,
		Published:   3,
		DocumentIDs: []string{"fw-1", "fw-2", "fw-3"},
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "person", string(msg.Key))
	assert.Equal(t, SyncCompletedEvent, header(msg, "type"))
	assert.Equal(t, "cycle-1", header(msg, "cycle_id"))

	var evt SyncEvent
	require.NoError(t, json.Unmarshal(msg.Value, &evt))
	assert.Equal(t, SyncCompletedEvent, evt.Type)
	assert.Equal(t, 3, evt.Published)
	assert.True(t, evt.Watermark.Equal(watermark))
	assert.False(t, evt.Timestamp.IsZero())
}

func TestPublishSyncEvent_Errors(t *testing.T) {
	boom := errors.New("leader not available")
	p := NewProducerWithWriter(&recordingWriter{err: boom}, "fern.sync", testLogger())

	assert.ErrorIs(t, p.PublishSyncEvent(context.Background(), &SyncEvent{Kind: "genre"}), boom)
	assert.Error(t, p.PublishSyncEvent(context.Background(), nil))
}

func TestClose(t *testing.T) {
	writer := &recordingWriter{}
	p := NewProducerWithWriter(writer, "fern.sync", testLogger())
	require.NoError(t, p.Close())
	assert.True(t, writer.closed)
}
