package cascade

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/content"
	"github.com/Ramsey-B/fern/pkg/models"
)

// linkSource resolves through a static person/genre -> film works relation.
type linkSource struct {
	links   map[string][]string
	queries [][]string
	err     error
}

func (s *linkSource) AffectedFilmWorks(_ context.Context, _ models.Kind, ids []string) ([]content.ChangedRow, error) {
	s.queries = append(s.queries, ids)
	if s.err != nil {
		return nil, s.err
	}
	seen := map[string]bool{}
	rows := []content.ChangedRow{}
	for _, id := range ids {
		for _, fw := range s.links[id] {
			if !seen[fw] {
				seen[fw] = true
				rows = append(rows, content.ChangedRow{ID: fw})
			}
		}
	}
	return rows, nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func chunksOf(chunks ...[]string) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		for _, chunk := range chunks {
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func drain(seq iter.Seq2[[]string, error]) ([][]string, error) {
	var out [][]string
	for ids, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, ids)
	}
	return out, nil
}

func TestResolve_RootPassesThrough(t *testing.T) {
	source := &linkSource{}
	r := NewResolver(source, 10, testLogger())

	out, err := drain(r.Resolve(context.Background(), models.KindFilmWork, chunksOf([]string{"fw-1", "fw-2"})))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"fw-1", "fw-2"}}, out)
	assert.Empty(t, source.queries)
}

func TestResolve_EveryLinkedFilmWorkIsYielded(t *testing.T) {
	source := &linkSource{links: map[string][]string{
		"p-1": {"fw-1", "fw-2"},
		"p-2": {"fw-2", "fw-3"},
		"p-3": {"fw-4"},
		"p-4": nil,
	}}
	r := NewResolver(source, 2, testLogger())

	out, err := drain(r.Resolve(context.Background(), models.KindPerson,
		chunksOf([]string{"p-1", "p-2"}, []string{"p-3", "p-4"})))
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"fw-1", "fw-2"}, {"fw-3"}, {"fw-4"}}, out)
	assert.Equal(t, [][]string{{"p-1", "p-2"}, {"p-3", "p-4"}}, source.queries, "one query per input chunk")
}

func TestResolve_DuplicatesAcrossInputChunksAreTolerated(t *testing.T) {
	source := &linkSource{links: map[string][]string{
		"g-1": {"fw-1"},
		"g-2": {"fw-1"},
	}}
	r := NewResolver(source, 10, testLogger())

	out, err := drain(r.Resolve(context.Background(), models.KindGenre, chunksOf([]string{"g-1"}, []string{"g-2"})))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"fw-1"}, {"fw-1"}}, out)
}

func TestResolve_EmptyInput(t *testing.T) {
	source := &linkSource{}
	r := NewResolver(source, 10, testLogger())

	out, err := drain(r.Resolve(context.Background(), models.KindGenre, chunksOf()))
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = drain(r.Resolve(context.Background(), models.KindGenre, chunksOf([]string{}, []string{"g-1"})))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, source.queries)
}

func TestResolve_PropagatesErrors(t *testing.T) {
	boom := errors.New("relation does not exist")
	r := NewResolver(&linkSource{err: boom}, 10, testLogger())

	_, err := drain(r.Resolve(context.Background(), models.KindPerson, chunksOf([]string{"p-1"})))
	assert.ErrorIs(t, err, boom)

	upstream := errors.New("extract failed")
	failing := func(yield func([]string, error) bool) { yield(nil, upstream) }
	_, err = drain(r.Resolve(context.Background(), models.KindPerson, failing))
	assert.ErrorIs(t, err, upstream)
}
