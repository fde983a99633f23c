package pipeline

import (
	"errors"
	"fmt"
	"iter"

	"github.com/Ramsey-B/fern/pkg/models"
)

type Stage string

const (
	StageIdle       Stage = "idle"
	StageExtracting Stage = "extracting"
	StageResolving  Stage = "resolving"
	StageEnriching  Stage = "enriching"
	StagePublishing Stage = "publishing"
	StageAdvancing  Stage = "advancing_watermark"
)

// StageError records the stage a kind's sync was in when it failed.
type StageError struct {
	Kind  models.Kind
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s sync failed while %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(kind models.Kind, stage Stage, err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

// tagged attributes errors yielded by seq to stage unless an upstream stage
// already claimed them.
func tagged(kind models.Kind, stage Stage, seq iter.Seq2[[]string, error]) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		for ids, err := range seq {
			if err != nil {
				yield(nil, stageError(kind, stage, err))
				return
			}
			if !yield(ids, nil) {
				return
			}
		}
	}
}

// counted adds the size of every chunk seq yields to n.
func counted(n *int, seq iter.Seq2[[]string, error]) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		for ids, err := range seq {
			if err == nil {
				*n += len(ids)
			}
			if !yield(ids, err) {
				return
			}
		}
	}
}
