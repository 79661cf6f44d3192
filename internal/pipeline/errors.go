package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a stage-level failure.
type Kind string

// Failure kinds.
const (
	KindSourceUnavailable  Kind = "SourceUnavailable"
	KindSourceMalformed    Kind = "SourceMalformed"
	KindLoadFailed         Kind = "LoadFailed"
	KindTransformFailed    Kind = "TransformFailed"
	KindAggregationFailed  Kind = "AggregationFailed"
	KindQualityCheckFailed Kind = "QualityCheckFailed"
	KindStageTimeout       Kind = "StageTimeout"
	KindCancelled          Kind = "Cancelled"
)

// Transient reports whether a fresh run might succeed without operator
// action. Malformed input and cancellation are permanent.
func (k Kind) Transient() bool {
	switch k {
	case KindSourceMalformed, KindCancelled, "":
		return false
	default:
		return true
	}
}

// Error is a stage failure that ended a run.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline: %s stage: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
