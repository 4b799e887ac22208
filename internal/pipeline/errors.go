package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a run error. Input, parse and merge errors are structural
// and end the run at once; generation and validation errors may be retried.
type Kind string

const (
	KindInput      Kind = "input_error"
	KindParse      Kind = "parse_error"
	KindMerge      Kind = "merge_error"
	KindGeneration Kind = "generation_error"
	KindValidation Kind = "validation_error"
)

// Fatal reports whether errors of this kind are never retried.
func (k Kind) Fatal() bool {
	switch k {
	case KindGeneration, KindValidation:
		return false
	}
	return true
}

var (
	ErrUnknownFormat = errors.New("unknown input format")
	ErrNoContent     = errors.New("no content")
	ErrNoOutput      = errors.New("no merged document to render")
)

// Error is one recorded failure of a run.
type Error struct {
	Kind    Kind
	Phase   Phase
	Attempt int // 1-based generate/validate attempt, or the one a retry waited for; 1 elsewhere
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s in %s (attempt %d): %v", e.Kind, e.Phase, e.Attempt, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether the error ends the run without a retry.
func (e *Error) Fatal() bool { return e.Kind.Fatal() }

func (e *Error) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		Kind    Kind   `json:"kind"`
		Phase   Phase  `json:"phase"`
		Attempt int    `json:"attempt"`
		Message string `json:"message"`
	}{e.Kind, e.Phase, e.Attempt, msg})
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}
