package pipeline

import (
	"maps"
	"slices"

	"github.com/dgallion1/docforge/internal/doctree"
	"github.com/dgallion1/docforge/internal/format"
)

// Phase names a controller state.
type Phase string

const (
	PhaseDetect    Phase = "detect_format"
	PhaseParse     Phase = "parse_content"
	PhaseTransform Phase = "split_and_transform"
	PhaseMerge     Phase = "merge"
	PhaseGenerate  Phase = "generate"
	PhaseValidate  Phase = "validate"
	PhaseRetry     Phase = "retry"

	PhaseDone   Phase = "done"
	PhaseFailed Phase = "failed"
)

// Terminal reports whether no further step follows p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// State is the record threaded through one run. Steps never modify the
// State they are given; they return an updated clone.
type State struct {
	RunID         string
	InputLocation string
	InputKind     format.InputKind
	OutputKind    format.OutputKind

	// Title is the caller's title. When set the document is not renamed.
	Title string

	RawContent     string
	Chunks         []doctree.Chunk
	Sections       []doctree.Section
	Merged         *doctree.MergedDocument
	OutputLocation string

	// Errors holds only what the most recent step recorded.
	Errors []*Error
	// History is every error recorded during the run, oldest first.
	History []*Error

	Metadata   map[string]string
	RetryCount int
}

// Clone returns a copy that shares no slices or maps with s. Chunks,
// sections and errors are immutable once created, so their elements are
// shared.
func (s State) Clone() State {
	c := s
	c.Chunks = slices.Clone(s.Chunks)
	c.Sections = slices.Clone(s.Sections)
	c.Errors = slices.Clone(s.Errors)
	c.History = slices.Clone(s.History)
	c.Metadata = maps.Clone(s.Metadata)
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	if s.Merged != nil {
		m := *s.Merged
		m.TableOfContents = slices.Clone(s.Merged.TableOfContents)
		m.VisualMarkers = slices.Clone(s.Merged.VisualMarkers)
		c.Merged = &m
	}
	return c
}

func (s *State) record(kind Kind, phase Phase, err error) {
	attempt := 1
	if phase == PhaseGenerate || phase == PhaseValidate || phase == PhaseRetry {
		attempt = s.RetryCount + 1
	}
	e := &Error{Kind: kind, Phase: phase, Attempt: attempt, Err: err}
	s.Errors = append(s.Errors, e)
	s.History = append(s.History, e)
}
