package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dgallion1/docforge/internal/chunker"
	"github.com/dgallion1/docforge/internal/doctree"
	"github.com/dgallion1/docforge/internal/format"
	"github.com/dgallion1/docforge/internal/merge"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Loader resolves an input location to raw content and metadata.
type Loader interface {
	Load(ctx context.Context, location string, kind format.InputKind) (string, map[string]string, error)
}

// Transformer rewrites one chunk into a section.
type Transformer interface {
	Transform(ctx context.Context, chunk doctree.Chunk, pos doctree.Position) (doctree.Section, error)
}

// Generator renders a merged document and returns where it was written.
type Generator interface {
	Generate(ctx context.Context, runID string, doc doctree.MergedDocument, kind format.OutputKind) (string, error)
}

// Validator checks a rendered artifact.
type Validator interface {
	Validate(location string, kind format.OutputKind) error
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Loader      Loader
	Transformer Transformer
	Titler      merge.Titler
	Generator   Generator
	Validator   Validator
}

// Options bound a run.
type Options struct {
	MaxChunkSize         int
	MaxRetries           int // 0 disables retries; negative uses DefaultMaxRetries
	TransformConcurrency int
	CallTimeout          time.Duration // per external call; 0 disables
	Backoff              BackoffFunc
}

const defaultTransformConcurrency = 4

// Request describes one run.
type Request struct {
	RunID    string
	Location string
	Output   format.OutputKind
	Title    string            // fixed document title; wins over parsed and generated ones
	Metadata map[string]string // seeded into the run metadata
	Observer Observer
}

// Outcome distinguishes how a run ended.
type Outcome string

const (
	OutcomeSucceeded          Outcome = "succeeded"
	OutcomeFailedAfterRetries Outcome = "failed_after_retries"
	OutcomeFailedFatal        Outcome = "failed_fatal"
)

// RunResult is what a caller gets back from Run.
type RunResult struct {
	RunID           string            `json:"run_id"`
	Outcome         Outcome           `json:"outcome"`
	Success         bool              `json:"success"`
	OutputLocation  string            `json:"output_location,omitempty"`
	Errors          []*Error          `json:"errors"`
	Metadata        map[string]string `json:"metadata"`
	RetryCount      int               `json:"retry_count"`
	ChunkCount      int               `json:"chunk_count"`
	TableOfContents []string          `json:"table_of_contents,omitempty"`

	Chunks   []doctree.Chunk   `json:"-"`
	Sections []doctree.Section `json:"-"`
}

// Controller sequences the phases of a run. One Controller serves any
// number of concurrent runs; each run owns its State.
type Controller struct {
	deps   Deps
	merger *merge.Merger
	opts   Options
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewController(deps Deps, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = chunker.DefaultMaxChunkSize
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.TransformConcurrency <= 0 {
		opts.TransformConcurrency = defaultTransformConcurrency
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff(time.Second)
	}
	return &Controller{
		deps:   deps,
		merger: merge.New(deps.Titler, logger),
		opts:   opts,
		logger: logger,
		sleep:  sleep,
	}
}

// NewState builds the initial State for req.
func NewState(req Request) State {
	runID := req.RunID
	if runID == "" {
		runID = NewRunID()
	}
	meta := maps.Clone(req.Metadata)
	if meta == nil {
		meta = make(map[string]string)
	}
	if req.Title != "" {
		meta["title"] = req.Title
	}
	out := req.Output
	if out == "" {
		out = format.OutputPdf
	}
	return State{
		RunID:         runID,
		InputLocation: req.Location,
		OutputKind:    out,
		Title:         req.Title,
		Metadata:      meta,
	}
}

// NewRunID returns a time-ordered UUID.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Run drives a request to a terminal phase.
func (c *Controller) Run(ctx context.Context, req Request) *RunResult {
	st := NewState(req)
	obs := observers{LogObserver{Logger: c.logger}}
	if req.Observer != nil {
		obs = append(obs, req.Observer)
	}
	ctx = withChunkObserver(ctx, obs)

	phase := PhaseDetect
	for !phase.Terminal() {
		if err := ctx.Err(); err != nil {
			st = st.Clone()
			st.Errors = nil
			st.record(KindGeneration, phase, fmt.Errorf("run cancelled: %w", err))
			phase = PhaseFailed
			break
		}
		obs.BeforeState(ctx, st.RunID, phase)
		start := time.Now()
		var next Phase
		st, next = c.Step(ctx, phase, st)
		obs.AfterState(ctx, st.RunID, phase, st, time.Since(start))
		phase = next
	}
	return c.result(ctx, st, phase)
}

// Step runs one phase against st and returns the new state and the phase
// to run next. st itself is left unchanged.
func (c *Controller) Step(ctx context.Context, phase Phase, st State) (State, Phase) {
	next := st.Clone()
	if phase != PhaseRetry {
		next.Errors = nil
	}

	switch phase {
	case PhaseDetect:
		return c.detect(next)
	case PhaseParse:
		return c.parse(ctx, next)
	case PhaseTransform:
		return c.transform(ctx, next)
	case PhaseMerge:
		return c.merge(ctx, next)
	case PhaseGenerate:
		return c.generate(ctx, next)
	case PhaseValidate:
		return c.validate(next)
	case PhaseRetry:
		return c.decide(ctx, next)
	}
	return next, phase
}

func (c *Controller) detect(st State) (State, Phase) {
	st.InputKind = format.Detect(st.InputLocation)
	if st.InputKind == format.Unknown {
		st.record(KindInput, PhaseDetect, fmt.Errorf("%w: %q", ErrUnknownFormat, st.InputLocation))
		return st, PhaseFailed
	}
	if st.OutputKind != format.OutputPdf && st.OutputKind != format.OutputSlides {
		st.record(KindInput, PhaseDetect, fmt.Errorf("unsupported output kind %q", st.OutputKind))
		return st, PhaseFailed
	}
	st.Metadata["input_kind"] = string(st.InputKind)
	return st, PhaseParse
}

func (c *Controller) parse(ctx context.Context, st State) (State, Phase) {
	cctx, cancel := c.callContext(ctx)
	defer cancel()

	raw, meta, err := c.deps.Loader.Load(cctx, st.InputLocation, st.InputKind)
	if err != nil {
		st.record(KindParse, PhaseParse, err)
		return st, PhaseFailed
	}
	st.RawContent = raw
	for k, v := range meta {
		if _, ok := st.Metadata[k]; !ok && v != "" {
			st.Metadata[k] = v
		}
	}
	return st, PhaseTransform
}

func (c *Controller) transform(ctx context.Context, st State) (State, Phase) {
	chunks := chunker.Split(st.RawContent, c.opts.MaxChunkSize)
	if len(chunks) == 0 {
		st.record(KindParse, PhaseTransform, ErrNoContent)
		return st, PhaseFailed
	}
	st.Chunks = chunks
	st.Sections = nil

	contentType := chunker.Classify(st.RawContent, st.InputKind)
	st.Metadata["content_type"] = contentType
	topic := st.Metadata["title"]
	progress := chunkObserverFrom(ctx)

	sections := make([]doctree.Section, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.TransformConcurrency)
	for i, ch := range chunks {
		g.Go(func() error {
			cctx, cancel := c.callContext(gctx)
			defer cancel()
			sec, err := c.deps.Transformer.Transform(cctx, ch, doctree.Position{
				Index:       i,
				Total:       len(chunks),
				Topic:       topic,
				ContentType: contentType,
			})
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			sections[i] = sec
			if progress != nil {
				progress.ChunkTransformed(ctx, st.RunID, i, len(chunks))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		st.record(KindGeneration, PhaseTransform, err)
		return st, PhaseFailed
	}

	st.Sections = sections
	return st, PhaseMerge
}

func (c *Controller) merge(ctx context.Context, st State) (State, Phase) {
	cctx, cancel := c.callContext(ctx)
	defer cancel()

	var doc doctree.MergedDocument
	var err error
	if st.Title != "" {
		doc, err = c.merger.Assemble(st.Sections)
		doc.Title = st.Title
	} else {
		doc, err = c.merger.Merge(cctx, st.Sections, st.Metadata["title"])
	}
	if err != nil {
		st.record(KindMerge, PhaseMerge, err)
		return st, PhaseFailed
	}
	st.Merged = &doc
	st.Metadata["title"] = doc.Title
	return st, PhaseGenerate
}

func (c *Controller) generate(ctx context.Context, st State) (State, Phase) {
	if st.Merged == nil {
		st.record(KindGeneration, PhaseGenerate, ErrNoOutput)
		return st, PhaseRetry
	}
	cctx, cancel := c.callContext(ctx)
	defer cancel()

	loc, err := c.deps.Generator.Generate(cctx, st.RunID, *st.Merged, st.OutputKind)
	if err != nil {
		st.record(KindGeneration, PhaseGenerate, err)
		return st, PhaseRetry
	}
	st.OutputLocation = loc
	return st, PhaseValidate
}

func (c *Controller) validate(st State) (State, Phase) {
	if err := c.deps.Validator.Validate(st.OutputLocation, st.OutputKind); err != nil {
		st.record(KindValidation, PhaseValidate, err)
		return st, PhaseRetry
	}
	return st, PhaseDone
}

// decide is the retry edge. It keeps the errors it was handed when the
// run ends and clears them when generation is tried again.
func (c *Controller) decide(ctx context.Context, st State) (State, Phase) {
	if len(st.Errors) == 0 {
		return st, PhaseDone
	}
	if st.RetryCount >= c.opts.MaxRetries {
		return st, PhaseFailed
	}
	st.RetryCount++
	st.Errors = nil
	if err := c.sleep(ctx, c.opts.Backoff(st.RetryCount)); err != nil {
		st.record(KindGeneration, PhaseRetry, fmt.Errorf("retry wait: %w", err))
		return st, PhaseFailed
	}
	return st, PhaseGenerate
}

func (c *Controller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.CallTimeout > 0 {
		return context.WithTimeout(ctx, c.opts.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func (c *Controller) result(ctx context.Context, st State, phase Phase) *RunResult {
	res := &RunResult{
		RunID:          st.RunID,
		OutputLocation: st.OutputLocation,
		Errors:         []*Error{},
		Metadata:       st.Metadata,
		RetryCount:     st.RetryCount,
		ChunkCount:     len(st.Chunks),
		Chunks:         st.Chunks,
		Sections:       st.Sections,
	}
	if st.Merged != nil {
		res.TableOfContents = st.Merged.TableOfContents
	}

	if phase == PhaseDone {
		res.Success = true
		res.Outcome = OutcomeSucceeded
		return res
	}

	res.Errors = append(res.Errors, st.History...)
	res.Outcome = OutcomeFailedFatal
	if n := len(st.History); n > 0 && ctx.Err() == nil {
		last := st.History[n-1]
		if !last.Fatal() && (last.Phase == PhaseGenerate || last.Phase == PhaseValidate) {
			res.Outcome = OutcomeFailedAfterRetries
		}
	}
	return res
}

type chunkObserverKey struct{}

func withChunkObserver(ctx context.Context, o ChunkObserver) context.Context {
	return context.WithValue(ctx, chunkObserverKey{}, o)
}

func chunkObserverFrom(ctx context.Context) ChunkObserver {
	o, _ := ctx.Value(chunkObserverKey{}).(ChunkObserver)
	return o
}
