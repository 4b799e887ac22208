package pipeline

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/dgallion1/docforge/internal/format"
)

// JobStatus represents the state of a queued run.
type JobStatus string

const (
	StatusQueued       JobStatus = "queued"
	StatusDetecting    JobStatus = "detecting"
	StatusParsing      JobStatus = "parsing"
	StatusTransforming JobStatus = "transforming"
	StatusMerging      JobStatus = "merging"
	StatusGenerating   JobStatus = "generating"
	StatusValidating   JobStatus = "validating"
	StatusRetrying     JobStatus = "retrying"
	StatusCompleted    JobStatus = "completed"
	StatusFailed       JobStatus = "failed"
)

var phaseStatus = map[Phase]JobStatus{
	PhaseDetect:    StatusDetecting,
	PhaseParse:     StatusParsing,
	PhaseTransform: StatusTransforming,
	PhaseMerge:     StatusMerging,
	PhaseGenerate:  StatusGenerating,
	PhaseValidate:  StatusValidating,
	PhaseRetry:     StatusRetrying,
}

// Job tracks one submitted run.
type Job struct {
	mu sync.Mutex

	ID       string
	Location string
	Filename string
	Output   format.OutputKind
	Title    string

	Status JobStatus
	Phase  Phase

	Progress Progress

	Outcome        Outcome
	OutputLocation string
	DocTitle       string

	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// cleanup removes a staged upload once the run ends.
	cleanup func()
	errors  []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalChunks       int      `json:"total_chunks"`
	ChunksTransformed int      `json:"chunks_transformed"`
	RetryCount        int      `json:"retry_count"`
	Errors            []string `json:"errors"`
}

// NewJob creates a queued job for location. cleanup, when non-nil, runs
// after the job finishes.
func NewJob(id, location string, output format.OutputKind, title string, cleanup func()) *Job {
	if id == "" {
		id = NewRunID()
	}
	now := time.Now()
	return &Job{
		ID:        id,
		Location:  location,
		Output:    output,
		Title:     title,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
		cleanup:   cleanup,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *JobStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// Cleanup removes finished jobs older than the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.finished() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

func (j *Job) finished() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase Phase) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.UpdatedAt = time.Now()
}

// BeforeState moves the job into the status matching phase.
func (j *Job) BeforeState(ctx context.Context, runID string, phase Phase) {
	if status, ok := phaseStatus[phase]; ok {
		j.SetStatus(status, phase)
	}
}

// AfterState copies chunk and retry counts out of the run state.
func (j *Job) AfterState(ctx context.Context, runID string, phase Phase, st State, d time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalChunks = len(st.Chunks)
	j.Progress.RetryCount = st.RetryCount
	if title := st.Metadata["title"]; title != "" {
		j.DocTitle = title
	}
	j.UpdatedAt = time.Now()
}

// ChunkTransformed counts a finished chunk.
func (j *Job) ChunkTransformed(ctx context.Context, runID string, index, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.ChunksTransformed++
	j.UpdatedAt = time.Now()
}

// Finish records the run result and releases any staged input.
func (j *Job) Finish(res *RunResult) {
	j.mu.Lock()
	j.Outcome = res.Outcome
	j.OutputLocation = res.OutputLocation
	j.Progress.RetryCount = res.RetryCount
	j.Progress.TotalChunks = res.ChunkCount
	if title := res.Metadata["title"]; title != "" {
		j.DocTitle = title
	}
	for _, e := range res.Errors {
		j.errors = append(j.errors, e.Error())
	}
	if res.Success {
		j.Status, j.Phase = StatusCompleted, PhaseDone
	} else {
		j.Status, j.Phase = StatusFailed, PhaseFailed
	}
	j.UpdatedAt = time.Now()
	cleanup := j.cleanup
	j.cleanup = nil
	j.mu.Unlock()

	if cleanup != nil {
		cleanup()
	}
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID             string    `json:"run_id"`
	Status         JobStatus `json:"status"`
	Phase          Phase     `json:"phase"`
	Filename       string    `json:"filename,omitempty"`
	Output         string    `json:"output"`
	Title          string    `json:"title,omitempty"`
	Outcome        Outcome   `json:"outcome,omitempty"`
	OutputLocation string    `json:"output_location,omitempty"`
	ContentHash    string    `json:"content_hash,omitempty"`
	Progress       Progress  `json:"progress"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.errors))
	copy(errs, j.errors)
	title := j.DocTitle
	if title == "" {
		title = j.Title
	}
	return JobSnapshot{
		ID:             j.ID,
		Status:         j.Status,
		Phase:          j.Phase,
		Filename:       j.Filename,
		Output:         string(j.Output),
		Title:          title,
		Outcome:        j.Outcome,
		OutputLocation: j.OutputLocation,
		ContentHash:    j.ContentHash,
		Progress: Progress{
			TotalChunks:       j.Progress.TotalChunks,
			ChunksTransformed: j.Progress.ChunksTransformed,
			RetryCount:        j.Progress.RetryCount,
			Errors:            errs,
		},
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
