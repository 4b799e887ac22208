package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgallion1/docforge/internal/doctree"
	"github.com/dgallion1/docforge/internal/format"
	"github.com/dgallion1/docforge/internal/pathstore"
)

func TestContentHashHex_Consistency(t *testing.T) {
	data := []byte("hello world")
	h1 := ContentHashHex(data)
	h2 := ContentHashHex(data)
	if h1 != h2 {
		t.Errorf("expected identical hashes, got %q and %q", h1, h2)
	}
	// SHA-256 of "hello world" is well-known.
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if h1 != want {
		t.Errorf("expected hash %q, got %q", want, h1)
	}
}

func TestContentHashHex_EmptyInput(t *testing.T) {
	h := ContentHashHex([]byte{})
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if h != want {
		t.Errorf("expected hash %q, got %q", want, h)
	}
}

func TestJob_ObserverTransitions(t *testing.T) {
	job := NewJob("job-1", "notes.md", format.OutputPdf, "", nil)
	ctx := context.Background()

	transitions := []struct {
		phase  Phase
		status JobStatus
	}{
		{PhaseDetect, StatusDetecting},
		{PhaseParse, StatusParsing},
		{PhaseTransform, StatusTransforming},
		{PhaseMerge, StatusMerging},
		{PhaseGenerate, StatusGenerating},
		{PhaseValidate, StatusValidating},
		{PhaseRetry, StatusRetrying},
	}
	for _, tr := range transitions {
		before := job.Snapshot().UpdatedAt
		time.Sleep(time.Millisecond)
		job.BeforeState(ctx, job.ID, tr.phase)

		snap := job.Snapshot()
		if snap.Status != tr.status || snap.Phase != tr.phase {
			t.Errorf("phase %s: expected status %q, got %q/%q", tr.phase, tr.status, snap.Status, snap.Phase)
		}
		if !snap.UpdatedAt.After(before) {
			t.Errorf("expected UpdatedAt to advance for %s", tr.phase)
		}
	}

	st := State{Chunks: make([]doctree.Chunk, 3), RetryCount: 2, Metadata: map[string]string{"title": "Field Guide"}}
	job.AfterState(ctx, job.ID, PhaseMerge, st, time.Second)
	job.ChunkTransformed(ctx, job.ID, 0, 3)
	job.ChunkTransformed(ctx, job.ID, 2, 3)

	snap := job.Snapshot()
	if snap.Progress.TotalChunks != 3 || snap.Progress.ChunksTransformed != 2 || snap.Progress.RetryCount != 2 {
		t.Errorf("unexpected progress %+v", snap.Progress)
	}
	if snap.Title != "Field Guide" {
		t.Errorf("expected title from run metadata, got %q", snap.Title)
	}
}

func TestJob_FinishRunsCleanupOnce(t *testing.T) {
	var cleaned atomic.Int32
	job := NewJob("", "upload.md", format.OutputSlides, "Mine", func() { cleaned.Add(1) })
	if job.ID == "" {
		t.Fatal("expected a generated run id")
	}

	res := &RunResult{
		RunID:   job.ID,
		Outcome: OutcomeFailedAfterRetries,
		Errors:  []*Error{{Kind: KindGeneration, Phase: PhaseGenerate, Attempt: 1, Err: errors.New("boom")}},
	}
	job.Finish(res)
	job.Finish(res)

	if cleaned.Load() != 1 {
		t.Errorf("expected cleanup once, got %d", cleaned.Load())
	}
	snap := job.Snapshot()
	if snap.Status != StatusFailed || snap.Phase != PhaseFailed || snap.Outcome != OutcomeFailedAfterRetries {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.Title != "Mine" {
		t.Errorf("expected requested title, got %q", snap.Title)
	}
}

func TestJob_SnapshotErrorsNotNil(t *testing.T) {
	job := &Job{ID: "snap-test", UpdatedAt: time.Now()}
	snap := job.Snapshot()
	if snap.Progress.Errors == nil {
		t.Error("expected non-nil errors slice in snapshot")
	}

	job.AddError("queue full")
	snap.Progress.Errors = append(snap.Progress.Errors, "mutated")
	if got := job.Snapshot().Progress.Errors; len(got) != 1 || got[0] != "queue full" {
		t.Errorf("expected snapshot to be independent, got %v", got)
	}
}

func TestJobStore_PutGetDelete(t *testing.T) {
	store := NewJobStore(time.Hour)
	store.Put(&Job{ID: "store-1", UpdatedAt: time.Now()})

	if got := store.Get("store-1"); got == nil || got.ID != "store-1" {
		t.Fatal("expected to get job back")
	}
	store.Delete("store-1")
	if store.Get("store-1") != nil {
		t.Error("expected job to be deleted")
	}
	if store.Get("nonexistent") != nil {
		t.Error("expected nil for missing job")
	}
}

func TestJobStore_TTLCleanup(t *testing.T) {
	store := NewJobStore(50 * time.Millisecond)

	old := time.Now().Add(-time.Second)
	store.Put(&Job{ID: "done", Status: StatusCompleted, UpdatedAt: old})
	store.Put(&Job{ID: "running", Status: StatusTransforming, UpdatedAt: old})
	store.Put(&Job{ID: "fresh", Status: StatusFailed, UpdatedAt: time.Now()})

	store.Cleanup()

	if store.Get("done") != nil {
		t.Error("expected expired finished job to be cleaned up")
	}
	if store.Get("running") == nil {
		t.Error("in-flight jobs must survive cleanup")
	}
	if store.Get("fresh") == nil {
		t.Error("expected fresh job to survive cleanup")
	}
}

type memorySink struct {
	mu   sync.Mutex
	runs map[string]*RunResult
	done chan string
}

func (m *memorySink) SaveRun(ctx context.Context, job JobSnapshot, res *RunResult) error {
	m.mu.Lock()
	m.runs[res.RunID] = res
	m.mu.Unlock()
	m.done <- res.RunID
	return nil
}

func TestOrchestrator_RunsJobs(t *testing.T) {
	h := newHarness(readme500())
	sink := &memorySink{runs: map[string]*RunResult{}, done: make(chan string, 4)}
	o := NewOrchestrator(OrchestratorConfig{WorkerCount: 2, MaxQueueSize: 4}, h.controller(), sink, quietLogger())
	o.Start(context.Background())
	defer o.Stop()

	ok := NewJob("run-ok", "README.md", format.OutputPdf, "", nil)
	bad := NewJob("run-bad", "data.xyz", format.OutputPdf, "", nil)
	for _, j := range []*Job{ok, bad} {
		if err := o.Submit(j); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	for range 2 {
		select {
		case <-sink.done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for runs")
		}
	}

	if snap := o.GetJob("run-ok").Snapshot(); snap.Status != StatusCompleted || snap.Title != "Readme Guide" {
		t.Errorf("unexpected ok snapshot %+v", snap)
	}
	if snap := o.GetJob("run-bad").Snapshot(); snap.Status != StatusFailed || snap.Outcome != OutcomeFailedFatal || len(snap.Progress.Errors) != 1 {
		t.Errorf("unexpected failed snapshot %+v", snap)
	}
	if !sink.runs["run-ok"].Success {
		t.Error("expected the sink to receive the successful run")
	}
}

func TestOrchestrator_QueueFull(t *testing.T) {
	h := newHarness(readme500())
	// Not started: nothing drains the queue.
	o := NewOrchestrator(OrchestratorConfig{WorkerCount: 1, MaxQueueSize: 1}, h.controller(), nil, quietLogger())

	if err := o.Submit(NewJob("a", "a.md", format.OutputPdf, "", nil)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	var cleaned bool
	err := o.Submit(NewJob("b", "b.md", format.OutputPdf, "", func() { cleaned = true }))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if snap := o.GetJob("b").Snapshot(); snap.Status != StatusFailed {
		t.Errorf("expected rejected job to be failed, got %s", snap.Status)
	}
	if !cleaned {
		t.Error("expected rejected job's upload to be cleaned up")
	}
	if o.QueueDepth() != 1 {
		t.Errorf("expected queue depth 1, got %d", o.QueueDepth())
	}
}

func TestPathstoreSink(t *testing.T) {
	var gotPath string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPut || r.Header.Get("Authorization") != "Bearer ps-key" {
			t.Errorf("unexpected request %s %q", r.Method, r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink := PathstoreSink{Client: pathstore.NewClient(srv.URL, "ps-key")}
	res := &RunResult{
		RunID:    "0192-run",
		Outcome:  OutcomeSucceeded,
		Success:  true,
		Errors:   []*Error{},
		Metadata: map[string]string{"title": "Guide"},
	}
	if err := sink.SaveRun(context.Background(), JobSnapshot{Status: StatusCompleted}, res); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/kv/docforge/runs/0192-run" {
		t.Errorf("unexpected key path %q", gotPath)
	}
	value, _ := body["value"].(map[string]any)
	if value["title"] != "Guide" || value["outcome"] != "succeeded" {
		t.Errorf("unexpected stored value %v", value)
	}
}
