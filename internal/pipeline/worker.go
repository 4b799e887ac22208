package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/docforge/internal/pathstore"
)

// Worker executes queued jobs one at a time.
type Worker struct {
	controller *Controller
	sink       ResultSink
	log        *slog.Logger
}

func NewWorker(controller *Controller, sink ResultSink, log *slog.Logger) *Worker {
	return &Worker{
		controller: controller,
		sink:       sink,
		log:        log,
	}
}

// Process runs the job to completion and records the result.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("run_id", job.ID, "location", job.Location)
	log.InfoContext(ctx, "run started", "output", job.Output)

	res := w.controller.Run(ctx, Request{
		RunID:    job.ID,
		Location: job.Location,
		Output:   job.Output,
		Title:    job.Title,
		Metadata: jobMetadata(job),
		Observer: job,
	})
	job.Finish(res)

	if res.Success {
		log.InfoContext(ctx, "run succeeded", "output_location", res.OutputLocation, "retry_count", res.RetryCount, "chunks", res.ChunkCount)
	} else {
		log.ErrorContext(ctx, "run failed", "outcome", res.Outcome, "retry_count", res.RetryCount, "errors", len(res.Errors))
	}

	if w.sink == nil {
		return
	}
	// The run context may already be cancelled on shutdown; persisting still gets a short window.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.sink.SaveRun(saveCtx, job.Snapshot(), res); err != nil {
		log.WarnContext(ctx, "result persist failed", "error", err)
	}
}

func jobMetadata(job *Job) map[string]string {
	meta := map[string]string{}
	if job.Filename != "" {
		meta["filename"] = job.Filename
	}
	if job.ContentHash != "" {
		meta["content_hash"] = job.ContentHash
	}
	return meta
}

// RunKeyPrefix is the pathstore prefix under which finished runs are kept.
const RunKeyPrefix = "docforge/runs"

// RunKey returns the pathstore key for a run.
func RunKey(runID string) string {
	return fmt.Sprintf("%s/%s", RunKeyPrefix, runID)
}

// PathstoreSink archives finished runs in pathstore.
type PathstoreSink struct {
	Client *pathstore.Client
}

func (s PathstoreSink) SaveRun(ctx context.Context, job JobSnapshot, res *RunResult) error {
	errs := make([]string, 0, len(res.Errors))
	for _, e := range res.Errors {
		errs = append(errs, e.Error())
	}
	return s.Client.PutNode(ctx, RunKey(res.RunID), pathstore.NodeRequest{
		Value: map[string]any{
			"run_id":            res.RunID,
			"outcome":           res.Outcome,
			"success":           res.Success,
			"status":            job.Status,
			"output":            job.Output,
			"output_location":   res.OutputLocation,
			"title":             res.Metadata["title"],
			"retry_count":       res.RetryCount,
			"chunk_count":       res.ChunkCount,
			"table_of_contents": res.TableOfContents,
			"errors":            errs,
			"metadata":          res.Metadata,
			"created_at":        job.CreatedAt.Format(time.RFC3339),
			"finished_at":       job.UpdatedAt.Format(time.RFC3339),
		},
		MemoryType: "episodic",
		Salience:   0.3,
		Source:     "docforge:" + res.RunID,
	})
}
