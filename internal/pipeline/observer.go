package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Observer is notified around every controller step.
type Observer interface {
	BeforeState(ctx context.Context, runID string, phase Phase)
	AfterState(ctx context.Context, runID string, phase Phase, st State, d time.Duration)
}

// ChunkObserver is optionally implemented by an Observer that wants to
// follow per-chunk progress during transformation. It may be called from
// several goroutines.
type ChunkObserver interface {
	ChunkTransformed(ctx context.Context, runID string, index, total int)
}

// LogObserver writes one structured line per completed step.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) BeforeState(ctx context.Context, runID string, phase Phase) {
	o.Logger.DebugContext(ctx, "state started", "run_id", runID, "phase", phase)
}

func (o LogObserver) AfterState(ctx context.Context, runID string, phase Phase, st State, d time.Duration) {
	attrs := []any{
		"run_id", runID,
		"phase", phase,
		"duration_ms", d.Milliseconds(),
		"retry_count", st.RetryCount,
	}
	if len(st.Errors) == 0 {
		o.Logger.InfoContext(ctx, "state finished", attrs...)
		return
	}
	attrs = append(attrs, "error", st.Errors[len(st.Errors)-1].Err, "kind", st.Errors[len(st.Errors)-1].Kind)
	o.Logger.WarnContext(ctx, "state failed", attrs...)
}

type observers []Observer

func (obs observers) BeforeState(ctx context.Context, runID string, phase Phase) {
	for _, o := range obs {
		o.BeforeState(ctx, runID, phase)
	}
}

func (obs observers) AfterState(ctx context.Context, runID string, phase Phase, st State, d time.Duration) {
	for _, o := range obs {
		o.AfterState(ctx, runID, phase, st, d)
	}
}

func (obs observers) ChunkTransformed(ctx context.Context, runID string, index, total int) {
	for _, o := range obs {
		if co, ok := o.(ChunkObserver); ok {
			co.ChunkTransformed(ctx, runID, index, total)
		}
	}
}
