package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enrich/internal/model"
	"github.com/sells-group/lead-enrich/internal/store"
)

// ErrRunActive is returned when a run is requested while another one has
// not yet reached a terminal state.
var ErrRunActive = eris.New("a run is already active")

// Runner executes runs on background goroutines for serve mode. A single
// run may be active at a time; the runs registry is the source of truth
// for progress, never an in-memory snapshot.
type Runner struct {
	base     context.Context
	pipeline *Pipeline
	store    store.Store

	mu       sync.Mutex
	activeID string
}

// NewRunner returns a runner whose background runs live until base is
// canceled. Serve mode passes its signal context so shutdown reaches
// in-flight runs.
func NewRunner(base context.Context, p *Pipeline, st store.Store) *Runner {
	return &Runner{base: base, pipeline: p, store: st}
}

// Start registers a run and executes it on a background goroutine,
// returning the fresh registry row immediately. ErrRunActive when another
// run still holds the slot.
func (r *Runner) Start(ctx context.Context, req RunRequest) (*model.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active, err := r.hasActiveRun(ctx)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrRunActive
	}

	run, err := r.store.CreateRun(ctx, req.InputPath)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	r.activeID = run.ID

	go func() {
		defer func() {
			r.mu.Lock()
			r.activeID = ""
			r.mu.Unlock()
		}()
		if err := r.pipeline.Execute(r.base, run, req); err != nil {
			zap.L().Error("background run failed",
				zap.String("run_id", run.ID),
				zap.Error(err))
		}
	}()

	return run, nil
}

// hasActiveRun reports whether this process holds a live run goroutine or
// the registry shows a run still in a non-terminal phase. Callers hold
// r.mu.
func (r *Runner) hasActiveRun(ctx context.Context) (bool, error) {
	if r.activeID != "" {
		run, err := r.store.GetRun(ctx, r.activeID)
		if err != nil {
			return false, eris.Wrap(err, "pipeline: check active run")
		}
		if !run.Status.Done() {
			return true, nil
		}
		r.activeID = ""
	}

	runs, err := r.store.ListRuns(ctx, store.RunFilter{})
	if err != nil {
		return false, eris.Wrap(err, "pipeline: list runs")
	}
	for _, run := range runs {
		if !run.Status.Done() {
			return true, nil
		}
	}
	return false, nil
}

// RecoverInterrupted marks every non-terminal run failed. Serve mode calls
// it on startup so a run orphaned by a crash cannot wedge the single-run
// slot forever.
func (r *Runner) RecoverInterrupted(ctx context.Context) (int, error) {
	runs, err := r.store.ListRuns(ctx, store.RunFilter{})
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: list runs")
	}

	recovered := 0
	for _, run := range runs {
		if run.Status.Done() {
			continue
		}
		if err := r.store.UpdateRunStatus(ctx, run.ID, model.RunStatusFailed, "interrupted by restart"); err != nil {
			return recovered, eris.Wrapf(err, "pipeline: recover run %s", run.ID)
		}
		zap.L().Warn("marked interrupted run failed",
			zap.String("run_id", run.ID),
			zap.String("last_status", string(run.Status)))
		recovered++
	}
	return recovered, nil
}
