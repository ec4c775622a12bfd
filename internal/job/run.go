package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Run is the per-run handle passed to workflow bodies. Steps executed
// through it are memoized in the ledger's step log, so a re-triggered run id
// replays persisted results instead of redoing the work.
type Run struct {
	orch   *Orchestrator
	ctx    context.Context
	jobID  string
	runID  string
	logger *slog.Logger
}

// Context returns the run's context. It is cancelled when the job is
// cancelled; long operations inside steps must honor it.
func (rc *Run) Context() context.Context { return rc.ctx }

// JobID returns the ledger id of the running job.
func (rc *Run) JobID() string { return rc.jobID }

// Logger returns the run-scoped logger.
func (rc *Run) Logger() *slog.Logger { return rc.logger }

// Invoke starts a child workflow with this run as parent and waits for it.
// The child inherits the run's context, so cancelling this job interrupts
// the child immediately; the ledger-side fan-out settles its row.
func (rc *Run) Invoke(wf *Workflow, payload any) error {
	h, err := rc.orch.start(rc.ctx, rc.ctx, wf, Event{
		ParentJobID: rc.jobID,
		Payload:     payload,
	})
	if err != nil {
		return err
	}
	return h.Wait(rc.ctx)
}

// Step executes fn once per (job, run, name), persisting the result in the
// step log before returning it. A replayed run finds the persisted result
// and skips execution. Failures are retried with doubling backoff up to the
// configured attempt limit, except for NonRetriable errors and cancellation.
func Step[T any](rc *Run, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := rc.ctx.Err(); err != nil {
		return zero, context.Cause(rc.ctx)
	}

	raw, found, err := rc.orch.ledger.GetStepResult(rc.ctx, rc.jobID, rc.runID, name)
	if err != nil {
		return zero, fmt.Errorf("step %s: read step log: %w", name, err)
	}
	if found {
		var memo T
		if err := json.Unmarshal(raw, &memo); err != nil {
			return zero, fmt.Errorf("step %s: decode memoized result: %w", name, err)
		}
		rc.logger.Debug("step replayed from log", "step", name)
		return memo, nil
	}

	var result T
	backoff := rc.orch.config.StepBackoff
	for attempt := 1; ; attempt++ {
		result, err = fn(rc.ctx)
		if err == nil {
			break
		}

		if IsNonRetriable(err) || rc.ctx.Err() != nil || attempt >= rc.orch.config.StepAttempts {
			if cause := context.Cause(rc.ctx); cause != nil && rc.ctx.Err() != nil {
				return zero, cause
			}
			return zero, fmt.Errorf("step %s: %w", name, err)
		}

		rc.logger.Warn("step failed, retrying",
			"step", name,
			"attempt", attempt,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
		case <-rc.ctx.Done():
			return zero, context.Cause(rc.ctx)
		}
		backoff *= 2
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("step %s: encode result: %w", name, err)
	}
	// Losing the memo only costs a re-execution on replay; the result itself
	// is good.
	if err := rc.orch.ledger.PutStepResult(rc.ctx, rc.jobID, rc.runID, name, encoded); err != nil {
		rc.logger.Warn("persisting step result failed", "step", name, "error", err)
	}

	return result, nil
}

// Do is Step for side-effecting work with no result.
func (rc *Run) Do(name string, fn func(ctx context.Context) error) error {
	_, err := Step(rc, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Sleep pauses the run, honoring cancellation. The pause itself is not
// memoized; a replayed run sleeps again.
func (rc *Run) Sleep(d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-rc.ctx.Done():
		return context.Cause(rc.ctx)
	}
}
