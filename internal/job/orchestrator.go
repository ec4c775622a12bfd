// Package job is the workflow orchestrator: it starts registered workflows
// under deterministic job ids, records every run in the durable ledger,
// memoizes step results, and fans cancellation out to running children.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"shopsync/internal/logger"
	"shopsync/internal/notify"
	"shopsync/internal/observability"
	"shopsync/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config holds orchestrator tuning knobs.
type Config struct {
	// StepAttempts is the maximum number of executions per step (default: 3).
	StepAttempts int

	// StepBackoff is the delay before the first step retry; it doubles on
	// each subsequent retry (default: 2s).
	StepBackoff time.Duration
}

// Orchestrator runs workflows. All runs execute in-process; the ledger is
// the source of truth for run state and the duplicate-suppression lock.
type Orchestrator struct {
	ledger   store.Ledger
	notifier notify.Notifier
	logger   *slog.Logger
	config   Config

	// base is the parent context of top-level runs, so a run outlives the
	// request that triggered it but not the process.
	base context.Context

	mu        sync.Mutex
	workflows map[string]*Workflow
	active    map[string]context.CancelCauseFunc

	wg sync.WaitGroup
}

// Handle tracks one in-flight run.
type Handle struct {
	JobID string
	RunID string

	done chan struct{}
	err  error
}

// Wait blocks until the run finishes or ctx is done, and returns the run's
// terminal error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// New creates an orchestrator. base bounds the lifetime of every run.
func New(base context.Context, ledger store.Ledger, notifier notify.Notifier, logger *slog.Logger, config Config) *Orchestrator {
	if config.StepAttempts <= 0 {
		config.StepAttempts = 3
	}

	if config.StepBackoff <= 0 {
		config.StepBackoff = 2 * time.Second
	}

	if notifier == nil {
		notifier = notify.Nop{}
	}

	return &Orchestrator{
		ledger:    ledger,
		notifier:  notifier,
		logger:    logger,
		config:    config,
		base:      base,
		workflows: make(map[string]*Workflow),
		active:    make(map[string]context.CancelCauseFunc),
	}
}

// Register makes a workflow startable by name.
func (o *Orchestrator) Register(wf *Workflow) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.workflows[wf.Name] = wf
}

// Workflow returns a registered workflow by name.
func (o *Orchestrator) Workflow(name string) (*Workflow, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	wf, ok := o.workflows[name]
	return wf, ok
}

// Start begins a run of wf. The duplicate check happens synchronously: if
// the derived job id already has a RUNNING row, Start returns
// ErrAlreadyRunning and nothing executes. The body runs on its own
// goroutine; use the returned Handle to wait for it.
func (o *Orchestrator) Start(ctx context.Context, wf *Workflow, ev Event) (*Handle, error) {
	return o.start(ctx, o.base, wf, ev)
}

func (o *Orchestrator) start(ctx, runParent context.Context, wf *Workflow, ev Event) (*Handle, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	jobID := wf.JobID(ev)
	runID := uuid.New().String()

	title := wf.Name
	if wf.Title != nil {
		t, err := wf.Title(ctx, ev)
		if err != nil {
			return nil, fmt.Errorf("resolve title for %s: %w", jobID, err)
		}
		title = t
	}

	row := &store.Job{
		ID:        jobID,
		Workflow:  wf.Name,
		Title:     title,
		Status:    store.JobStatusRunning,
		StartedAt: time.Now().UTC(),
		RunID:     runID,
		EventID:   ev.ID,
	}
	if ev.ParentJobID != "" {
		row.ParentJobID = &ev.ParentJobID
	}

	if err := o.ledger.StartJob(ctx, row); err != nil {
		if errors.Is(err, store.ErrJobRunning) {
			return nil, fmt.Errorf("%s: %w", jobID, ErrAlreadyRunning)
		}
		return nil, fmt.Errorf("start job %s: %w", jobID, err)
	}

	runCtx, cancel := context.WithCancelCause(runParent)

	o.mu.Lock()
	o.active[jobID] = cancel
	o.mu.Unlock()

	if !wf.Internal {
		msgID, err := o.notifier.Notify(ctx, notify.Event{
			Type:  notify.JobStarted,
			JobID: jobID,
			Title: title,
			RunID: runID,
		}, "")
		if err != nil {
			o.logger.Warn("start notification failed", "job_id", jobID, "error", err)
		} else if msgID != "" {
			if err := o.ledger.SetJobNotifyMessageID(ctx, jobID, msgID); err != nil {
				o.logger.Warn("recording notification message failed", "job_id", jobID, "error", err)
			}
		}
	}

	h := &Handle{JobID: jobID, RunID: runID, done: make(chan struct{})}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		h.err = o.execute(runCtx, wf, ev, row)
		close(h.done)
	}()

	return h, nil
}

// execute runs the workflow body and settles the ledger row exactly once.
func (o *Orchestrator) execute(runCtx context.Context, wf *Workflow, ev Event, row *store.Job) error {
	defer func() {
		o.mu.Lock()
		if cancel, ok := o.active[row.ID]; ok {
			delete(o.active, row.ID)
			cancel(nil)
		}
		o.mu.Unlock()
	}()

	tracer := otel.Tracer("orchestrator")
	spanCtx, span := tracer.Start(runCtx, "run_workflow",
		trace.WithAttributes(
			attribute.String("workflow", wf.Name),
			attribute.String("job.id", row.ID),
			attribute.String("run.id", row.RunID),
		),
	)
	defer span.End()

	rc := &Run{
		orch:  o,
		ctx:   logger.WithJobID(spanCtx, row.ID),
		jobID: row.ID,
		runID: row.RunID,
		logger: o.logger.With(
			"workflow", wf.Name,
			"job_id", row.ID,
			"run_id", row.RunID,
		),
	}

	rc.logger.Info("workflow started", "title", row.Title)
	err := wf.Run(rc, ev)

	// A cancelled run's row was already settled by Cancel; writing COMPLETED
	// or FAILED here would resurrect it.
	if cause := context.Cause(runCtx); errors.Is(cause, ErrCancelled) || errors.Is(err, ErrCancelled) {
		rc.logger.Info("workflow cancelled")
		return ErrCancelled
	}

	// The run outlived its trigger; settle the row with a fresh context.
	settleCtx, cancelSettle := context.WithTimeout(context.WithoutCancel(runCtx), 30*time.Second)
	defer cancelSettle()

	now := time.Now().UTC()
	if err != nil {
		span.RecordError(err)
		rc.logger.Error("workflow failed", "error", err)
		o.settle(settleCtx, wf, row, store.JobStatusFailed, now, err)
		return err
	}

	rc.logger.Info("workflow completed", "duration", now.Sub(row.StartedAt).String())
	o.settle(settleCtx, wf, row, store.JobStatusCompleted, now, nil)
	return nil
}

func (o *Orchestrator) settle(ctx context.Context, wf *Workflow, row *store.Job, status store.JobStatus, endedAt time.Time, runErr error) {
	observability.WorkflowRuns.WithLabelValues(wf.Name, string(status)).Inc()

	updated, err := o.ledger.FinishJob(ctx, row.ID, status, endedAt)
	if err != nil {
		o.logger.Error("settling job failed", "job_id", row.ID, "status", string(status), "error", err)
		return
	}

	// Cancel won the race to settle the row; the CANCELLED notification was
	// its responsibility.
	if updated == nil || updated.Status == store.JobStatusCancelled {
		return
	}

	if wf.Internal {
		return
	}

	ev := notify.Event{
		JobID: row.ID,
		Title: row.Title,
		RunID: row.RunID,
	}
	switch status {
	case store.JobStatusCompleted:
		ev.Type = notify.JobCompleted
	case store.JobStatusFailed:
		ev.Type = notify.JobFailed
		if runErr != nil {
			ev.Error = runErr.Error()
		}
	default:
		return
	}

	prev := ""
	if updated.NotifyMessageID != nil {
		prev = *updated.NotifyMessageID
	}
	if _, err := o.notifier.Notify(ctx, ev, prev); err != nil {
		o.logger.Warn("lifecycle notification failed", "job_id", row.ID, "error", err)
	}
}

// Invoke starts wf and blocks until the run finishes, returning its error.
// ErrAlreadyRunning is returned without executing anything.
func (o *Orchestrator) Invoke(ctx context.Context, wf *Workflow, ev Event) error {
	h, err := o.Start(ctx, wf, ev)
	if err != nil {
		return err
	}
	return h.Wait(ctx)
}

// Cancel marks a RUNNING job CANCELLED, interrupts its in-process run, and
// fans the cancellation out to all RUNNING children asynchronously. A job
// that already settled keeps its outcome and Cancel returns ErrJobSettled;
// cancelling an already-CANCELLED job is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	row, err := o.ledger.FinishJob(ctx, jobID, store.JobStatusCancelled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	if row == nil {
		return fmt.Errorf("cancel job %s: unknown job", jobID)
	}
	if row.Status != store.JobStatusCancelled {
		return fmt.Errorf("cancel job %s: %w", jobID, ErrJobSettled)
	}

	o.mu.Lock()
	cancel, running := o.active[jobID]
	o.mu.Unlock()
	if running {
		cancel(ErrCancelled)
	}

	children, err := o.ledger.RunningChildren(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list children of %s: %w", jobID, err)
	}
	for _, child := range children {
		go func(id string) {
			if err := o.Cancel(context.WithoutCancel(ctx), id); err != nil {
				o.logger.Warn("child cancellation failed", "job_id", id, "error", err)
			}
		}(child.ID)
	}

	o.logger.Info("job cancelled", "job_id", jobID, "children", len(children))

	if row.NotifyMessageID != nil && *row.NotifyMessageID != "" {
		_, err := o.notifier.Notify(ctx, notify.Event{
			Type:  notify.JobCancelled,
			JobID: jobID,
			Title: row.Title,
			RunID: row.RunID,
		}, *row.NotifyMessageID)
		if err != nil {
			o.logger.Warn("cancellation notification failed", "job_id", jobID, "error", err)
		}
	}

	return nil
}

// Shutdown waits for all in-flight runs to finish or ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
