package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"shopsync/internal/notify"
	"shopsync/internal/store"
)

// memLedger is an in-memory store.Ledger for orchestrator tests.
type memLedger struct {
	mu    sync.Mutex
	jobs  map[string]*store.Job
	steps map[string]json.RawMessage
}

func newMemLedger() *memLedger {
	return &memLedger{
		jobs:  make(map[string]*store.Job),
		steps: make(map[string]json.RawMessage),
	}
}

func stepKey(jobID, runID, step string) string {
	return jobID + "|" + runID + "|" + step
}

func (m *memLedger) StartJob(_ context.Context, job *store.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.jobs[job.ID]; ok && existing.Status == store.JobStatusRunning {
		return store.ErrJobRunning
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memLedger) FinishJob(_ context.Context, id string, status store.JobStatus, endedAt time.Time) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	// First writer wins; a settled row is returned unchanged.
	if row.Status == store.JobStatusRunning {
		row.Status = status
		row.EndedAt = &endedAt
	}
	cp := *row
	return &cp, nil
}

func (m *memLedger) GetJob(_ context.Context, id string) (*store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (m *memLedger) RecentJobs(_ context.Context, limit int) ([]store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Job
	for _, row := range m.jobs {
		out = append(out, *row)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memLedger) RunningChildren(_ context.Context, id string) ([]store.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Job
	for _, row := range m.jobs {
		if row.ParentJobID != nil && *row.ParentJobID == id && row.Status == store.JobStatusRunning {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *memLedger) SetJobNotifyMessageID(_ context.Context, id, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.jobs[id]; ok {
		row.NotifyMessageID = &messageID
	}
	return nil
}

func (m *memLedger) GetStepResult(_ context.Context, jobID, runID, step string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.steps[stepKey(jobID, runID, step)]
	return raw, ok, nil
}

func (m *memLedger) PutStepResult(_ context.Context, jobID, runID, step string, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[stepKey(jobID, runID, step)] = result
	return nil
}

func (m *memLedger) status(t *testing.T, id string) store.JobStatus {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.jobs[id]
	if !ok {
		t.Fatalf("job %s not in ledger", id)
	}
	return row.Status
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	prevs  []string
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event, prev string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.prevs = append(r.prevs, prev)
	return fmt.Sprintf("msg-%d", len(r.events)), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOrchestrator(t *testing.T, ledger store.Ledger, notifier notify.Notifier) *Orchestrator {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, ledger, notifier, testLogger(), Config{
		StepAttempts: 3,
		StepBackoff:  time.Millisecond,
	})
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestStartSuppressesDuplicate(t *testing.T) {
	ledger := newMemLedger()
	o := testOrchestrator(t, ledger, nil)

	release := make(chan struct{})
	wf := &Workflow{
		Name:     "scrape-store",
		Internal: true,
		DeriveID: func(ev Event) string { return ev.Payload.(string) },
		Run: func(rc *Run, ev Event) error {
			<-release
			return nil
		},
	}

	h, err := o.Start(context.Background(), wf, Event{Payload: "ww-1"})
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if h.JobID != "scrape-store:ww-1" {
		t.Errorf("job id = %s, want scrape-store:ww-1", h.JobID)
	}

	if _, err := o.Start(context.Background(), wf, Event{Payload: "ww-1"}); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("duplicate start: got %v, want ErrAlreadyRunning", err)
	}

	// A different derived key is a different job.
	h2, err := o.Start(context.Background(), wf, Event{Payload: "ww-2"})
	if err != nil {
		t.Fatalf("distinct key start: %v", err)
	}

	close(release)
	if err := h.Wait(context.Background()); err != nil {
		t.Errorf("wait: %v", err)
	}
	if err := h2.Wait(context.Background()); err != nil {
		t.Errorf("wait h2: %v", err)
	}

	if got := ledger.status(t, "scrape-store:ww-1"); got != store.JobStatusCompleted {
		t.Errorf("final status = %s, want COMPLETED", got)
	}
}

func TestStartAgainAfterCompletion(t *testing.T) {
	ledger := newMemLedger()
	o := testOrchestrator(t, ledger, nil)

	wf := &Workflow{
		Name:     "reindex",
		Internal: true,
		Run:      func(rc *Run, ev Event) error { return nil },
	}

	if err := o.Invoke(context.Background(), wf, Event{}); err != nil {
		t.Fatalf("first invoke: %v", err)
	}
	if err := o.Invoke(context.Background(), wf, Event{}); err != nil {
		t.Fatalf("second invoke after completion: %v", err)
	}
}

func TestStepMemoizesWithinRun(t *testing.T) {
	ledger := newMemLedger()
	o := testOrchestrator(t, ledger, nil)

	calls := 0
	wf := &Workflow{
		Name:     "memo",
		Internal: true,
		Run: func(rc *Run, ev Event) error {
			first, err := Step(rc, "load", func(ctx context.Context) (int, error) {
				calls++
				return 42, nil
			})
			if err != nil {
				return err
			}
			second, err := Step(rc, "load", func(ctx context.Context) (int, error) {
				calls++
				return 0, errors.New("must not execute")
			})
			if err != nil {
				return err
			}
			if first != 42 || second != 42 {
				return fmt.Errorf("got %d, %d, want 42, 42", first, second)
			}
			return nil
		},
	}

	if err := o.Invoke(context.Background(), wf, Event{}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if calls != 1 {
		t.Errorf("step executed %d times, want 1", calls)
	}
}

func TestStepRetriesWithBackoff(t *testing.T) {
	ledger := newMemLedger()
	o := testOrchestrator(t, ledger, nil)

	calls := 0
	wf := &Workflow{
		Name:     "flaky",
		Internal: true,
		Run: func(rc *Run, ev Event) error {
			got, err := Step(rc, "fetch", func(ctx context.Context) (string, error) {
				calls++
				if calls < 3 {
					return "", errors.New("transient")
				}
				return "ok", nil
			})
			if err != nil {
				return err
			}
			if got != "ok" {
				return fmt.Errorf("got %q", got)
			}
			return nil
		},
	}

	if err := o.Invoke(context.Background(), wf, Event{}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if calls != 3 {
		t.Errorf("step executed %d times, want 3", calls)
	}
}

func TestStepNonRetriableFailsFast(t *testing.T) {
	ledger := newMemLedger()
	o := testOrchestrator(t, ledger, nil)

	calls := 0
	boom := errors.New("bad input")
	wf := &Workflow{
		Name:     "fatal",
		Internal: true,
		Run: func(rc *Run, ev Event) error {
			_, err := Step(rc, "validate", func(ctx context.Context) (int, error) {
				calls++
				return 0, NonRetriable(boom)
			})
			return err
		},
	}

	err := o.Invoke(context.Background(), wf, Event{})
	if !errors.Is(err, boom) {
		t.Fatalf("invoke: got %v, want wrapped %v", err, boom)
	}
	if calls != 1 {
		t.Errorf("step executed %d times, want 1", calls)
	}
	if got := ledger.status(t, "fatal"); got != store.JobStatusFailed {
		t.Errorf("final status = %s, want FAILED", got)
	}
}

func TestCancelFansOutToRunningChildren(t *testing.T) {
	ledger := newMemLedger()
	o := testOrchestrator(t, ledger, nil)

	childStarted := make(chan struct{})
	child := &Workflow{
		Name:     "child",
		Internal: true,
		Run: func(rc *Run, ev Event) error {
			close(childStarted)
			<-rc.Context().Done()
			return context.Cause(rc.Context())
		},
	}

	parent := &Workflow{
		Name:     "parent",
		Internal: true,
		Run: func(rc *Run, ev Event) error {
			return rc.Invoke(child, nil)
		},
	}

	h, err := o.Start(context.Background(), parent, Event{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-childStarted

	if err := o.Cancel(context.Background(), "parent"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := h.Wait(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Errorf("wait: got %v, want ErrCancelled", err)
	}

	if got := ledger.status(t, "parent"); got != store.JobStatusCancelled {
		t.Errorf("parent status = %s, want CANCELLED", got)
	}
	waitFor(t, func() bool {
		return ledger.status(t, "child") == store.JobStatusCancelled
	})
}

func TestCancelAfterCompletionKeepsOutcome(t *testing.T) {
	ledger := newMemLedger()
	rec := &recordingNotifier{}
	o := testOrchestrator(t, ledger, rec)

	wf := &Workflow{
		Name:     "reindex",
		Internal: true,
		Run:      func(rc *Run, ev Event) error { return nil },
	}
	if err := o.Invoke(context.Background(), wf, Event{}); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	if err := o.Cancel(context.Background(), "reindex"); !errors.Is(err, ErrJobSettled) {
		t.Fatalf("cancel settled job: got %v, want ErrJobSettled", err)
	}
	if got := ledger.status(t, "reindex"); got != store.JobStatusCompleted {
		t.Errorf("status = %s, want COMPLETED untouched", got)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, ev := range rec.events {
		if ev.Type == notify.JobCancelled {
			t.Error("cancellation notification fired for a settled job")
		}
	}
}

func TestCancelCancelledJobIsIdempotent(t *testing.T) {
	ledger := newMemLedger()
	o := testOrchestrator(t, ledger, nil)

	started := make(chan struct{})
	wf := &Workflow{
		Name:     "long",
		Internal: true,
		Run: func(rc *Run, ev Event) error {
			close(started)
			<-rc.Context().Done()
			return context.Cause(rc.Context())
		},
	}

	h, err := o.Start(context.Background(), wf, Event{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started

	if err := o.Cancel(context.Background(), "long"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := h.Wait(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Errorf("wait: got %v, want ErrCancelled", err)
	}
	if err := o.Cancel(context.Background(), "long"); err != nil {
		t.Fatalf("second cancel must be a no-op, got %v", err)
	}
	if got := ledger.status(t, "long"); got != store.JobStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", got)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	o := testOrchestrator(t, newMemLedger(), nil)
	if err := o.Cancel(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestLifecycleNotifications(t *testing.T) {
	ledger := newMemLedger()
	rec := &recordingNotifier{}
	o := testOrchestrator(t, ledger, rec)

	boom := errors.New("upstream 500")
	wf := &Workflow{
		Name:  "sync",
		Title: func(ctx context.Context, ev Event) (string, error) { return "Daily sync", nil },
		Run:   func(rc *Run, ev Event) error { return boom },
	}

	if err := o.Invoke(context.Background(), wf, Event{}); !errors.Is(err, boom) {
		t.Fatalf("invoke: %v", err)
	}

	waitFor(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.events) == 2
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.events[0].Type != notify.JobStarted || rec.events[0].Title != "Daily sync" {
		t.Errorf("first event = %+v, want JOB_STARTED/Daily sync", rec.events[0])
	}
	if rec.events[1].Type != notify.JobFailed || rec.events[1].Error == "" {
		t.Errorf("second event = %+v, want JOB_FAILED with error", rec.events[1])
	}
	// The failure notice updates the start message in place.
	if rec.prevs[1] != "msg-1" {
		t.Errorf("failure prev message id = %q, want msg-1", rec.prevs[1])
	}
}

func TestInternalWorkflowIsSilent(t *testing.T) {
	rec := &recordingNotifier{}
	o := testOrchestrator(t, newMemLedger(), rec)

	wf := &Workflow{
		Name:     "housekeeping",
		Internal: true,
		Run:      func(rc *Run, ev Event) error { return nil },
	}
	if err := o.Invoke(context.Background(), wf, Event{}); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 0 {
		t.Errorf("internal workflow emitted %d notifications", len(rec.events))
	}
}
