package job

import "context"

// Event is the trigger delivered to a workflow run.
type Event struct {
	// ID correlates a run with its trigger; assigned if empty.
	ID string

	// ParentJobID links a child run to the job that invoked it.
	ParentJobID string

	// Payload is the workflow-specific input.
	Payload any
}

// Workflow is a registered, named unit of orchestrated work. The job id of a
// run is the workflow name, optionally extended by DeriveID, so that two
// triggers with the same derived key collapse onto one ledger row.
type Workflow struct {
	Name string

	// Internal workflows do not emit lifecycle notifications.
	Internal bool

	// DeriveID extends the job id with a per-trigger key. Nil means the
	// workflow is a singleton: at most one run at a time, globally.
	DeriveID func(ev Event) string

	// Title renders the human-readable job title. Nil falls back to Name.
	Title func(ctx context.Context, ev Event) (string, error)

	// Run is the workflow body. It executes on its own goroutine with a
	// context that is cancelled when the job is cancelled.
	Run func(rc *Run, ev Event) error
}

// JobID returns the ledger id a given trigger maps onto.
func (w *Workflow) JobID(ev Event) string {
	if w.DeriveID == nil {
		return w.Name
	}
	return w.Name + ":" + w.DeriveID(ev)
}
