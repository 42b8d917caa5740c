package queue

import "context"

// ProgressEvent is fanned out via the queue's progress callback whenever a
// run function calls RunContext.EmitProgress.
type ProgressEvent struct {
	JobID   string
	Payload map[string]any
}

// RunContext is handed to a Definition's RunFunc. It exposes the
// cancellation signal for the run, lets the run function report the
// {threadID, turnID} of the agent turn it is driving (persisted immediately),
// and lets it fan out progress events.
type RunContext struct {
	ctx context.Context

	jobID string
	q     *Queue
}

// Signal returns the context whose cancellation the run function must
// respect. It is canceled on explicit Cancel, on timeout, and when Drain's
// context ends while the job is still running. Stop does not cancel it.
func (rc *RunContext) Signal() context.Context { return rc.ctx }

// SetRunningContext records the {threadID, turnID} of the agent turn this run
// is driving. The scheduler persists the update immediately so a concurrent
// Cancel(interrupt_turn) can locate the turn to interrupt.
func (rc *RunContext) SetRunningContext(threadID, turnID string) {
	rc.q.setRunningContext(rc.jobID, threadID, turnID)
}

// EmitProgress fans out a progress event for this job. Progress events are
// best-effort: failures in the progress sink are logged and swallowed, they
// never affect job state.
func (rc *RunContext) EmitProgress(payload map[string]any) {
	rc.q.emitProgress(ProgressEvent{JobID: rc.jobID, Payload: payload})
}
