package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/agentcp/controlplane/internal/telemetry"
)

// wakeLimitPerSecond bounds how many wake-triggered scheduling passes the
// loop performs per second. Enqueue bursts and rapid job transitions can
// each signal the wake channel; without a limiter a storm of single-job
// enqueues degenerates into a busy-loop of single-job passes instead of
// batching. The 100ms background ticker still guarantees forward progress
// when the limiter is saturated.
const wakeLimitPerSecond = 50

// TurnInterrupter asks the downstream assistant runtime to halt an in-flight
// turn. The queue calls this for jobs whose definition uses the
// interrupt_turn cancel strategy. Implemented by the Runtime Profile Adapter.
type TurnInterrupter interface {
	InterruptTurn(ctx context.Context, threadID, turnID string) error
}

// Hooks are best-effort lifecycle callbacks. A hook failure (error or panic)
// is logged and swallowed: it never influences job state (spec §4.1
// "Failure Semantics").
type Hooks struct {
	OnQueued    func(job *Job) error
	OnStarted   func(job *Job) error
	OnCompleted func(job *Job) error
	OnFailed    func(job *Job) error
	OnCanceled  func(job *Job) error
}

// Config bundles the tunables the scheduler reads from the environment
// (spec §6).
type Config struct {
	GlobalConcurrency   int
	MaxPerProject       int
	MaxGlobal           int
	DefaultTimeout      time.Duration
	BackgroundAgingMs   time.Duration
	MaxInteractiveBurst int
	RetentionCap        int
}

// DefaultConfig returns the documented spec defaults.
func DefaultConfig() Config {
	return Config{
		GlobalConcurrency:   2,
		MaxPerProject:       100,
		MaxGlobal:           500,
		DefaultTimeout:      60 * time.Second,
		BackgroundAgingMs:   15 * time.Second,
		MaxInteractiveBurst: 3,
		RetentionCap:        200,
	}
}

// EnqueueInput describes a requested job.
type EnqueueInput struct {
	Type      string
	ProjectID string
	SessionID string
	Priority  Priority
	DedupeKey string
	Payload   json.RawMessage
}

// EnqueueStatus is the outcome of an Enqueue call.
type EnqueueStatus string

const (
	Enqueued      EnqueueStatus = "enqueued"
	AlreadyQueued EnqueueStatus = "already_queued"
)

// EnqueueResult is returned by Enqueue.
type EnqueueResult struct {
	Status EnqueueStatus
	Job    *Job
}

// CancelStatus is the outcome of a Cancel call.
type CancelStatus string

const (
	CancelNotFound        CancelStatus = "not_found"
	CancelAlreadyTerminal CancelStatus = "already_terminal"
	CancelCanceled        CancelStatus = "canceled"
)

// CancelResult is returned by Cancel.
type CancelResult struct {
	Status CancelStatus
	Job    *Job
}

// Queue is the Orchestrator Queue: a single-threaded scheduling core with
// cooperative concurrency (spec §4.1, §5).
type Queue struct {
	cfg         Config
	registry    *Registry
	store       *SnapshotStore
	interrupter TurnInterrupter
	hooks       Hooks
	log         telemetry.Logger
	metrics     telemetry.Metrics

	progressMu   sync.Mutex
	progressSink func(ProgressEvent)

	mu              sync.Mutex
	jobs            map[string]*Job
	dedupeIndex     map[dedupeID]string
	runningProjects map[string]struct{}
	runningCount    int
	burst           map[string]int
	cancelFuncs     map[string]context.CancelFunc
	waiters         map[string][]chan *Job

	wakeLimiter *rate.Limiter

	wake     chan struct{}
	stopCh   chan struct{}
	stopped  bool
	started  bool
	wg       sync.WaitGroup
}

// New constructs an Orchestrator Queue. Call Start to recover prior state and
// begin scheduling.
func New(cfg Config, registry *Registry, store *SnapshotStore, interrupter TurnInterrupter, hooks Hooks, log telemetry.Logger, metrics telemetry.Metrics) *Queue {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Queue{
		cfg:             cfg,
		registry:        registry,
		store:           store,
		interrupter:     interrupter,
		hooks:           hooks,
		log:             log,
		metrics:         metrics,
		jobs:            make(map[string]*Job),
		dedupeIndex:     make(map[dedupeID]string),
		runningProjects: make(map[string]struct{}),
		burst:           make(map[string]int),
		cancelFuncs:     make(map[string]context.CancelFunc),
		waiters:         make(map[string][]chan *Job),
		wakeLimiter:     rate.NewLimiter(rate.Limit(wakeLimitPerSecond), wakeLimitPerSecond),
		wake:            make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
	}
}

// SetProgressSink installs the callback used by RunContext.EmitProgress.
func (q *Queue) SetProgressSink(fn func(ProgressEvent)) {
	q.progressMu.Lock()
	defer q.progressMu.Unlock()
	q.progressSink = fn
}

func (q *Queue) emitProgress(evt ProgressEvent) {
	q.progressMu.Lock()
	sink := q.progressSink
	q.progressMu.Unlock()
	if sink == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				q.log.Warn(context.Background(), "progress sink panicked", "job_id", evt.JobID, "panic", r)
			}
		}()
		sink(evt)
	}()
}

// Start loads the snapshot, recovers crashed jobs (spec §4.1 "Crash
// Recovery"), and launches the scheduler loop.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	q.mu.Unlock()

	if q.store != nil {
		q.store.Start()
		loaded, err := q.store.Load()
		if err != nil {
			return fmt.Errorf("queue: load snapshot: %w", err)
		}
		q.recover(loaded)
	}

	q.wg.Add(1)
	go q.schedulerLoop()
	q.signalWake()
	return nil
}

// Drain blocks until no job is running or ctx is done, then aborts any jobs
// still running. This is the supplemental teardown operation named in
// SPEC_FULL.md (§9 "Global mutable state").
func (q *Queue) Drain(ctx context.Context) {
	for {
		q.mu.Lock()
		n := q.runningCount
		q.mu.Unlock()
		if n == 0 {
			break
		}
		select {
		case <-ctx.Done():
			q.abortAllRunning()
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Stop terminates the scheduler loop and the snapshot writer.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()
	close(q.stopCh)
	q.wg.Wait()
	if q.store != nil {
		q.store.Stop()
	}
}

func (q *Queue) abortAllRunning() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, cancel := range q.cancelFuncs {
		cancel()
	}
}

func (q *Queue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) schedulerLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-q.wake:
			if q.wakeLimiter.Allow() {
				q.schedulePass()
			}
		case <-ticker.C:
			q.schedulePass()
		}
	}
}

// schedulePass is the re-entrant scheduling pass (spec §4.1.2). It is safe to
// call repeatedly; each call starts as many runnable jobs as available slots
// and eligible projects allow.
func (q *Queue) schedulePass() {
	for {
		job, def := q.pickNext()
		if job == nil {
			return
		}
		q.startJob(job, def)
	}
}

// pickNext selects the next runnable job under the lock and marks it as
// claimed (but does not yet transition it to running -- startJob does that)
// so a concurrent call cannot double-pick it.
func (q *Queue) pickNext() (*Job, *Definition) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.runningCount >= q.cfg.GlobalConcurrency {
		return nil, nil
	}

	now := time.Now()
	type candidate struct {
		job  *Job
		aged bool
	}
	var interactive, background []candidate
	droppedUnknownType := false

	for _, j := range q.jobs {
		if j.State != StateQueued {
			continue
		}
		if !j.NextAttemptAt.IsZero() && j.NextAttemptAt.After(now) {
			continue
		}
		if _, busy := q.runningProjects[j.ProjectID]; busy {
			continue
		}
		if _, ok := q.registry.Lookup(j.Type); !ok {
			// Definition vanished after enqueue: fail fast so the scheduler
			// never spins on an unrunnable job.
			j.State = StateFailed
			j.Error = "unknown_job_type"
			j.CompletedAt = now
			droppedUnknownType = true
			continue
		}
		aged := j.Priority == PriorityBackground &&
			q.cfg.BackgroundAgingMs > 0 &&
			now.Sub(j.CreatedAt) >= q.cfg.BackgroundAgingMs &&
			q.burst[j.ProjectID] >= q.cfg.MaxInteractiveBurst
		if aged {
			interactive = append(interactive, candidate{job: j, aged: true}) // placeholder, sorted into aged tier below
			continue
		}
		if j.Priority == PriorityInteractive {
			interactive = append(interactive, candidate{job: j})
		} else {
			background = append(background, candidate{job: j})
		}
	}

	var aged, trueInteractive []candidate
	for _, c := range interactive {
		if c.aged {
			aged = append(aged, c)
		} else {
			trueInteractive = append(trueInteractive, c)
		}
	}
	sortByCreated := func(cs []candidate) {
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].job.CreatedAt.Before(cs[j].job.CreatedAt) })
	}
	sortByCreated(aged)
	sortByCreated(trueInteractive)
	sortByCreated(background)

	ordered := append(append(aged, trueInteractive...), background...)
	if len(ordered) == 0 {
		if droppedUnknownType {
			q.persistLocked()
		}
		return nil, nil
	}
	picked := ordered[0].job
	def, _ := q.registry.Lookup(picked.Type)

	q.runningProjects[picked.ProjectID] = struct{}{}
	q.runningCount++
	if picked.Priority == PriorityInteractive {
		q.burst[picked.ProjectID]++
	} else {
		q.burst[picked.ProjectID] = 0
	}
	return picked, def
}

func (q *Queue) startJob(job *Job, def *Definition) {
	q.mu.Lock()
	job.State = StateRunning
	job.StartedAt = time.Now()
	job.LastAttemptAt = job.StartedAt
	job.Attempts++
	job.Error = ""
	job.Result = nil
	job.RunningContext = nil
	ctx, cancel := context.WithCancel(context.Background())
	q.cancelFuncs[job.ID] = cancel
	q.persistLocked()
	q.mu.Unlock()

	q.runHook(q.hooks.OnStarted, job)

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = q.cfg.DefaultTimeout
	}
	timer := time.AfterFunc(timeout, func() {
		q.log.Warn(context.Background(), "job timeout", "job_id", job.ID, "type", job.Type)
		cancel()
	})

	rc := &RunContext{ctx: ctx, jobID: job.ID, q: q}
	go func() {
		defer timer.Stop()
		result, err := def.Run(ctx, rc, job.Payload)
		q.finishJob(job.ID, def, result, err, ctx.Err() != nil)
	}()
}

func (q *Queue) setRunningContext(jobID, threadID, turnID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok || j.State != StateRunning {
		return
	}
	j.RunningContext = &RunningContext{ThreadID: threadID, TurnID: turnID}
	q.persistLocked()
}

func (q *Queue) finishJob(jobID string, def *Definition, result json.RawMessage, runErr error, timedOut bool) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}
	delete(q.cancelFuncs, jobID)
	q.runningCount--
	delete(q.runningProjects, job.ProjectID)
	wasCancelRequested := !job.CancelRequestedAt.IsZero()

	switch {
	case runErr == nil:
		if verr := def.ValidateResult(result); verr != nil {
			job.State = StateFailed
			job.Error = fmt.Sprintf("invalid_result: %v", verr)
			job.CompletedAt = time.Now()
			job.RunningContext = nil
			q.persistLocked()
			q.mu.Unlock()
			q.runHook(q.hooks.OnFailed, job)
			q.resolveWaiters(job)
			q.signalWake()
			return
		}
		job.Result = result
		job.State = StateCompleted
		job.CompletedAt = time.Now()
		job.RunningContext = nil
		q.persistLocked()
		q.mu.Unlock()
		q.metrics.IncCounter("queue.job.completed", 1, "type", job.Type)
		q.runHook(q.hooks.OnCompleted, job)
		q.resolveWaiters(job)
		q.signalWake()
		return

	case wasCancelRequested && def.CancelStrategy != "":
		job.State = StateCanceled
		job.Error = "canceled"
		job.CompletedAt = time.Now()
		job.RunningContext = nil
		q.persistLocked()
		q.mu.Unlock()
		q.metrics.IncCounter("queue.job.canceled", 1, "type", job.Type)
		q.runHook(q.hooks.OnCanceled, job)
		q.resolveWaiters(job)
		q.signalWake()
		return
	}

	class := def.Classify(runErr)
	if timedOut {
		// The timeout path cancels the run's context directly (ctx.Err() is
		// context.Canceled, not context.DeadlineExceeded), so def.Classify
		// cannot tell a timeout apart from any other error here. Per
		// spec.md's timeout semantics, a scheduler-fired timeout is always
		// retryable regardless of what the classifier would have said.
		class = Retryable
	}
	if class == Retryable && job.Attempts < job.MaxAttempts {
		job.State = StateQueued
		job.Error = runErr.Error()
		job.NextAttemptAt = time.Now().Add(def.Delay(job.Attempts))
		job.RunningContext = nil
		q.persistLocked()
		q.mu.Unlock()
		q.metrics.IncCounter("queue.job.retry", 1, "type", job.Type)
		q.runHook(q.hooks.OnQueued, job)
		q.signalWake()
		return
	}

	job.State = StateFailed
	job.Error = runErr.Error()
	job.CompletedAt = time.Now()
	job.RunningContext = nil
	q.persistLocked()
	q.mu.Unlock()
	q.metrics.IncCounter("queue.job.failed", 1, "type", job.Type)
	q.runHook(q.hooks.OnFailed, job)
	q.resolveWaiters(job)
	q.signalWake()
}

func (q *Queue) runHook(hook func(job *Job) error, job *Job) {
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.log.Error(context.Background(), "queue hook panicked", "job_id", job.ID, "panic", r)
		}
	}()
	if err := hook(job.Clone()); err != nil {
		q.log.Warn(context.Background(), "queue hook failed", "job_id", job.ID, "error", err.Error())
	}
}

// Enqueue implements the admission algorithm of spec §4.1.1.
func (q *Queue) Enqueue(ctx context.Context, in EnqueueInput) (EnqueueResult, error) {
	def, ok := q.registry.Lookup(in.Type)
	if !ok {
		return EnqueueResult{}, ErrUnknownJobType
	}
	if in.Payload == nil {
		in.Payload = json.RawMessage(`{}`)
	}
	if err := def.ValidatePayload(in.Payload); err != nil {
		return EnqueueResult{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if in.Priority == "" {
		in.Priority = PriorityBackground
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	did := dedupeID{ProjectID: in.ProjectID, Type: in.Type, Key: in.DedupeKey}
	if def.Dedupe != DedupeNone && in.DedupeKey != "" {
		if existingID, found := q.dedupeIndex[did]; found {
			existing := q.jobs[existingID]
			if existing != nil && !existing.State.Terminal() {
				switch def.Dedupe {
				case SingleFlight, DropDuplicate:
					return EnqueueResult{Status: AlreadyQueued, Job: existing.Clone()}, nil
				case MergeDuplicate:
					merged, err := def.Merge(existing.Payload, in.Payload)
					if err != nil {
						return EnqueueResult{}, fmt.Errorf("%w: merge: %v", ErrInvalidPayload, err)
					}
					if err := def.ValidatePayload(merged); err != nil {
						return EnqueueResult{}, fmt.Errorf("%w: merged payload: %v", ErrInvalidPayload, err)
					}
					existing.Payload = merged
					q.persistLocked()
					return EnqueueResult{Status: AlreadyQueued, Job: existing.Clone()}, nil
				}
			}
		}
	}

	if q.cfg.MaxGlobal > 0 && q.countActiveGlobal() >= q.cfg.MaxGlobal {
		return EnqueueResult{}, ErrQueueFull
	}
	if q.cfg.MaxPerProject > 0 && q.countActiveProject(in.ProjectID) >= q.cfg.MaxPerProject {
		return EnqueueResult{}, ErrQueueFull
	}

	job := &Job{
		ID:          uuid.NewString(),
		Type:        in.Type,
		SchemaVer:   1,
		ProjectID:   in.ProjectID,
		SessionID:   in.SessionID,
		Priority:    in.Priority,
		State:       StateQueued,
		DedupeKey:   in.DedupeKey,
		Payload:     in.Payload,
		MaxAttempts: def.MaxAttempts,
		CreatedAt:   time.Now(),
	}
	q.jobs[job.ID] = job
	if def.Dedupe != DedupeNone && in.DedupeKey != "" {
		q.dedupeIndex[did] = job.ID
	}
	q.trimRetentionLocked(in.ProjectID)
	q.persistLocked()
	q.metrics.IncCounter("queue.job.enqueued", 1, "type", job.Type)

	clone := job.Clone()
	defer q.signalWake()
	go q.runHook(q.hooks.OnQueued, job)
	return EnqueueResult{Status: Enqueued, Job: clone}, nil
}

func (q *Queue) countActiveGlobal() int {
	n := 0
	for _, j := range q.jobs {
		if !j.State.Terminal() {
			n++
		}
	}
	return n
}

func (q *Queue) countActiveProject(projectID string) int {
	n := 0
	for _, j := range q.jobs {
		if j.ProjectID == projectID && !j.State.Terminal() {
			n++
		}
	}
	return n
}

// Cancel implements spec §4.1 step 7.
func (q *Queue) Cancel(jobID, reason string) (CancelResult, error) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return CancelResult{Status: CancelNotFound}, nil
	}
	if job.State.Terminal() {
		clone := job.Clone()
		q.mu.Unlock()
		return CancelResult{Status: CancelAlreadyTerminal, Job: clone}, nil
	}
	job.CancelRequestedAt = time.Now()
	def, _ := q.registry.Lookup(job.Type)

	if job.State == StateQueued {
		job.State = StateCanceled
		job.CompletedAt = time.Now()
		job.Error = reason
		q.persistLocked()
		clone := job.Clone()
		q.mu.Unlock()
		q.runHook(q.hooks.OnCanceled, job)
		q.resolveWaiters(job)
		q.signalWake()
		return CancelResult{Status: CancelCanceled, Job: clone}, nil
	}

	// job.State == StateRunning
	cancel := q.cancelFuncs[job.ID]
	strategy := CancelMarkCanceled
	var grace time.Duration
	if def != nil {
		strategy = def.CancelStrategy
		grace = def.GracefulWait
	}
	rcCopy := job.RunningContext
	q.mu.Unlock()

	if strategy == CancelInterruptTurn && q.interrupter != nil && rcCopy != nil {
		go func() {
			ictx, icancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer icancel()
			if err := q.interrupter.InterruptTurn(ictx, rcCopy.ThreadID, rcCopy.TurnID); err != nil {
				q.log.Warn(context.Background(), "interrupt turn failed", "job_id", job.ID, "error", err.Error())
			}
			if grace <= 0 {
				grace = 5 * time.Second
			}
			timer := time.NewTimer(grace)
			defer timer.Stop()
			<-timer.C
			if cancel != nil {
				cancel()
			}
		}()
	} else if cancel != nil {
		cancel()
	}

	return CancelResult{Status: CancelCanceled, Job: job.Clone()}, nil
}

// Get returns a clone of the job, or nil if it does not exist.
func (q *Queue) Get(jobID string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return nil
	}
	return j.Clone()
}

// ListByProject returns clones of jobs for the given project, optionally
// filtered by state, ordered by creation time.
func (q *Queue) ListByProject(projectID string, state *State) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Job
	for _, j := range q.jobs {
		if j.ProjectID != projectID {
			continue
		}
		if state != nil && j.State != *state {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// WaitForTerminal blocks until the job reaches a terminal state or timeout
// elapses, returning nil on timeout. It never blocks the scheduler.
func (q *Queue) WaitForTerminal(jobID string, timeout time.Duration) *Job {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return nil
	}
	if job.State.Terminal() {
		clone := job.Clone()
		q.mu.Unlock()
		return clone
	}
	ch := make(chan *Job, 1)
	q.waiters[jobID] = append(q.waiters[jobID], ch)
	q.mu.Unlock()

	select {
	case j := <-ch:
		return j
	case <-time.After(timeout):
		return nil
	}
}

func (q *Queue) resolveWaiters(job *Job) {
	q.mu.Lock()
	chans := q.waiters[job.ID]
	delete(q.waiters, job.ID)
	clone := job.Clone()
	q.mu.Unlock()
	for _, ch := range chans {
		ch <- clone
	}
}

// recover implements spec §4.1 "Crash Recovery".
func (q *Queue) recover(jobs []*Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	for _, j := range jobs {
		def, ok := q.registry.Lookup(j.Type)
		if !ok {
			continue // definition vanished: silently dropped, per Open Question (a)
		}
		if j.State == StateRunning {
			if err := def.ValidatePayload(j.Payload); err != nil {
				continue // payload no longer valid: dropped
			}
			if j.Attempts >= j.MaxAttempts {
				j.State = StateFailed
				j.Error = "recovery_max_attempts_exceeded"
				j.CompletedAt = now
				j.RunningContext = nil
			} else {
				j.State = StateQueued
				j.Error = "recovered_from_running_state"
				j.NextAttemptAt = now
				j.RunningContext = nil
			}
		}
		q.jobs[j.ID] = j
		if j.DedupeKey != "" && !j.State.Terminal() {
			q.dedupeIndex[dedupeID{ProjectID: j.ProjectID, Type: j.Type, Key: j.DedupeKey}] = j.ID
		}
	}
	q.persistLocked()
}

func (q *Queue) trimRetentionLocked(projectID string) {
	if q.cfg.RetentionCap <= 0 {
		return
	}
	var terminal []*Job
	for _, j := range q.jobs {
		if j.ProjectID == projectID && j.State.Terminal() {
			terminal = append(terminal, j)
		}
	}
	if len(terminal) <= q.cfg.RetentionCap {
		return
	}
	sort.SliceStable(terminal, func(i, k int) bool {
		// Failures/cancellations retained longer: completed jobs are evicted first.
		pi, pk := retentionPriority(terminal[i]), retentionPriority(terminal[k])
		if pi != pk {
			return pi < pk
		}
		return terminal[i].CompletedAt.Before(terminal[k].CompletedAt)
	})
	excess := len(terminal) - q.cfg.RetentionCap
	for i := 0; i < excess; i++ {
		delete(q.jobs, terminal[i].ID)
	}
}

// retentionPriority ranks completed jobs for eviction ahead of failed/canceled
// ones (spec §3 "failures/cancellations retained longer").
func retentionPriority(j *Job) int {
	if j.State == StateCompleted {
		return 0
	}
	return 1
}

func (q *Queue) persistLocked() {
	if q.store == nil {
		return
	}
	jobs := make([]*Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		jobs = append(jobs, j)
	}
	q.store.Save(jobs)
}
