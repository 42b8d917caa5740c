package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, cfg Config, reg *Registry) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestrator-jobs.json")
	store := NewSnapshotStore(path)
	q := New(cfg, reg, store, nil, Hooks{}, nil, nil)
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(q.Stop)
	return q
}

func TestEnqueueSingleFlightDedupeAndRetry(t *testing.T) {
	reg := NewRegistry()
	var calls int32
	require.NoError(t, reg.Register(Definition{
		Type:        "T",
		Dedupe:      SingleFlight,
		MaxAttempts: 2,
		Timeout:     time.Second,
		Run: func(ctx context.Context, rc *RunContext, payload json.RawMessage) (json.RawMessage, error) {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				return nil, errors.New("temporarily unavailable")
			}
			return json.RawMessage(`{"ok":true}`), nil
		},
	}))

	cfg := DefaultConfig()
	q := newTestQueue(t, cfg, reg)

	r1, err := q.Enqueue(context.Background(), EnqueueInput{Type: "T", ProjectID: "p1", DedupeKey: "k1"})
	require.NoError(t, err)
	require.Equal(t, Enqueued, r1.Status)

	r2, err := q.Enqueue(context.Background(), EnqueueInput{Type: "T", ProjectID: "p1", DedupeKey: "k1"})
	require.NoError(t, err)
	require.Equal(t, AlreadyQueued, r2.Status)
	require.Equal(t, r1.Job.ID, r2.Job.ID)

	final := q.WaitForTerminal(r1.Job.ID, 5*time.Second)
	require.NotNil(t, final)
	require.Equal(t, StateCompleted, final.State)
	require.Equal(t, 2, final.Attempts)
}

func TestUnknownJobType(t *testing.T) {
	reg := NewRegistry()
	q := newTestQueue(t, DefaultConfig(), reg)
	_, err := q.Enqueue(context.Background(), EnqueueInput{Type: "missing", ProjectID: "p1"})
	require.ErrorIs(t, err, ErrUnknownJobType)
}

func TestInvalidPayloadRejected(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Type:          "T",
		PayloadSchema: json.RawMessage(`{"type":"object","required":["x"]}`),
		Run: func(ctx context.Context, rc *RunContext, payload json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		},
	}))
	q := newTestQueue(t, DefaultConfig(), reg)
	_, err := q.Enqueue(context.Background(), EnqueueInput{Type: "T", ProjectID: "p1", Payload: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestSchedulerTimeoutIsRetryable(t *testing.T) {
	reg := NewRegistry()
	var calls int32
	require.NoError(t, reg.Register(Definition{
		Type:        "T",
		MaxAttempts: 2,
		Timeout:     20 * time.Millisecond,
		// No Classify override: this exercises DefaultClassify, which
		// cannot recognize the timeout path's context.Canceled error — the
		// scheduler itself must force a timed-out run to Retryable.
		Run: func(ctx context.Context, rc *RunContext, payload json.RawMessage) (json.RawMessage, error) {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return json.RawMessage(`{"ok":true}`), nil
		},
	}))
	q := newTestQueue(t, DefaultConfig(), reg)

	res, err := q.Enqueue(context.Background(), EnqueueInput{Type: "T", ProjectID: "p1"})
	require.NoError(t, err)

	final := q.WaitForTerminal(res.Job.ID, 5*time.Second)
	require.NotNil(t, final)
	require.Equal(t, StateCompleted, final.State)
	require.Equal(t, 2, final.Attempts)
}

func TestOneRunningJobPerProject(t *testing.T) {
	reg := NewRegistry()
	release := make(chan struct{})
	require.NoError(t, reg.Register(Definition{
		Type:    "T",
		Timeout: 5 * time.Second,
		Run: func(ctx context.Context, rc *RunContext, payload json.RawMessage) (json.RawMessage, error) {
			<-release
			return json.RawMessage(`{}`), nil
		},
	}))
	cfg := DefaultConfig()
	cfg.GlobalConcurrency = 4
	q := newTestQueue(t, cfg, reg)

	r1, err := q.Enqueue(context.Background(), EnqueueInput{Type: "T", ProjectID: "p1"})
	require.NoError(t, err)
	r2, err := q.Enqueue(context.Background(), EnqueueInput{Type: "T", ProjectID: "p1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j1 := q.Get(r1.Job.ID)
		j2 := q.Get(r2.Job.ID)
		runningCount := 0
		if j1.State == StateRunning {
			runningCount++
		}
		if j2.State == StateRunning {
			runningCount++
		}
		return runningCount == 1
	}, time.Second, 10*time.Millisecond)

	close(release)
}

func TestCancelQueuedJob(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Type: "T",
		Run: func(ctx context.Context, rc *RunContext, payload json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		},
	}))
	cfg := DefaultConfig()
	cfg.GlobalConcurrency = 0 // nothing can start running
	q := newTestQueue(t, cfg, reg)

	r1, err := q.Enqueue(context.Background(), EnqueueInput{Type: "T", ProjectID: "p1"})
	require.NoError(t, err)

	res, err := q.Cancel(r1.Job.ID, "user requested")
	require.NoError(t, err)
	require.Equal(t, CancelCanceled, res.Status)
	require.Equal(t, StateCanceled, res.Job.State)
}

func TestMergeDuplicateDedupe(t *testing.T) {
	reg := NewRegistry()
	release := make(chan struct{})
	var seenPayload atomic.Value
	require.NoError(t, reg.Register(Definition{
		Type:   "T",
		Dedupe: MergeDuplicate,
		Merge: func(existing, incoming json.RawMessage) (json.RawMessage, error) {
			return incoming, nil
		},
		Timeout: 5 * time.Second,
		Run: func(ctx context.Context, rc *RunContext, payload json.RawMessage) (json.RawMessage, error) {
			seenPayload.Store(string(payload))
			<-release
			return json.RawMessage(`{}`), nil
		},
	}))
	q := newTestQueue(t, DefaultConfig(), reg)

	r1, err := q.Enqueue(context.Background(), EnqueueInput{Type: "T", ProjectID: "p1", DedupeKey: "k", Payload: json.RawMessage(`{"n":1}`)})
	require.NoError(t, err)
	require.Equal(t, Enqueued, r1.Status)

	r2, err := q.Enqueue(context.Background(), EnqueueInput{Type: "T", ProjectID: "p1", DedupeKey: "k", Payload: json.RawMessage(`{"n":2}`)})
	require.NoError(t, err)
	require.Equal(t, AlreadyQueued, r2.Status)
	require.Equal(t, r1.Job.ID, r2.Job.ID)
	require.JSONEq(t, `{"n":2}`, string(r2.Job.Payload))

	close(release)
}

func TestCancelInterruptTurnCallsInterrupterBeforeGrace(t *testing.T) {
	reg := NewRegistry()
	started := make(chan struct{})
	require.NoError(t, reg.Register(Definition{
		Type:           "T",
		Timeout:        5 * time.Second,
		CancelStrategy: CancelInterruptTurn,
		GracefulWait:   20 * time.Millisecond,
		Run: func(ctx context.Context, rc *RunContext, payload json.RawMessage) (json.RawMessage, error) {
			rc.SetRunningContext("thread-1", "turn-1")
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	interrupter := &fakeInterrupter{}
	cfg := DefaultConfig()
	path := filepath.Join(t.TempDir(), "orchestrator-jobs.json")
	store := NewSnapshotStore(path)
	q := New(cfg, reg, store, interrupter, Hooks{}, nil, nil)
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(q.Stop)

	r1, err := q.Enqueue(context.Background(), EnqueueInput{Type: "T", ProjectID: "p1"})
	require.NoError(t, err)

	<-started
	res, err := q.Cancel(r1.Job.ID, "user requested")
	require.NoError(t, err)
	require.Equal(t, CancelCanceled, res.Status)

	final := q.WaitForTerminal(r1.Job.ID, 2*time.Second)
	require.NotNil(t, final)
	require.Equal(t, StateCanceled, final.State)
	require.True(t, interrupter.called.Load())
}

type fakeInterrupter struct {
	called atomic.Bool
}

func (f *fakeInterrupter) InterruptTurn(ctx context.Context, threadID, turnID string) error {
	f.called.Store(true)
	return nil
}

func TestSnapshotLoadMissingFileReturnsEmpty(t *testing.T) {
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "missing.json"))
	jobs, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, jobs)
}

func TestSnapshotSaveAndLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator-jobs.json")
	store := NewSnapshotStore(path)
	store.Start()
	defer store.Stop()

	job := &Job{ID: "j1", Type: "T", ProjectID: "p1", State: StateQueued, CreatedAt: time.Now()}
	err := <-store.Save([]*Job{job})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"version": 1`)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "j1", loaded[0].ID)
}
