package queue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestAttemptsNeverExceedMaxAttemptsProperty verifies a job that always fails
// with a retryable error never accumulates more attempts than its
// Definition's MaxAttempts, for any MaxAttempts in a reasonable range.
func TestAttemptsNeverExceedMaxAttemptsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("attempts never exceed MaxAttempts for an always-failing job", prop.ForAll(
		func(maxAttempts int) bool {
			reg := NewRegistry()
			err := reg.Register(Definition{
				Type:        "always-fails",
				MaxAttempts: maxAttempts,
				Timeout:     time.Second,
				Classify:    func(error) RetryClass { return Retryable },
				Delay:       func(int) time.Duration { return time.Millisecond },
				Run: func(ctx context.Context, rc *RunContext, payload json.RawMessage) (json.RawMessage, error) {
					return nil, errors.New("temporarily unavailable")
				},
			})
			if err != nil {
				return false
			}

			path := filepath.Join(t.TempDir(), "jobs.json")
			store := NewSnapshotStore(path)
			q := New(DefaultConfig(), reg, store, nil, Hooks{}, nil, nil)
			if err := q.Start(context.Background()); err != nil {
				return false
			}
			defer q.Stop()

			res, err := q.Enqueue(context.Background(), EnqueueInput{Type: "always-fails", ProjectID: "p1"})
			if err != nil {
				return false
			}

			final := q.WaitForTerminal(res.Job.ID, 5*time.Second)
			if final == nil {
				return false
			}
			return final.State == StateFailed && final.Attempts == maxAttempts
		},
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

// TestSingleFlightDedupeIsIdempotentProperty verifies that enqueuing the same
// (projectID, type, dedupeKey) N times under SingleFlight dedupe always
// resolves to exactly one underlying job and exactly one Run invocation,
// regardless of how many duplicate requests race in.
func TestSingleFlightDedupeIsIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("N single-flight enqueues of the same key produce exactly one run", prop.ForAll(
		func(n int) bool {
			reg := NewRegistry()
			var calls int32
			err := reg.Register(Definition{
				Type:        "dedup",
				Dedupe:      SingleFlight,
				MaxAttempts: 1,
				Timeout:     time.Second,
				Run: func(ctx context.Context, rc *RunContext, payload json.RawMessage) (json.RawMessage, error) {
					atomic.AddInt32(&calls, 1)
					return json.RawMessage(`{"ok":true}`), nil
				},
			})
			if err != nil {
				return false
			}

			path := filepath.Join(t.TempDir(), "jobs.json")
			store := NewSnapshotStore(path)
			q := New(DefaultConfig(), reg, store, nil, Hooks{}, nil, nil)
			if err := q.Start(context.Background()); err != nil {
				return false
			}
			defer q.Stop()

			var firstID string
			for i := 0; i < n; i++ {
				res, err := q.Enqueue(context.Background(), EnqueueInput{Type: "dedup", ProjectID: "p1", DedupeKey: "same-key"})
				if err != nil {
					return false
				}
				if i == 0 {
					firstID = res.Job.ID
				} else if res.Job.ID != firstID {
					return false
				}
			}

			final := q.WaitForTerminal(firstID, 5*time.Second)
			if final == nil || final.State != StateCompleted {
				return false
			}
			return atomic.LoadInt32(&calls) == 1
		},
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
