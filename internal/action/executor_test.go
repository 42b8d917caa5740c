package action

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcp/controlplane/internal/config"
	"github.com/agentcp/controlplane/internal/profile"
	"github.com/agentcp/controlplane/internal/queue"
)

func TestExecuteActionInvalidEnvelope(t *testing.T) {
	e := New(Config{})
	res := e.ExecuteAction(context.Background(), Envelope{}, nil, nil)
	require.Equal(t, Invalid, res.Status)
}

func TestExecuteActionUnknownType(t *testing.T) {
	e := New(Config{})
	res := e.ExecuteAction(context.Background(), Envelope{ActionType: "bogus", Payload: map[string]any{}}, nil, nil)
	require.Equal(t, Invalid, res.Status)
}

func TestExecuteActionForbiddenUndeclaredCapability(t *testing.T) {
	e := New(Config{Adapter: profile.NewFixture("test")})
	cap := &Capability{ModuleName: "m1", Mode: config.TrustEnforced, DeclaredActions: []string{}}
	res := e.ExecuteAction(context.Background(), Envelope{
		ActionType: TypeTranscriptUpsert,
		Payload:    map[string]any{"sessionId": "s1", "entry": map[string]any{"turnId": "t1"}},
	}, &Scope{SourceSessionID: "s1", TurnID: "t1"}, cap)
	require.Equal(t, Forbidden, res.Status)
	require.Equal(t, "undeclared_capability", res.Details["code"])
}

func TestExecuteActionScopeMismatch(t *testing.T) {
	e := New(Config{Adapter: profile.NewFixture("test")})
	res := e.ExecuteAction(context.Background(), Envelope{
		ActionType: TypeTranscriptUpsert,
		Payload:    map[string]any{"sessionId": "other", "entry": map[string]any{"turnId": "t1"}},
	}, &Scope{SourceSessionID: "s1", TurnID: "t1"}, nil)
	require.Equal(t, Forbidden, res.Status)
	require.Equal(t, "scope_session_mismatch", res.Details["code"])
}

func TestExecuteActionTranscriptUpsertPerformed(t *testing.T) {
	e := New(Config{Adapter: profile.NewFixture("test")})
	res := e.ExecuteAction(context.Background(), Envelope{
		ActionType: TypeTranscriptUpsert,
		Payload: map[string]any{
			"sessionId": "s1",
			"entry":     map[string]any{"turnId": "t1", "role": "assistant", "content": "hi"},
		},
	}, &Scope{SourceSessionID: "s1", TurnID: "t1"}, nil)
	require.Equal(t, Performed, res.Status)
}

func TestExecuteActionIdempotentReplay(t *testing.T) {
	e := New(Config{Adapter: profile.NewFixture("test")})
	req := Envelope{
		ActionType:     TypeTranscriptUpsert,
		IdempotencyKey: "k1",
		Payload: map[string]any{
			"sessionId": "s1",
			"entry":     map[string]any{"turnId": "t1", "role": "assistant", "content": "hi"},
		},
	}
	scope := &Scope{SourceSessionID: "s1", TurnID: "t1"}
	r1 := e.ExecuteAction(context.Background(), req, scope, nil)
	require.Equal(t, Performed, r1.Status)

	r2 := e.ExecuteAction(context.Background(), req, scope, nil)
	require.Equal(t, r1.Details["appended"], r2.Details["appended"])

	conflicting := req
	conflicting.Payload = map[string]any{
		"sessionId": "s1",
		"entry":     map[string]any{"turnId": "t1", "role": "assistant", "content": "different"},
	}
	r3 := e.ExecuteAction(context.Background(), conflicting, scope, nil)
	require.Equal(t, Conflict, r3.Status)
	require.Equal(t, "idempotency_conflict", r3.Details["code"])
}

type fakeQueue struct {
	result queue.EnqueueResult
	err    error
}

func (f *fakeQueue) Enqueue(ctx context.Context, in queue.EnqueueInput) (queue.EnqueueResult, error) {
	return f.result, f.err
}

func TestExecuteActionQueueEnqueue(t *testing.T) {
	fq := &fakeQueue{result: queue.EnqueueResult{Status: queue.Enqueued, Job: &queue.Job{ID: "j1"}}}
	e := New(Config{Queue: fq})
	res := e.ExecuteAction(context.Background(), Envelope{
		ActionType: TypeQueueEnqueue,
		Payload: map[string]any{
			"projectId": "p1",
			"type":      "some.job",
			"payload":   map[string]any{"x": 1},
		},
	}, &Scope{ProjectID: "p1"}, nil)
	require.Equal(t, Performed, res.Status)
	require.Equal(t, "j1", res.Details["jobId"])
}
