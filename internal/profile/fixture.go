package profile

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/agentcp/controlplane/internal/transcript"
)

// Fixture is an in-memory Adapter implementation used by tests and by local
// development runs with no real assistant runtime attached.
type Fixture struct {
	identity string

	mu          sync.Mutex
	threads     map[string]*transcript.Ledger
	interrupted map[string]bool
	approvals   map[string]ApprovalDecision
}

// NewFixture constructs an empty Fixture adapter identifying itself as id.
func NewFixture(id string) *Fixture {
	return &Fixture{
		identity:    id,
		threads:     make(map[string]*transcript.Ledger),
		interrupted: make(map[string]bool),
		approvals:   make(map[string]ApprovalDecision),
	}
}

func (f *Fixture) Identity(context.Context) (string, error) { return f.identity, nil }

func (f *Fixture) StartTurn(_ context.Context, sessionID string, _ map[string]any) (TurnHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	th := TurnHandle{ThreadID: sessionID, TurnID: uuid.NewString()}
	if _, ok := f.threads[th.ThreadID]; !ok {
		f.threads[th.ThreadID] = transcript.NewLedger()
	}
	return th, nil
}

func (f *Fixture) ReadThread(_ context.Context, threadID string) ([]TranscriptEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ledger, ok := f.threads[threadID]
	if !ok {
		return nil, nil
	}
	entries := ledger.Entries()
	out := make([]TranscriptEntry, len(entries))
	for i, e := range entries {
		out[i] = TranscriptEntry{TurnID: e.TurnID, Role: e.Role, Content: e.Content}
	}
	return out, nil
}

func (f *Fixture) InterruptTurn(_ context.Context, threadID, turnID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted[threadID+"/"+turnID] = true
	return nil
}

// WasInterrupted reports whether InterruptTurn was called for the given
// thread/turn pair. Test-only helper.
func (f *Fixture) WasInterrupted(threadID, turnID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupted[threadID+"/"+turnID]
}

func (f *Fixture) UpsertTranscript(_ context.Context, sessionID string, entry TranscriptEntry) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ledger, ok := f.threads[sessionID]
	if !ok {
		ledger = transcript.NewLedger()
		f.threads[sessionID] = ledger
	}
	replaced := ledger.Upsert(transcript.Entry{TurnID: entry.TurnID, Role: entry.Role, Content: entry.Content})
	if replaced {
		return Result{Status: Performed, Details: map[string]any{"replaced": true}}, nil
	}
	return Result{Status: Performed, Details: map[string]any{"appended": true}}, nil
}

func (f *Fixture) DecideApproval(_ context.Context, threadID, turnID string, decision ApprovalDecision) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := threadID + "/" + turnID + "/" + decision.ApprovalID
	if _, ok := f.approvals[key]; ok {
		return Result{Status: AlreadyResolved, Details: map[string]any{"approvalId": decision.ApprovalID}}, nil
	}
	f.approvals[key] = decision
	return Result{Status: Performed, Details: map[string]any{"approvalId": decision.ApprovalID, "decision": decision.Decision}}, nil
}

func (f *Fixture) SteerTurn(_ context.Context, req SteerRequest) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.threads[req.SessionID]; !ok {
		return Result{Status: NotEligible, Details: map[string]any{"code": "no_active_turn"}}, nil
	}
	return Result{Status: Performed, Details: map[string]any{"message": fmt.Sprintf("steered turn %s", req.TurnID)}}, nil
}
