// Package action implements the Action Executor: envelope validation,
// capability gating, idempotent replay, scope enforcement, and dispatch to
// the Runtime Profile Adapter or the Orchestrator Queue.
package action

import "github.com/agentcp/controlplane/internal/config"

// Status is the result of ExecuteAction (spec §4.3 "Contract").
type Status string

const (
	Performed       Status = "performed"
	AlreadyResolved Status = "already_resolved"
	NotEligible     Status = "not_eligible"
	Conflict        Status = "conflict"
	Forbidden       Status = "forbidden"
	Invalid         Status = "invalid"
	Failed          Status = "failed"
)

// replayCacheable is the set of statuses the idempotency cache stores
// (spec §4.3 step 7).
var replayCacheable = map[Status]bool{
	Performed:       true,
	AlreadyResolved: true,
	NotEligible:     true,
	Conflict:        true,
	Forbidden:       true,
	Invalid:         true,
}

// Known action types (spec §4.3 "Action Types").
const (
	TypeTranscriptUpsert = "transcript.upsert"
	TypeApprovalDecide   = "approval.decide"
	TypeTurnSteerCreate  = "turn.steer.create"
	TypeQueueEnqueue     = "queue.enqueue"
)

// Envelope is the action request a handler (or any other caller) submits.
type Envelope struct {
	ActionType     string
	Payload        map[string]any
	RequestID      string
	IdempotencyKey string
}

// Scope constrains which records the action is allowed to touch, derived
// from the caller's own session/turn/project context (spec §4.3 step 4).
type Scope struct {
	ProjectID       string
	SourceSessionID string
	TurnID          string
}

// Capability carries the declaring module's trust context, used for the
// capability gate in step 2.
type Capability struct {
	ModuleName      string
	DeclaredActions []string
	Mode            config.TrustMode
}

// Declares reports whether actionType is present in the capability's
// declared actions list.
func (c *Capability) Declares(actionType string) bool {
	if c == nil {
		return true
	}
	for _, a := range c.DeclaredActions {
		if a == actionType {
			return true
		}
	}
	return false
}

// Result is the structured, always-populated outcome of ExecuteAction.
type Result struct {
	Status         Status
	ActionType     string
	RequestID      string
	IdempotencyKey string
	Details        map[string]any
}
