package action

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/agentcp/controlplane/internal/config"
	"github.com/agentcp/controlplane/internal/profile"
	"github.com/agentcp/controlplane/internal/queue"
	"github.com/agentcp/controlplane/internal/telemetry"
)

// QueueEnqueuer is the subset of queue.Queue the executor needs, narrowed so
// tests can substitute a fake.
type QueueEnqueuer interface {
	Enqueue(ctx context.Context, in queue.EnqueueInput) (queue.EnqueueResult, error)
}

// Executor implements spec §4.3's ExecuteAction algorithm.
type Executor struct {
	adapter profile.Adapter
	queue   QueueEnqueuer
	cache   *idempotencyCache
	log     telemetry.Logger
	metrics telemetry.Metrics
}

// Config bundles Executor construction parameters.
type Config struct {
	Adapter       profile.Adapter
	Queue         QueueEnqueuer
	CacheSize     int
	Log           telemetry.Logger
	Metrics       telemetry.Metrics
}

// New constructs an Action Executor.
func New(cfg Config) *Executor {
	log := cfg.Log
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Executor{
		adapter: cfg.Adapter,
		queue:   cfg.Queue,
		cache:   newIdempotencyCache(cfg.CacheSize),
		log:     log,
		metrics: metrics,
	}
}

// ExecuteAction always returns a structured Result; it never returns a Go
// error to the caller (spec §4.3 "Contract").
func (e *Executor) ExecuteAction(ctx context.Context, req Envelope, scope *Scope, capability *Capability) Result {
	base := Result{ActionType: req.ActionType, RequestID: req.RequestID, IdempotencyKey: req.IdempotencyKey}

	// Step 1: envelope validation.
	if req.ActionType == "" || req.Payload == nil {
		return e.finish(base, Invalid, map[string]any{"issues": []string{"actionType and payload are required"}})
	}
	if !knownActionType(req.ActionType) {
		return e.finish(base, Invalid, map[string]any{"issues": []string{"unknown actionType"}})
	}
	if issues := validateEnvelopePayload(req.ActionType, req.Payload); len(issues) > 0 {
		return e.finish(base, Invalid, map[string]any{"issues": issues})
	}

	// Step 2: capability gate.
	if capability != nil && capability.Mode == config.TrustEnforced && !capability.Declares(req.ActionType) {
		return e.finish(base, Forbidden, map[string]any{"code": "undeclared_capability"})
	}

	// Step 3: idempotency replay.
	sig := signature(req.ActionType, req.Payload, scope)
	if req.IdempotencyKey != "" {
		if cached, sigMatches, found := e.cache.lookup(req.IdempotencyKey, sig); found {
			if sigMatches {
				out := cached
				out.RequestID = req.RequestID
				out.IdempotencyKey = req.IdempotencyKey
				return out
			}
			return e.finish(base, Conflict, map[string]any{"code": "idempotency_conflict"})
		}
	}

	// Step 4: scope enforcement.
	if scope != nil {
		if code, ok := scopeViolation(req.ActionType, req.Payload, scope); !ok {
			result := e.finish(base, Forbidden, map[string]any{"code": code})
			e.cache.store(req.IdempotencyKey, sig, result)
			return result
		}
	}

	// Step 5: dispatch.
	result := e.dispatch(ctx, req, base)

	// Step 7: cache if cacheable.
	e.cache.store(req.IdempotencyKey, sig, result)
	return result
}

func (e *Executor) finish(base Result, status Status, details map[string]any) Result {
	base.Status = status
	base.Details = details
	return base
}

func knownActionType(t string) bool {
	switch t {
	case TypeTranscriptUpsert, TypeApprovalDecide, TypeTurnSteerCreate, TypeQueueEnqueue:
		return true
	}
	return false
}

// scopeViolation implements the per-action-type scope checks of spec §4.3
// step 4. Returns (violationCode, false) on mismatch, ("", true) on match.
func scopeViolation(actionType string, payload map[string]any, scope *Scope) (string, bool) {
	str := func(v any) string {
		s, _ := v.(string)
		return s
	}
	switch actionType {
	case TypeTranscriptUpsert:
		if str(payload["sessionId"]) != scope.SourceSessionID {
			return "scope_session_mismatch", false
		}
		entry, _ := payload["entry"].(map[string]any)
		if str(entry["turnId"]) != scope.TurnID {
			return "scope_turn_mismatch", false
		}
	case TypeApprovalDecide:
		if str(payload["threadId"]) != scope.SourceSessionID {
			return "scope_session_mismatch", false
		}
		if str(payload["turnId"]) != scope.TurnID {
			return "scope_turn_mismatch", false
		}
	case TypeTurnSteerCreate:
		if str(payload["sessionId"]) != scope.SourceSessionID {
			return "scope_session_mismatch", false
		}
		if str(payload["turnId"]) != scope.TurnID {
			return "scope_turn_mismatch", false
		}
	case TypeQueueEnqueue:
		if str(payload["projectId"]) != scope.ProjectID {
			return "scope_project_mismatch", false
		}
		if v, ok := payload["sourceSessionId"]; ok && str(v) != "" && str(v) != scope.SourceSessionID {
			return "scope_session_mismatch", false
		}
	}
	return "", true
}

func (e *Executor) dispatch(ctx context.Context, req Envelope, base Result) Result {
	switch req.ActionType {
	case TypeTranscriptUpsert:
		return e.dispatchTranscriptUpsert(ctx, req, base)
	case TypeApprovalDecide:
		return e.dispatchApprovalDecide(ctx, req, base)
	case TypeTurnSteerCreate:
		return e.dispatchSteerTurn(ctx, req, base)
	case TypeQueueEnqueue:
		return e.dispatchQueueEnqueue(ctx, req, base)
	}
	return e.finish(base, Invalid, map[string]any{"issues": []string{"unknown actionType"}})
}

func (e *Executor) dispatchTranscriptUpsert(ctx context.Context, req Envelope, base Result) Result {
	if e.adapter == nil {
		return e.finish(base, Failed, map[string]any{"code": "adapter_unavailable"})
	}
	sessionID, _ := req.Payload["sessionId"].(string)
	entryMap, _ := req.Payload["entry"].(map[string]any)
	entry := profile.TranscriptEntry{
		TurnID:  str(entryMap["turnId"]),
		Role:    str(entryMap["role"]),
		Content: str(entryMap["content"]),
	}
	res, err := e.adapter.UpsertTranscript(ctx, sessionID, entry)
	if err != nil {
		e.log.Warn(ctx, "transcript upsert failed", "error", err.Error())
		return e.finish(base, Failed, map[string]any{"code": "adapter_error"})
	}
	return e.finish(base, normalizeStatus(res.Status), res.Details)
}

func (e *Executor) dispatchApprovalDecide(ctx context.Context, req Envelope, base Result) Result {
	if e.adapter == nil {
		return e.finish(base, Failed, map[string]any{"code": "adapter_unavailable"})
	}
	threadID, _ := req.Payload["threadId"].(string)
	turnID, _ := req.Payload["turnId"].(string)
	decision := profile.ApprovalDecision{
		ApprovalID: str(req.Payload["approvalId"]),
		Decision:   str(req.Payload["decision"]),
		Reason:     str(req.Payload["reason"]),
	}
	res, err := e.adapter.DecideApproval(ctx, threadID, turnID, decision)
	if err != nil {
		e.log.Warn(ctx, "approval decide failed", "error", err.Error())
		return e.finish(base, Failed, map[string]any{"code": "adapter_error"})
	}
	return e.finish(base, normalizeStatus(res.Status), res.Details)
}

func (e *Executor) dispatchSteerTurn(ctx context.Context, req Envelope, base Result) Result {
	if e.adapter == nil {
		return e.finish(base, Failed, map[string]any{"code": "adapter_unavailable"})
	}
	sr := profile.SteerRequest{
		SessionID: str(req.Payload["sessionId"]),
		TurnID:    str(req.Payload["turnId"]),
		Message:   str(req.Payload["message"]),
	}
	res, err := e.adapter.SteerTurn(ctx, sr)
	if err != nil {
		e.log.Warn(ctx, "steer turn failed", "error", err.Error())
		return e.finish(base, Failed, map[string]any{"code": "adapter_error"})
	}
	return e.finish(base, normalizeStatus(res.Status), res.Details)
}

func (e *Executor) dispatchQueueEnqueue(ctx context.Context, req Envelope, base Result) Result {
	if e.queue == nil {
		return e.finish(base, Failed, map[string]any{"code": "queue_unavailable"})
	}
	payload, _ := json.Marshal(req.Payload["payload"])
	in := queue.EnqueueInput{
		Type:      str(req.Payload["type"]),
		ProjectID: str(req.Payload["projectId"]),
		SessionID: str(req.Payload["sourceSessionId"]),
		Priority:  queue.Priority(str(req.Payload["priority"])),
		DedupeKey: str(req.Payload["dedupeKey"]),
		Payload:   payload,
	}
	out, err := e.queue.Enqueue(ctx, in)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrQueueFull):
			return e.finish(base, Conflict, map[string]any{"code": "queue_full"})
		case errors.Is(err, queue.ErrInvalidPayload):
			return e.finish(base, Invalid, map[string]any{"code": queue.ErrInvalidPayload.Error(), "error": err.Error()})
		case errors.Is(err, queue.ErrUnknownJobType):
			return e.finish(base, Invalid, map[string]any{"code": queue.ErrUnknownJobType.Error()})
		default:
			return e.finish(base, Failed, map[string]any{"code": "queue_error", "error": err.Error()})
		}
	}
	status := Performed
	if out.Status == queue.AlreadyQueued {
		status = AlreadyResolved
	}
	return e.finish(base, status, map[string]any{"jobId": out.Job.ID, "status": string(out.Status)})
}

// normalizeStatus maps the adapter's status vocabulary to the executor's
// conservative normalization (spec §4.3 step 6).
func normalizeStatus(s profile.Status) Status {
	switch s {
	case profile.Performed:
		return Performed
	case profile.AlreadyResolved:
		return AlreadyResolved
	case profile.NotEligible:
		return NotEligible
	case profile.Conflict:
		return Conflict
	case profile.Failed:
		return Failed
	default:
		return Failed
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
