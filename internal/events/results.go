package events

import "github.com/agentcp/controlplane/internal/action"

// ResultKind discriminates the normalized shapes returned from Emit (spec §4.2
// "Result Kinds").
type ResultKind string

const (
	KindEnqueueResult ResultKind = "enqueue_result"
	KindHandlerResult ResultKind = "handler_result"
	KindActionResult  ResultKind = "action_result"
	KindHandlerError  ResultKind = "handler_error"
)

// EnqueueResultShape is returned by a handler to report a queue admission
// outcome it performed directly (e.g. via a side-channel), normalized to
// KindEnqueueResult.
type EnqueueResultShape struct {
	Status string
	Job    map[string]any
}

// HandlerResultShape is an opaque result bag, normalized to KindHandlerResult.
type HandlerResultShape struct {
	Details map[string]any
}

// ActionRequest is how a handler asks the runtime to perform an action on
// its behalf; it is never executed by the handler itself.
type ActionRequest struct {
	ActionType     string
	Payload        map[string]any
	RequestID      string
	IdempotencyKey string
}

// DirectActionResultShape is what a handler must never return directly: an
// assertion of an already-performed action, rather than a request for the
// runtime to perform one. Returning this shape is always normalized to an
// invalid action_result with code direct_action_result_disallowed.
type DirectActionResultShape struct {
	Status  string
	Details map[string]any
}

// Result is one normalized entry in Emit's return list, in dispatch order.
type Result struct {
	Kind         ResultKind
	ModuleName   string
	EventType    string
	Status       string
	Job          map[string]any
	Details      map[string]any
	ActionResult *action.Result
	Message      string
}

func normalizeHandlerReturn(moduleName string, raw any) Result {
	switch v := raw.(type) {
	case nil:
		return Result{Kind: KindHandlerResult, ModuleName: moduleName, Details: map[string]any{}}
	case EnqueueResultShape:
		return Result{Kind: KindEnqueueResult, ModuleName: moduleName, Status: v.Status, Job: v.Job}
	case HandlerResultShape:
		return Result{Kind: KindHandlerResult, ModuleName: moduleName, Details: v.Details}
	case DirectActionResultShape:
		return Result{
			Kind:       KindActionResult,
			ModuleName: moduleName,
			Status:     string(action.Invalid),
			Details:    map[string]any{"code": "direct_action_result_disallowed"},
		}
	default:
		return Result{Kind: KindHandlerResult, ModuleName: moduleName, Details: map[string]any{}}
	}
}
