package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/agentcp/controlplane/internal/action"
	"github.com/agentcp/controlplane/internal/config"
	"github.com/agentcp/controlplane/internal/events/audit"
	"github.com/agentcp/controlplane/internal/telemetry"
)

// ExecuteActionFunc performs an action request on behalf of a handler. It is
// supplied to Emit by the caller (nil when no executor is wired, e.g. a
// read-only inspection context).
type ExecuteActionFunc func(ctx context.Context, req action.Envelope) (action.Result, error)

// ReloadStatus is the outcome of a Reload call.
type ReloadStatus string

const (
	ReloadOK    ReloadStatus = "ok"
	ReloadError ReloadStatus = "error"
)

// ReloadResult is returned by Reload.
type ReloadResult struct {
	Status          ReloadStatus
	Code            string
	Errors          []ModuleError
	SnapshotVersion string
}

// Runtime is the Agent Events Runtime (spec §4.2).
type Runtime struct {
	roots          []Root
	sources        *SourceRegistry
	coreAPIVersion string
	hostProfiles   map[string]string
	trustMode      config.TrustMode
	log            telemetry.Logger
	metrics        telemetry.Metrics
	audit          audit.Sink

	active     atomic.Pointer[Snapshot]
	reloadMu   sync.Mutex
	reloading  bool
}

// Options configures a Runtime.
type Options struct {
	Roots          []Root
	Sources        *SourceRegistry
	CoreAPIVersion string
	HostProfiles   map[string]string
	TrustMode      config.TrustMode
	Log            telemetry.Logger
	Metrics        telemetry.Metrics
	// Audit records module activation/rejection history to an external
	// sink. Defaults to a no-op when unset.
	Audit audit.Sink
}

// New constructs a Runtime. Call Load before the first Emit.
func New(opts Options) *Runtime {
	log := opts.Log
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	trustMode := opts.TrustMode
	if trustMode == "" {
		trustMode = config.TrustWarn
	}
	auditSink := opts.Audit
	if auditSink == nil {
		auditSink = audit.NoopSink{}
	}
	return &Runtime{
		roots:          opts.Roots,
		sources:        opts.Sources,
		coreAPIVersion: opts.CoreAPIVersion,
		hostProfiles:   opts.HostProfiles,
		trustMode:      trustMode,
		log:            log,
		metrics:        metrics,
		audit:          auditSink,
	}
}

// Load builds the initial snapshot. It is idempotent: calling it again after
// a successful load is a no-op that returns the existing snapshot's outcome.
func (rt *Runtime) Load(ctx context.Context) ReloadResult {
	if rt.active.Load() != nil {
		s := rt.active.Load()
		return ReloadResult{Status: ReloadOK, SnapshotVersion: s.Version}
	}
	snap, errs := rt.buildSnapshot(ctx)
	rt.active.Store(snap)
	if len(errs) > 0 {
		rt.log.Warn(ctx, "agent events: load completed with module errors", "count", len(errs))
	}
	return ReloadResult{Status: ReloadOK, SnapshotVersion: snap.Version}
}

// Reload builds a new snapshot off-activation and, only if it is fully
// valid, atomically swaps it in (spec §4.2 "Hot Reload Semantics"). A
// concurrent Reload call returns reload_in_progress.
func (rt *Runtime) Reload(ctx context.Context) ReloadResult {
	rt.reloadMu.Lock()
	if rt.reloading {
		rt.reloadMu.Unlock()
		return ReloadResult{Status: ReloadError, Code: "reload_in_progress"}
	}
	rt.reloading = true
	rt.reloadMu.Unlock()
	defer func() {
		rt.reloadMu.Lock()
		rt.reloading = false
		rt.reloadMu.Unlock()
	}()

	snap, errs := rt.buildSnapshot(ctx)
	if len(errs) > 0 {
		rt.log.Warn(ctx, "agent events: reload failed, keeping prior snapshot", "errors", len(errs))
		return ReloadResult{Status: ReloadError, Code: "reload_failed", Errors: errs}
	}
	rt.active.Store(snap)
	rt.metrics.IncCounter("events.reload.success", 1)
	return ReloadResult{Status: ReloadOK, SnapshotVersion: snap.Version}
}

// ListLoadedModules returns the module inventory of the currently active
// snapshot.
func (rt *Runtime) ListLoadedModules() []ModuleInventoryEntry {
	s := rt.active.Load()
	if s == nil {
		return nil
	}
	out := make([]ModuleInventoryEntry, len(s.Inventory))
	copy(out, s.Inventory)
	return out
}

// SnapshotInfo reports the active snapshot's version and load time.
func (rt *Runtime) SnapshotInfo() (version string, loadedAt time.Time) {
	s := rt.active.Load()
	if s == nil {
		return "", time.Time{}
	}
	return s.Version, s.LoadedAt
}

// Emit dispatches event to all handlers registered for its type, in total
// order, sequentially. executeAction may be nil; action requests then fail
// with action_executor_unavailable.
func (rt *Runtime) Emit(ctx context.Context, event Event, executeAction ExecuteActionFunc) []Result {
	snap := rt.active.Load() // capture a stable reference for this emit (RCU read)
	handlers := snap.handlersFor(event.Type)
	if len(handlers) == 0 {
		return nil
	}

	results := make([]Result, 0, len(handlers))
	var winnerModule, winnerActionType string
	haveWinner := false

	for _, h := range handlers {
		tools := Tools{ModuleName: h.ModuleName, EventType: event.Type}
		raw, err := rt.invokeWithTimeout(ctx, h, event, tools)
		if err != nil {
			results = append(results, Result{
				Kind:       KindHandlerError,
				ModuleName: h.ModuleName,
				EventType:  event.Type,
				Message:    err.Error(),
			})
			continue
		}

		req, isActionRequest := raw.(ActionRequest)
		if !isActionRequest {
			results = append(results, normalizeHandlerReturn(h.ModuleName, raw))
			continue
		}

		result := rt.reconcileActionRequest(ctx, h, req, executeAction, haveWinner, winnerModule, winnerActionType)
		results = append(results, result)
		if result.ActionResult != nil && result.ActionResult.Status == action.Performed && !haveWinner {
			haveWinner = true
			winnerModule = h.ModuleName
			winnerActionType = req.ActionType
		}
	}
	return results
}

func (rt *Runtime) reconcileActionRequest(ctx context.Context, h RegisteredHandler, req ActionRequest, executeAction ExecuteActionFunc, haveWinner bool, winnerModule, winnerActionType string) Result {
	base := Result{Kind: KindActionResult, ModuleName: h.ModuleName, EventType: req.ActionType}

	// Step 1: winner-already-selected check.
	if haveWinner {
		ar := &action.Result{Status: action.NotEligible, Details: map[string]any{
			"code":              "action_winner_already_selected",
			"winnerModuleName":  winnerModule,
			"winnerActionType":  winnerActionType,
		}}
		base.Status = string(ar.Status)
		base.Details = ar.Details
		base.ActionResult = ar
		return base
	}

	// Step 3: executor availability.
	if executeAction == nil {
		ar := &action.Result{Status: action.Failed, Details: map[string]any{"code": "action_executor_unavailable"}}
		base.Status = string(ar.Status)
		base.Details = ar.Details
		base.ActionResult = ar
		return base
	}

	// Steps 4/5: execute. No capability gate is applied here: the handler
	// module's capabilities.actions are not consulted, and executeAction
	// receives only the envelope, not the requesting module.
	ar, err := executeAction(ctx, action.Envelope{
		ActionType:     req.ActionType,
		Payload:        req.Payload,
		RequestID:      req.RequestID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		res := &action.Result{Status: action.Failed, Details: map[string]any{"code": "invalid_action_result"}}
		base.Status = string(res.Status)
		base.Details = res.Details
		base.ActionResult = res
		return base
	}
	base.Status = string(ar.Status)
	base.Details = ar.Details
	base.ActionResult = &ar
	return base
}

func (rt *Runtime) invokeWithTimeout(ctx context.Context, h RegisteredHandler, event Event, tools Tools) (result any, err error) {
	hctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("handler panicked: %v", r)}
			}
		}()
		res, err := h.Fn(hctx, event, tools)
		ch <- outcome{result: res, err: err}
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-hctx.Done():
		return nil, fmt.Errorf("handler timed out after %s", h.Timeout)
	}
}

func (rt *Runtime) buildSnapshot(ctx context.Context) (*Snapshot, []ModuleError) {
	candidates, _ := DiscoverCandidates(rt.roots)
	var staged []RegisteredHandler
	var inventory []ModuleInventoryEntry
	var errs []ModuleError
	seenAgentIDs := make(map[string]string)

	for _, c := range candidates {
		entry, handlers, moduleErr := rt.evaluateCandidate(c, seenAgentIDs)
		if moduleErr != nil {
			errs = append(errs, *moduleErr)
			rt.audit.Record(ctx, audit.Entry{Timestamp: time.Now(), Kind: "module_rejected", ModuleName: moduleErr.ModuleName, Code: moduleErr.Code, Message: moduleErr.Message})
			continue
		}
		inventory = append(inventory, entry)
		if entry.Status != ModuleRejected {
			staged = append(staged, handlers...)
			rt.audit.Record(ctx, audit.Entry{Timestamp: time.Now(), Kind: "module_activated", ModuleName: entry.ModuleName, Code: string(entry.Status)})
		} else {
			errs = append(errs, ModuleError{ModuleName: entry.ModuleName, Path: entry.Path, Code: entry.Code, Message: "trust denied"})
			rt.audit.Record(ctx, audit.Entry{Timestamp: time.Now(), Kind: "module_rejected", ModuleName: entry.ModuleName, Code: entry.Code, Message: "trust denied"})
		}
	}

	return &Snapshot{
		Version:   uuid.NewString(),
		LoadedAt:  time.Now(),
		Handlers:  buildHandlerIndex(staged),
		Inventory: inventory,
	}, errs
}

func (rt *Runtime) evaluateCandidate(c Candidate, seenAgentIDs map[string]string) (ModuleInventoryEntry, []RegisteredHandler, *ModuleError) {
	manifest, err := readManifest(c.Path)
	if err != nil {
		return ModuleInventoryEntry{}, nil, &ModuleError{Path: c.Path, Code: "invalid_manifest", Message: err.Error()}
	}

	entrypoints := manifest.ResolveEntrypoint()
	if !hasEntrypoint(c.Path, entrypoints) {
		return ModuleInventoryEntry{}, nil, &ModuleError{ModuleName: manifest.Name, Path: c.Path, Code: "missing_entrypoint"}
	}

	compat := CheckCompatibility(manifest, rt.coreAPIVersion, rt.hostProfiles)
	if !compat.Compatible {
		return ModuleInventoryEntry{}, nil, &ModuleError{ModuleName: manifest.Name, Path: c.Path, Code: "incompatible_runtime", Message: compat.Reason}
	}

	if manifest.AgentID != "" {
		if existing, ok := seenAgentIDs[manifest.AgentID]; ok && existing != manifest.Name {
			return ModuleInventoryEntry{}, nil, &ModuleError{ModuleName: manifest.Name, Path: c.Path, Code: "agent_id_conflict"}
		}
		seenAgentIDs[manifest.AgentID] = manifest.Name
	}

	factory, ok := rt.sources.Lookup(manifest.Name)
	if !ok {
		return ModuleInventoryEntry{}, nil, &ModuleError{ModuleName: manifest.Name, Path: c.Path, Code: "missing_entrypoint", Message: "no registered source for module"}
	}

	registry := newHandlerRegistry(manifest.Name)
	if err := factory(registry); err != nil {
		return ModuleInventoryEntry{}, nil, &ModuleError{ModuleName: manifest.Name, Path: c.Path, Code: "registration_failed", Message: err.Error()}
	}

	status, warnings, code := rt.applyTrustPolicy(manifest, registry.EventTypes())
	entry := ModuleInventoryEntry{
		ModuleName: manifest.Name,
		AgentID:    manifest.AgentID,
		Version:    manifest.Version,
		Path:       c.Path,
		Family:     c.Family,
		Status:     status,
		Code:       code,
		Warnings:   warnings,
	}
	if status == ModuleRejected {
		return entry, nil, nil
	}
	return entry, registry.staged, nil
}

// applyTrustPolicy checks every event type a module registered a handler for
// against its manifest's declared capabilities.events (spec §4.2
// "Registration"). Declared capabilities may use doublestar glob patterns
// (e.g. "file_change.*").
func (rt *Runtime) applyTrustPolicy(m *Manifest, registeredTypes []string) (status ModuleStatus, warnings []string, code string) {
	if rt.trustMode == config.TrustDisabled {
		return ModuleActive, nil, ""
	}
	var undeclared []string
	for _, t := range registeredTypes {
		if !declaresEvent(m.Capabilities.Events, t) {
			undeclared = append(undeclared, t)
		}
	}
	if len(undeclared) == 0 {
		return ModuleActive, nil, ""
	}
	if rt.trustMode == config.TrustEnforced {
		return ModuleRejected, nil, "trust_denied"
	}
	for _, t := range undeclared {
		warnings = append(warnings, fmt.Sprintf("undeclared capability for event type %q", t))
	}
	return ModuleAcceptedWithWarnings, warnings, ""
}

func declaresEvent(declared []string, eventType string) bool {
	for _, pattern := range declared {
		if pattern == eventType {
			return true
		}
		if ok, _ := doublestar.Match(pattern, eventType); ok {
			return true
		}
	}
	return false
}
