package events

import (
	"sort"
	"time"
)

// ModuleStatus reports how a candidate module fared during snapshot
// construction.
type ModuleStatus string

const (
	ModuleActive               ModuleStatus = "active"
	ModuleAcceptedWithWarnings ModuleStatus = "accepted_with_warnings"
	ModuleRejected             ModuleStatus = "rejected"
)

// ModuleInventoryEntry describes one module's activation outcome, returned
// by ListLoadedModules (spec §3 "Extension Module Snapshot").
type ModuleInventoryEntry struct {
	ModuleName string
	AgentID    string
	Version    string
	Path       string
	Family     SourceFamily
	Status     ModuleStatus
	Code       string // set when Status is rejected: trust_denied
	Warnings   []string
}

// ModuleError records a candidate that failed to activate, returned as part
// of a failed Reload's error list.
type ModuleError struct {
	ModuleName string
	Path       string
	Code       string
	Message    string
}

// Snapshot is the immutable, read-copy-update unit the runtime dispatches
// against. A Reload builds a brand new Snapshot off to the side; only once
// it is fully valid does the runtime swap its active pointer to it.
type Snapshot struct {
	Version   string
	LoadedAt  time.Time
	Handlers  map[string][]RegisteredHandler // eventType -> sorted dispatch list
	Inventory []ModuleInventoryEntry
}

// handlersFor returns the dispatch-ordered handler list for eventType, or
// nil if none are registered.
func (s *Snapshot) handlersFor(eventType string) []RegisteredHandler {
	if s == nil {
		return nil
	}
	return s.Handlers[eventType]
}

// buildHandlerIndex sorts each event type's staged handlers by
// (priority asc, moduleName asc, registrationIndex asc) — the total order
// named in spec §4.2 "Dispatch Ordering".
func buildHandlerIndex(staged []RegisteredHandler) map[string][]RegisteredHandler {
	byType := make(map[string][]RegisteredHandler)
	for _, h := range staged {
		byType[h.EventType] = append(byType[h.EventType], h)
	}
	for eventType, handlers := range byType {
		sort.SliceStable(handlers, func(i, k int) bool {
			a, b := handlers[i], handlers[k]
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			if a.ModuleName != b.ModuleName {
				return a.ModuleName < b.ModuleName
			}
			return a.RegistrationIndex < b.RegistrationIndex
		})
		byType[eventType] = handlers
	}
	return byType
}
