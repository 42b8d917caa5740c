package events

import "time"

const defaultHandlerTimeout = 30 * time.Second
const defaultHandlerPriority = 100

// RegisteredHandler is one entry in a module's staged handler list, produced
// by calling HandlerRegistry.On during registration.
type RegisteredHandler struct {
	EventType        string
	ModuleName       string
	Priority         int
	Timeout          time.Duration
	RegistrationIndex int
	Fn               HandlerFunc
}

// HandlerOptions configures one On() registration.
type HandlerOptions struct {
	Priority int           // defaults to 100
	Timeout  time.Duration // defaults to 30s
}

// HandlerRegistry is the staging surface passed to a module's
// RegisterAgentEvents function. Registrations accumulate here and are only
// merged into the runtime's live snapshot once the module passes manifest
// and trust evaluation (spec §4.2 "Registration").
type HandlerRegistry struct {
	moduleName string
	staged     []RegisteredHandler
}

func newHandlerRegistry(moduleName string) *HandlerRegistry {
	return &HandlerRegistry{moduleName: moduleName}
}

// On stages a handler for eventType. Registration order within a module is
// preserved via RegistrationIndex, the final tiebreaker in dispatch order.
func (r *HandlerRegistry) On(eventType string, fn HandlerFunc, opts ...HandlerOptions) {
	var o HandlerOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Priority == 0 {
		o.Priority = defaultHandlerPriority
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultHandlerTimeout
	}
	r.staged = append(r.staged, RegisteredHandler{
		EventType:         eventType,
		ModuleName:        r.moduleName,
		Priority:          o.Priority,
		Timeout:           o.Timeout,
		RegistrationIndex: len(r.staged),
		Fn:                fn,
	})
}

// EventTypes returns the distinct event types this module registered a
// handler for, used by trust evaluation against capabilities.events.
func (r *HandlerRegistry) EventTypes() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, h := range r.staged {
		if _, ok := seen[h.EventType]; !ok {
			seen[h.EventType] = struct{}{}
			out = append(out, h.EventType)
		}
	}
	return out
}

// RegisterFunc is the Go analogue of a JS extension module's
// registerAgentEvents(registry) export: a fresh instance is invoked on every
// Load/Reload so staged handler state never leaks across activations.
type RegisterFunc func(r *HandlerRegistry) error

// SourceRegistry maps a manifest's module name to the compiled-in
// RegisterFunc that implements its entrypoint. Because the host cannot
// dynamically import arbitrary code at runtime, extension authors register
// their factory at process init time; discovery and trust evaluation still
// run the full manifest pipeline against it.
type SourceRegistry struct {
	factories map[string]RegisterFunc
}

// NewSourceRegistry constructs an empty SourceRegistry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{factories: make(map[string]RegisterFunc)}
}

// Register associates moduleName with its RegisterFunc.
func (s *SourceRegistry) Register(moduleName string, fn RegisterFunc) {
	s.factories[moduleName] = fn
}

// Lookup returns the RegisterFunc for moduleName, if any.
func (s *SourceRegistry) Lookup(moduleName string) (RegisterFunc, bool) {
	fn, ok := s.factories[moduleName]
	return fn, ok
}
