package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.temporal.io/sdk/temporal"
)

// RetryClass classifies a run error for the scheduler's retry decision.
type RetryClass string

const (
	Retryable RetryClass = "retryable"
	Fatal     RetryClass = "fatal"
)

// CancelStrategy controls how Cancel tears down a running job.
type CancelStrategy string

const (
	CancelMarkCanceled CancelStrategy = "mark_canceled"
	CancelInterruptTurn CancelStrategy = "interrupt_turn"
)

// RunFunc is the suspendable body of a job. It receives the run context
// (exposing the cancellation signal, setRunningContext, and emitProgress)
// and the validated payload, and returns a validated result or an error.
type RunFunc func(ctx context.Context, rc *RunContext, payload json.RawMessage) (json.RawMessage, error)

// MergeFunc combines an existing queued/running payload with an incoming
// duplicate request's payload for merge_duplicate dedupe mode.
type MergeFunc func(existing, incoming json.RawMessage) (json.RawMessage, error)

// ClassifyFunc classifies a run error as retryable or fatal.
type ClassifyFunc func(err error) RetryClass

// DelayFunc computes the backoff delay before the next attempt, given the
// number of attempts already made (1-indexed: called with 1 after the first
// failed attempt).
type DelayFunc func(attempt int) time.Duration

// Definition configures everything the scheduler needs to know about one job
// type: payload/result schemas, dedupe mode, retry classification, timeout,
// cancel strategy, and the run function itself.
type Definition struct {
	Type string

	PayloadSchema json.RawMessage
	ResultSchema  json.RawMessage

	Dedupe DedupeMode
	Merge  MergeFunc // required when Dedupe == MergeDuplicate

	MaxAttempts int // 0 means use the registry default
	Classify    ClassifyFunc
	Delay       DelayFunc // nil means the default exponential backoff below

	Timeout time.Duration // 0 means the registry default (60s)

	CancelStrategy CancelStrategy
	GracefulWait   time.Duration // used when CancelStrategy == CancelInterruptTurn

	Run RunFunc

	payloadCompiled *jsonschema.Schema
	resultCompiled  *jsonschema.Schema
}

// DefaultDelay implements the spec's default backoff: exponential base*2^(attempt-1)
// capped at maxDelay, with no jitter. base defaults to 1s and maxDelay to 30s when
// zero is passed.
func DefaultDelay(base, maxDelay time.Duration) DelayFunc {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		mult := math.Pow(2, float64(attempt-1))
		d := time.Duration(float64(base) * mult)
		if d > maxDelay || d <= 0 {
			d = maxDelay
		}
		return d
	}
}

// transientMessages are the well-known transient-failure substrings a run
// error is checked against when no Classify func is supplied for a
// Definition. Matches the vocabulary the runtime profile's own downstream
// calls are known to report when a thread or rollout is momentarily
// unavailable rather than permanently broken.
var transientMessages = []string{
	"temporarily unavailable",
	"thread not found",
	"no rollout found",
	"made no item progress",
}

// DefaultClassify is the Classify func used when a Definition does not
// supply its own. It treats context deadline/timeout errors (including a
// wrapped *temporal.TimeoutError, the shape the durable engine surfaces for
// an activity that exceeded its schedule-to-close timeout) and the
// well-known transient-message substrings as Retryable, and anything else
// as Fatal.
func DefaultClassify(err error) RetryClass {
	if err == nil {
		return Fatal
	}
	var te *temporal.TimeoutError
	if errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	msg := err.Error()
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return Retryable
		}
	}
	return Fatal
}

// JitteredDelay wraps a DelayFunc with up to +/-25% uniform jitter.
func JitteredDelay(d DelayFunc) DelayFunc {
	return func(attempt int) time.Duration {
		base := d(attempt)
		jitter := time.Duration((rand.Float64()*0.5 - 0.25) * float64(base))
		out := base + jitter
		if out < 0 {
			out = 0
		}
		return out
	}
}

// Registry holds Definitions keyed by job type. Registrations are expected at
// startup, before the queue begins scheduling; reads are safe for concurrent
// use from the scheduler loop.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]*Definition
}

// NewRegistry constructs an empty Job Definitions Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register validates and stores a Definition. It compiles the payload/result
// JSON schemas (if provided) once, up front, so per-job validation is cheap.
func (r *Registry) Register(def Definition) error {
	if def.Type == "" {
		return fmt.Errorf("queue: job definition requires a non-empty type")
	}
	if def.Run == nil {
		return fmt.Errorf("queue: job definition %q requires a Run function", def.Type)
	}
	if def.Dedupe == MergeDuplicate && def.Merge == nil {
		return fmt.Errorf("queue: job definition %q uses merge_duplicate but has no Merge function", def.Type)
	}
	if def.Classify == nil {
		def.Classify = DefaultClassify
	}
	if def.Delay == nil {
		def.Delay = DefaultDelay(0, 0)
	}
	if def.Timeout <= 0 {
		def.Timeout = 60 * time.Second
	}
	if def.MaxAttempts <= 0 {
		def.MaxAttempts = 2
	}
	if def.CancelStrategy == "" {
		def.CancelStrategy = CancelMarkCanceled
	}
	if def.CancelStrategy == CancelInterruptTurn && def.GracefulWait <= 0 {
		def.GracefulWait = 5 * time.Second
	}

	compiled := def
	if len(def.PayloadSchema) > 0 {
		s, err := compileSchema(def.PayloadSchema)
		if err != nil {
			return fmt.Errorf("queue: job definition %q payload schema: %w", def.Type, err)
		}
		compiled.payloadCompiled = s
	}
	if len(def.ResultSchema) > 0 {
		s, err := compileSchema(def.ResultSchema)
		if err != nil {
			return fmt.Errorf("queue: job definition %q result schema: %w", def.Type, err)
		}
		compiled.resultCompiled = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Type] = &compiled
	return nil
}

// Lookup returns the Definition registered for type, if any.
func (r *Registry) Lookup(jobType string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[jobType]
	return d, ok
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile("schema.json")
}

// ValidatePayload validates raw against the definition's payload schema, if
// one was configured. A definition without a schema accepts any payload.
func (d *Definition) ValidatePayload(raw json.RawMessage) error {
	return validateAgainst(d.payloadCompiled, raw)
}

// ValidateResult validates raw against the definition's result schema, if one
// was configured.
func (d *Definition) ValidateResult(raw json.RawMessage) error {
	return validateAgainst(d.resultCompiled, raw)
}

func validateAgainst(schema *jsonschema.Schema, raw json.RawMessage) error {
	if schema == nil {
		return nil
	}
	var doc any
	if len(raw) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return schema.Validate(doc)
}
