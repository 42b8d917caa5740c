// Package audit persists Agent Events Runtime activity — module activations
// and rejections — to an external sink for operators who
// need a durable record beyond the in-process snapshot (spec §6 "extension
// audit" collaborator).
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one audited fact about the Agent Events Runtime.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	Kind       string    `json:"kind"` // module_activated | module_rejected
	ModuleName string    `json:"moduleName"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// Sink records audit entries.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// RedisSinkOptions configures a RedisSink.
type RedisSinkOptions struct {
	// Client is the Redis client used to append entries.
	Client *redis.Client
	// StreamKeyPrefix namespaces the Redis stream key; defaults to
	// "agentcp:events:audit".
	StreamKeyPrefix string
	// MaxLen caps the Redis stream length via approximate trimming so the
	// audit trail does not grow unbounded. Zero means no trimming.
	MaxLen int64
}

// RedisSink appends audit entries to a capped Redis stream whose key is
// StreamKeyPrefix, so a separate process can tail module activation and
// rejection history without coupling to the runtime's in-memory snapshot.
type RedisSink struct {
	rdb       *redis.Client
	streamKey string
	maxLen    int64
}

// NewRedisSink constructs a RedisSink.
func NewRedisSink(opts RedisSinkOptions) (*RedisSink, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("audit: redis client is required")
	}
	prefix := opts.StreamKeyPrefix
	if prefix == "" {
		prefix = "agentcp:events:audit"
	}
	return &RedisSink{rdb: opts.Client, streamKey: prefix, maxLen: opts.MaxLen}, nil
}

// Record appends entry to the audit stream as a single-field XADD payload.
func (s *RedisSink) Record(ctx context.Context, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.streamKey,
		Values: map[string]any{"entry": raw},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("audit: append entry: %w", err)
	}
	return nil
}

// NoopSink discards every entry. Used when no Redis client is configured.
type NoopSink struct{}

// Record implements Sink by discarding entry.
func (NoopSink) Record(context.Context, Entry) error { return nil }
