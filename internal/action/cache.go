package action

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 5000

type cacheEntry struct {
	signature string
	result    Result
}

// idempotencyCache is the bounded LRU keyed by idempotencyKey, storing the
// request's signature alongside its cached result so a key reused with a
// different payload/scope is detected as a conflict rather than silently
// replayed (spec §4.3 step 3, §3 "Action Idempotency Cache Entry").
type idempotencyCache struct {
	mu    sync.Mutex
	inner *lru.Cache[string, cacheEntry]
}

func newIdempotencyCache(size int) *idempotencyCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	inner, err := lru.New[string, cacheEntry](size)
	if err != nil {
		// Only returns an error for size <= 0, already guarded above.
		panic(err)
	}
	return &idempotencyCache{inner: inner}
}

// signature computes a deterministic hash of {actionType, payload, scope}.
// encoding/json sorts map keys, so two semantically equal payloads always
// hash the same.
func signature(actionType string, payload map[string]any, scope *Scope) string {
	doc := struct {
		ActionType string         `json:"actionType"`
		Payload    map[string]any `json:"payload"`
		Scope      *Scope         `json:"scope,omitempty"`
	}{ActionType: actionType, Payload: payload, Scope: scope}
	raw, _ := json.Marshal(doc)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// lookup returns (cachedResult, sigMatches, found).
func (c *idempotencyCache) lookup(key, sig string) (Result, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.inner.Get(key)
	if !ok {
		return Result{}, false, false
	}
	return entry.result, entry.signature == sig, true
}

func (c *idempotencyCache) store(key, sig string, result Result) {
	if !replayCacheable[result.Status] {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, cacheEntry{signature: sig, result: result})
}
