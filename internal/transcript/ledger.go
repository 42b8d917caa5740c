// Package transcript provides a minimal, ordered ledger of turn transcript
// entries, the supplemental in-process transcript store named in spec §1/§6
// as an external collaborator. Unlike the teacher's provider-precise ledger
// (which reconstructs exact Bedrock/Anthropic wire payloads from thinking,
// tool_use, and tool_result parts), this ledger only needs to record and
// replace entries by turn ID: the control plane never talks to a model
// provider directly, it only relays what the Runtime Profile Adapter reports.
package transcript

import "sync"

// Entry is one transcript record, addressed by TurnID for upsert semantics
// (spec §4.3 "transcript.upsert").
type Entry struct {
	TurnID  string
	Role    string
	Content string
	Meta    map[string]any
}

// Ledger holds the ordered transcript for one thread. Appends preserve
// arrival order; an upsert with a TurnID already present replaces that
// entry in place rather than appending a duplicate, mirroring the teacher's
// ledger coalescing an in-progress assistant message rather than
// duplicating it.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
	index   map[string]int // turnID -> position in entries
}

// NewLedger constructs an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{index: make(map[string]int)}
}

// Upsert appends entry, or replaces the existing entry sharing its TurnID.
// Returns true when an existing entry was replaced.
func (l *Ledger) Upsert(entry Entry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.TurnID != "" {
		if i, ok := l.index[entry.TurnID]; ok {
			l.entries[i] = entry
			return true
		}
	}
	l.entries = append(l.entries, entry)
	if entry.TurnID != "" {
		l.index[entry.TurnID] = len(l.entries) - 1
	}
	return false
}

// Entries returns a defensive copy of the ledger's entries in arrival order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// IsEmpty reports whether the ledger has recorded any entries.
func (l *Ledger) IsEmpty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries) == 0
}
