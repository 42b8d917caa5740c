package transcript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertAppendsNewTurns(t *testing.T) {
	l := NewLedger()
	require.True(t, l.IsEmpty())

	replaced := l.Upsert(Entry{TurnID: "t1", Role: "user", Content: "hello"})
	require.False(t, replaced)
	replaced = l.Upsert(Entry{TurnID: "t2", Role: "assistant", Content: "hi"})
	require.False(t, replaced)

	entries := l.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "t1", entries[0].TurnID)
	require.Equal(t, "t2", entries[1].TurnID)
	require.False(t, l.IsEmpty())
}

func TestUpsertReplacesExistingTurnInPlace(t *testing.T) {
	l := NewLedger()
	l.Upsert(Entry{TurnID: "t1", Role: "assistant", Content: "partial"})
	l.Upsert(Entry{TurnID: "t2", Role: "user", Content: "ping"})

	replaced := l.Upsert(Entry{TurnID: "t1", Role: "assistant", Content: "complete"})
	require.True(t, replaced)

	entries := l.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "complete", entries[0].Content)
	require.Equal(t, "t2", entries[1].TurnID)
}

func TestEntriesReturnsDefensiveCopy(t *testing.T) {
	l := NewLedger()
	l.Upsert(Entry{TurnID: "t1", Role: "user", Content: "hello"})

	entries := l.Entries()
	entries[0].Content = "mutated"

	fresh := l.Entries()
	require.Equal(t, "hello", fresh[0].Content)
}

func TestUpsertWithoutTurnIDAlwaysAppends(t *testing.T) {
	l := NewLedger()
	l.Upsert(Entry{Role: "system", Content: "boot"})
	l.Upsert(Entry{Role: "system", Content: "boot"})

	require.Len(t, l.Entries(), 2)
}
