package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixtureUpsertTranscriptAppendsThenReplaces(t *testing.T) {
	f := NewFixture("fixture-test")
	ctx := context.Background()

	th, err := f.StartTurn(ctx, "sess-1", nil)
	require.NoError(t, err)

	res, err := f.UpsertTranscript(ctx, th.ThreadID, TranscriptEntry{TurnID: "turn-1", Role: "assistant", Content: "thinking..."})
	require.NoError(t, err)
	require.Equal(t, Performed, res.Status)
	require.Equal(t, true, res.Details["appended"])

	res, err = f.UpsertTranscript(ctx, th.ThreadID, TranscriptEntry{TurnID: "turn-1", Role: "assistant", Content: "done"})
	require.NoError(t, err)
	require.Equal(t, Performed, res.Status)
	require.Equal(t, true, res.Details["replaced"])

	entries, err := f.ReadThread(ctx, th.ThreadID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "done", entries[0].Content)
}

func TestFixtureReadThreadUnknownReturnsEmpty(t *testing.T) {
	f := NewFixture("fixture-test")
	entries, err := f.ReadThread(context.Background(), "missing")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFixtureSteerTurnRequiresActiveThread(t *testing.T) {
	f := NewFixture("fixture-test")
	ctx := context.Background()

	res, err := f.SteerTurn(ctx, SteerRequest{SessionID: "no-such-session", TurnID: "t1", Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, NotEligible, res.Status)

	_, err = f.StartTurn(ctx, "sess-2", nil)
	require.NoError(t, err)
	res, err = f.SteerTurn(ctx, SteerRequest{SessionID: "sess-2", TurnID: "t1", Message: "hi"})
	require.NoError(t, err)
	require.Equal(t, Performed, res.Status)
}
