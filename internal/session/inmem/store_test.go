package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentcp/controlplane/internal/session"
)

func TestCreateSessionIdempotent(t *testing.T) {
	s := New()
	now := time.Now()
	s1, err := s.CreateSession(context.Background(), "sess-1", now)
	require.NoError(t, err)
	s2, err := s.CreateSession(context.Background(), "sess-1", now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, s1.CreatedAt, s2.CreatedAt)
}

func TestCreateSessionAfterEndedReturnsError(t *testing.T) {
	s := New()
	now := time.Now()
	_, err := s.CreateSession(context.Background(), "sess-1", now)
	require.NoError(t, err)
	_, err = s.EndSession(context.Background(), "sess-1", now.Add(time.Minute))
	require.NoError(t, err)

	_, err = s.CreateSession(context.Background(), "sess-1", now)
	require.ErrorIs(t, err, session.ErrSessionEnded)
}

func TestLoadSessionNotFound(t *testing.T) {
	s := New()
	_, err := s.LoadSession(context.Background(), "missing")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestUpsertJobPreservesStartedAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Now().Add(-time.Hour)
	require.NoError(t, s.UpsertJob(ctx, session.JobMeta{JobID: "j1", SessionID: "sess-1", Status: session.JobStatusRunning, StartedAt: start}))
	require.NoError(t, s.UpsertJob(ctx, session.JobMeta{JobID: "j1", SessionID: "sess-1", Status: session.JobStatusCompleted}))

	job, err := s.LoadJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, session.JobStatusCompleted, job.Status)
	require.WithinDuration(t, start, job.StartedAt, time.Second)
}

func TestListJobsBySessionFiltersByStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.UpsertJob(ctx, session.JobMeta{JobID: "j1", SessionID: "sess-1", Status: session.JobStatusCompleted}))
	require.NoError(t, s.UpsertJob(ctx, session.JobMeta{JobID: "j2", SessionID: "sess-1", Status: session.JobStatusFailed}))
	require.NoError(t, s.UpsertJob(ctx, session.JobMeta{JobID: "j3", SessionID: "sess-2", Status: session.JobStatusCompleted}))

	jobs, err := s.ListJobsBySession(ctx, "sess-1", []session.JobStatus{session.JobStatusCompleted})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "j1", jobs[0].JobID)
}
