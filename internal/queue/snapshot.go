package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// SnapshotVersion is the on-disk schema version written to snapshot files.
const SnapshotVersion = 1

// snapshotDoc is the wire format of orchestrator-jobs.json (spec §6).
type snapshotDoc struct {
	Version int    `json:"version"`
	Jobs    []*Job `json:"jobs"`
}

// SnapshotStore loads and saves the durable job table. It is single-writer:
// Save calls are serialized through a promise/future-style chain so the
// scheduler does not wait for the previous write to finish (unless 64 saves
// are already pending), while writes to disk still happen strictly in order.
type SnapshotStore struct {
	path string

	writeCh chan saveRequest
	done    chan struct{}
}

type saveRequest struct {
	jobs []*Job
	done chan error
}

// NewSnapshotStore constructs a store backed by the given file path. Call
// Start to begin the single-writer goroutine before issuing Save calls.
func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path, writeCh: make(chan saveRequest, 64), done: make(chan struct{})}
}

// Start launches the serialized writer goroutine. Safe to call once.
func (s *SnapshotStore) Start() {
	go s.writerLoop()
}

// Stop drains pending writes and terminates the writer goroutine.
func (s *SnapshotStore) Stop() {
	close(s.writeCh)
	<-s.done
}

func (s *SnapshotStore) writerLoop() {
	defer close(s.done)
	for req := range s.writeCh {
		req.done <- s.writeNow(req.jobs)
	}
}

// Save enqueues a snapshot write and returns without waiting for it to reach
// disk; it blocks only while the 64-slot write buffer is full. The caller
// waits for the write only by reading the returned error channel, which it
// may ignore.
func (s *SnapshotStore) Save(jobs []*Job) <-chan error {
	done := make(chan error, 1)
	cloned := make([]*Job, len(jobs))
	for i, j := range jobs {
		cloned[i] = j.Clone()
	}
	select {
	case s.writeCh <- saveRequest{jobs: cloned, done: done}:
	default:
		// Writer is backed up; fall back to a blocking send so no snapshot is
		// silently dropped.
		s.writeCh <- saveRequest{jobs: cloned, done: done}
	}
	return done
}

func (s *SnapshotStore) writeNow(jobs []*Job) error {
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	doc := snapshotDoc{Version: SnapshotVersion, Jobs: jobs}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".orchestrator-jobs-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: replace-on-write rename: %w", err)
	}
	return nil
}

// Load reads the snapshot file. A missing file is not an error: it returns an
// empty job list, matching a fresh install with no prior state.
func (s *SnapshotStore) Load() ([]*Job, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: read: %w", err)
	}
	var doc snapshotDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	return doc.Jobs, nil
}
