package events

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentcp/controlplane/internal/config"
)

func TestWatcherDebouncesIntoSingleReload(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "mod-a"), Manifest{Name: "mod-a", Capabilities: Capabilities{Events: []string{"turn.completed"}}})

	sources := NewSourceRegistry()
	sources.Register("mod-a", func(r *HandlerRegistry) error {
		r.On("turn.completed", func(ctx context.Context, e Event, tools Tools) (any, error) {
			return HandlerResultShape{}, nil
		})
		return nil
	})

	rt := New(Options{Roots: []Root{{Family: ConfiguredRoot, Path: root}}, Sources: sources, TrustMode: config.TrustDisabled})
	rt.Load(context.Background())
	v1, _ := rt.SnapshotInfo()

	w, err := NewWatcher(WatcherConfig{Runtime: rt, DebounceDelay: 30 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.WatchRoot(Root{Family: ConfiguredRoot, Path: root}))

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "mod-a", "events.mjs"), []byte("// touch"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		v2, _ := rt.SnapshotInfo()
		return v2 != v1
	}, time.Second, 10*time.Millisecond)

	// The three writes fall inside one debounce window, so no second reload
	// follows the first.
	afterFirst, _ := rt.SnapshotInfo()
	time.Sleep(100 * time.Millisecond)
	afterWait, _ := rt.SnapshotInfo()
	require.Equal(t, afterFirst, afterWait)
}
