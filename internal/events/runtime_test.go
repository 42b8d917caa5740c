package events

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentcp/controlplane/internal/action"
	"github.com/agentcp/controlplane/internal/config"
)

func writeManifest(t *testing.T, dir string, m Manifest) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFileName), raw, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events.mjs"), []byte("// stub"), 0o644))
}

func TestDispatchOrderByPriorityThenModuleThenRegistration(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "mod-a"), Manifest{Name: "mod-a", Version: "1.0.0", Capabilities: Capabilities{Events: []string{"turn.completed"}}})
	writeManifest(t, filepath.Join(root, "mod-b"), Manifest{Name: "mod-b", Version: "1.0.0", Capabilities: Capabilities{Events: []string{"turn.completed"}}})

	var order []string
	sources := NewSourceRegistry()
	sources.Register("mod-a", func(r *HandlerRegistry) error {
		r.On("turn.completed", func(ctx context.Context, e Event, tools Tools) (any, error) {
			order = append(order, "mod-a:p50")
			return HandlerResultShape{}, nil
		}, HandlerOptions{Priority: 50})
		r.On("turn.completed", func(ctx context.Context, e Event, tools Tools) (any, error) {
			order = append(order, "mod-a:p100")
			return HandlerResultShape{}, nil
		})
		return nil
	})
	sources.Register("mod-b", func(r *HandlerRegistry) error {
		r.On("turn.completed", func(ctx context.Context, e Event, tools Tools) (any, error) {
			order = append(order, "mod-b:p100")
			return HandlerResultShape{}, nil
		})
		return nil
	})

	rt := New(Options{
		Roots:          []Root{{Family: ConfiguredRoot, Path: root}},
		Sources:        sources,
		TrustMode:      config.TrustDisabled,
		CoreAPIVersion: "1.0.0",
	})
	res := rt.Load(context.Background())
	require.Equal(t, ReloadOK, res.Status)

	results := rt.Emit(context.Background(), Event{Type: "turn.completed"}, nil)
	require.Len(t, results, 3)
	require.Equal(t, []string{"mod-a:p50", "mod-a:p100", "mod-b:p100"}, order)
}

func TestTrustEnforcedRejectsUndeclaredCapability(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "mod-a"), Manifest{Name: "mod-a", Version: "1.0.0"})

	sources := NewSourceRegistry()
	sources.Register("mod-a", func(r *HandlerRegistry) error {
		r.On("turn.completed", func(ctx context.Context, e Event, tools Tools) (any, error) {
			return HandlerResultShape{}, nil
		})
		return nil
	})

	rt := New(Options{
		Roots:     []Root{{Family: ConfiguredRoot, Path: root}},
		Sources:   sources,
		TrustMode: config.TrustEnforced,
	})
	rt.Load(context.Background())

	modules := rt.ListLoadedModules()
	require.Len(t, modules, 1)
	require.Equal(t, ModuleRejected, modules[0].Status)

	results := rt.Emit(context.Background(), Event{Type: "turn.completed"}, nil)
	require.Empty(t, results)
}

func TestActionRequestWinnerTakeAll(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "mod-a"), Manifest{Name: "mod-a", Capabilities: Capabilities{Events: []string{"turn.completed"}, Actions: []string{"queue.enqueue"}}})
	writeManifest(t, filepath.Join(root, "mod-b"), Manifest{Name: "mod-b", Capabilities: Capabilities{Events: []string{"turn.completed"}, Actions: []string{"queue.enqueue"}}})

	sources := NewSourceRegistry()
	sources.Register("mod-a", func(r *HandlerRegistry) error {
		r.On("turn.completed", func(ctx context.Context, e Event, tools Tools) (any, error) {
			return ActionRequest{ActionType: "queue.enqueue", Payload: map[string]any{}}, nil
		}, HandlerOptions{Priority: 10})
		return nil
	})
	sources.Register("mod-b", func(r *HandlerRegistry) error {
		r.On("turn.completed", func(ctx context.Context, e Event, tools Tools) (any, error) {
			return ActionRequest{ActionType: "queue.enqueue", Payload: map[string]any{}}, nil
		}, HandlerOptions{Priority: 20})
		return nil
	})

	rt := New(Options{
		Roots:     []Root{{Family: ConfiguredRoot, Path: root}},
		Sources:   sources,
		TrustMode: config.TrustWarn,
	})
	rt.Load(context.Background())

	executeAction := func(ctx context.Context, req action.Envelope) (action.Result, error) {
		return action.Result{Status: action.Performed, Details: map[string]any{}}, nil
	}
	results := rt.Emit(context.Background(), Event{Type: "turn.completed"}, executeAction)
	require.Len(t, results, 2)
	require.Equal(t, string(action.Performed), results[0].Status)
	require.Equal(t, string(action.NotEligible), results[1].Status)
	require.Equal(t, "action_winner_already_selected", results[1].Details["code"])
}

func TestActionExecutorUnavailable(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "mod-a"), Manifest{Name: "mod-a", Capabilities: Capabilities{Events: []string{"turn.completed"}, Actions: []string{"queue.enqueue"}}})

	sources := NewSourceRegistry()
	sources.Register("mod-a", func(r *HandlerRegistry) error {
		r.On("turn.completed", func(ctx context.Context, e Event, tools Tools) (any, error) {
			return ActionRequest{ActionType: "queue.enqueue", Payload: map[string]any{}}, nil
		})
		return nil
	})

	rt := New(Options{Roots: []Root{{Family: ConfiguredRoot, Path: root}}, Sources: sources, TrustMode: config.TrustWarn})
	rt.Load(context.Background())

	results := rt.Emit(context.Background(), Event{Type: "turn.completed"}, nil)
	require.Len(t, results, 1)
	require.Equal(t, string(action.Failed), results[0].Status)
	require.Equal(t, "action_executor_unavailable", results[0].Details["code"])
}

func TestHandlerTimeoutIsolatesFault(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "mod-a"), Manifest{Name: "mod-a", Capabilities: Capabilities{Events: []string{"turn.completed"}}})

	sources := NewSourceRegistry()
	sources.Register("mod-a", func(r *HandlerRegistry) error {
		r.On("turn.completed", func(ctx context.Context, e Event, tools Tools) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, HandlerOptions{Timeout: 10 * time.Millisecond})
		return nil
	})

	rt := New(Options{Roots: []Root{{Family: ConfiguredRoot, Path: root}}, Sources: sources, TrustMode: config.TrustDisabled})
	rt.Load(context.Background())

	results := rt.Emit(context.Background(), Event{Type: "turn.completed"}, nil)
	require.Len(t, results, 1)
	require.Equal(t, KindHandlerError, results[0].Kind)
}

func TestReloadPreservesPriorSnapshotOnFailure(t *testing.T) {
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

	// Corrupt the manifest so the next reload fails validation.
	require.NoError(t, os.WriteFile(filepath.Join(root, "mod-a", manifestFileName), []byte("not json"), 0o644))

	res := rt.Reload(context.Background())
	require.Equal(t, ReloadError, res.Status)
	require.Equal(t, "reload_failed", res.Code)

	v2, _ := rt.SnapshotInfo()
	require.Equal(t, v1, v2)

	results := rt.Emit(context.Background(), Event{Type: "turn.completed"}, nil)
	require.Len(t, results, 1)
}
