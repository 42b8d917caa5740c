// Command agentcpd runs the Agent Control Plane: the Orchestrator Queue, the
// Agent Events Runtime, and the Action Executor, wired to a session metadata
// store and a runtime profile adapter.
//
// # Configuration
//
// Environment variables (see internal/config for the full list and
// defaults):
//
//	ORCHESTRATOR_QUEUE_*          - queue concurrency/aging tunables: GLOBAL_CONCURRENCY, MAX_PER_PROJECT,
//	                                MAX_GLOBAL, BACKGROUND_AGING_MS, MAX_INTERACTIVE_BURST. ENABLED, MAX_ATTEMPTS
//	                                and DEFAULT_TIMEOUT_MS are parsed but do not change queue behavior: every
//	                                job definition gets its attempts and timeout from queue.Registry.Register
//	AGENT_EXTENSION_TRUST_MODE    - disabled|warn|enforced
//	AGENT_EXTENSION_CONFIGURED_ROOTS, AGENT_EXTENSION_PACKAGE_ROOTS
//	AGENTCPD_SNAPSHOT_PATH        - queue snapshot file (default: ./orchestrator-jobs.json)
//	AGENTCPD_LOG_FORMAT           - "json" selects clue-backed logging; anything else is a no-op logger
//	AGENTCPD_SHUTDOWN_TIMEOUT     - graceful drain window (default: 30s)
//	REDIS_URL                     - when set, extension activation/rejection history is recorded to Redis
//	MONGO_URI, MONGO_DATABASE     - when both set, session metadata persists to MongoDB instead of memory
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentcp/controlplane/internal/action"
	"github.com/agentcp/controlplane/internal/config"
	"github.com/agentcp/controlplane/internal/events"
	"github.com/agentcp/controlplane/internal/events/audit"
	"github.com/agentcp/controlplane/internal/profile"
	"github.com/agentcp/controlplane/internal/queue"
	"github.com/agentcp/controlplane/internal/session"
	"github.com/agentcp/controlplane/internal/session/inmem"
	sessionmongo "github.com/agentcp/controlplane/internal/session/mongo"
	"github.com/agentcp/controlplane/internal/telemetry"
)

// Dependencies bundles the core components this composition root wires.
// run() builds it and reads only the events runtime's loaded-module count
// from it; as part of package main it cannot be imported by other packages.
type Dependencies struct {
	Queue         *queue.Queue
	EventsRuntime *events.Runtime
	Executor      *action.Executor
	SessionStore  session.Store
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Printf("config: %v (continuing with defaults where applicable)", err)
	}

	telemetrySet := telemetry.Noop()
	if envOr("AGENTCPD_LOG_FORMAT", "") == "json" {
		telemetrySet = telemetry.Set{Log: telemetry.NewClueLogger(), Metrics: telemetry.NewClueMetrics(), Trace: telemetry.NewClueTracer()}
	}

	sessionStore, closeSessionStore, err := buildSessionStore(ctx)
	if err != nil {
		return fmt.Errorf("build session store: %w", err)
	}
	defer closeSessionStore()

	auditSink, closeAudit := buildAuditSink()
	defer closeAudit()

	roots := buildEventRoots(cfg)
	eventsRuntime := events.New(events.Options{
		Roots:          roots,
		Sources:        events.NewSourceRegistry(),
		CoreAPIVersion: envOr("AGENTCPD_CORE_API_VERSION", "1.0.0"),
		TrustMode:      cfg.ExtensionTrustMode,
		Log:            telemetrySet.Log,
		Metrics:        telemetrySet.Metrics,
		Audit:          auditSink,
	})
	if res := eventsRuntime.Load(ctx); res.Status == events.ReloadError {
		log.Printf("events: initial load reported errors: %+v", res.Errors)
	}

	var watcher *events.Watcher
	if len(roots) > 0 {
		w, err := events.NewWatcher(events.WatcherConfig{Runtime: eventsRuntime, Log: telemetrySet.Log})
		if err != nil {
			log.Printf("events: watcher disabled: %v", err)
		} else {
			for _, root := range roots {
				if err := w.WatchRoot(root); err != nil {
					log.Printf("events: failed to watch root %s: %v", root.Path, err)
				}
			}
			watcher = w
		}
	}
	if watcher != nil {
		defer func() { _ = watcher.Close() }()
	}

	adapter := profile.NewFixture("agentcpd")

	snapshotPath := envOr("AGENTCPD_SNAPSHOT_PATH", "./orchestrator-jobs.json")
	snapshotStore := queue.NewSnapshotStore(snapshotPath)
	registry := queue.NewRegistry()

	q := queue.New(queueConfig(cfg), registry, snapshotStore, adapter, queue.Hooks{}, telemetrySet.Log, telemetrySet.Metrics)
	if err := q.Start(ctx); err != nil {
		return fmt.Errorf("start queue: %w", err)
	}

	// The Action Executor and the session store are built here and held in
	// deps; nothing in this process calls them after construction. The
	// HTTP/WS adapter that would drive them is out of scope for this service
	// (spec §1 "Deliberately Out of Scope").
	deps := Dependencies{
		Queue:         q,
		EventsRuntime: eventsRuntime,
		Executor:      action.New(action.Config{Adapter: adapter, Queue: q, Log: telemetrySet.Log, Metrics: telemetrySet.Metrics}),
		SessionStore:  sessionStore,
	}

	log.Printf("agentcpd started (trust_mode=%s, snapshot=%s, loaded_modules=%d)",
		cfg.ExtensionTrustMode, snapshotPath, len(deps.EventsRuntime.ListLoadedModules()))

	<-ctx.Done()
	log.Printf("agentcpd shutting down")

	shutdownTimeout := envDurationOr("AGENTCPD_SHUTDOWN_TIMEOUT", 30*time.Second)
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	q.Drain(drainCtx)
	q.Stop()

	return nil
}

func queueConfig(cfg config.Config) queue.Config {
	def := queue.DefaultConfig()
	if cfg.QueueGlobalConcurrency > 0 {
		def.GlobalConcurrency = cfg.QueueGlobalConcurrency
	}
	if cfg.QueueMaxPerProject > 0 {
		def.MaxPerProject = cfg.QueueMaxPerProject
	}
	if cfg.QueueMaxGlobal > 0 {
		def.MaxGlobal = cfg.QueueMaxGlobal
	}
	if cfg.QueueDefaultTimeout > 0 {
		def.DefaultTimeout = cfg.QueueDefaultTimeout
	}
	if cfg.QueueBackgroundAgingMs > 0 {
		def.BackgroundAgingMs = cfg.QueueBackgroundAgingMs
	}
	if cfg.QueueMaxInteractiveBurst > 0 {
		def.MaxInteractiveBurst = cfg.QueueMaxInteractiveBurst
	}
	return def
}

func buildEventRoots(cfg config.Config) []events.Root {
	var roots []events.Root
	for _, p := range cfg.ExtensionConfigured {
		roots = append(roots, events.Root{Family: events.ConfiguredRoot, Path: p})
	}
	for _, p := range cfg.ExtensionPackageRoots {
		roots = append(roots, events.Root{Family: events.InstalledPackage, Path: p})
	}
	return roots
}

func buildAuditSink() (audit.Sink, func()) {
	redisURL := envOr("REDIS_URL", "")
	if redisURL == "" {
		return audit.NoopSink{}, func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisURL})
	sink, err := audit.NewRedisSink(audit.RedisSinkOptions{Client: rdb, MaxLen: 10_000})
	if err != nil {
		log.Printf("audit: falling back to no-op sink: %v", err)
		_ = rdb.Close()
		return audit.NoopSink{}, func() {}
	}
	return sink, func() { _ = rdb.Close() }
}

func buildSessionStore(ctx context.Context) (session.Store, func(), error) {
	mongoURI := envOr("MONGO_URI", "")
	mongoDB := envOr("MONGO_DATABASE", "")
	if mongoURI == "" || mongoDB == "" {
		return inmem.New(), func() {}, nil
	}

	client, err := mongodriver.Connect(mongooptions.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	store, err := sessionmongo.NewStore(ctx, sessionmongo.Options{Client: client, Database: mongoDB})
	if err != nil {
		if discErr := client.Disconnect(context.Background()); discErr != nil {
			return nil, nil, errors.Join(fmt.Errorf("build mongo session store: %w", err), discErr)
		}
		return nil, nil, fmt.Errorf("build mongo session store: %w", err)
	}
	return store, func() { _ = client.Disconnect(context.Background()) }, nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
