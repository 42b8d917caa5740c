// Package config reads the control plane's environment-variable surface
// (spec §6) into a typed, validated configuration value. The control plane
// has no interactive CLI subcommands, so this stays on stdlib env parsing
// rather than reaching for a flags library — see DESIGN.md for why.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TrustMode controls how undeclared extension capabilities are handled.
type TrustMode string

const (
	TrustDisabled TrustMode = "disabled"
	TrustWarn     TrustMode = "warn"
	TrustEnforced TrustMode = "enforced"
)

// Config is the fully resolved control-plane configuration.
type Config struct {
	QueueEnabled              bool
	QueueGlobalConcurrency    int
	QueueMaxPerProject        int
	QueueMaxGlobal            int
	QueueMaxAttempts          int
	QueueDefaultTimeout       time.Duration
	QueueBackgroundAgingMs    time.Duration
	QueueMaxInteractiveBurst  int

	ExtensionTrustMode    TrustMode
	ExtensionConfigured   []string
	ExtensionPackageRoots []string
}

// Load reads the documented environment variables and applies typed
// defaults for anything unset. It never panics; invalid values fall back to
// their default and are reported via err so callers can log a warning.
func Load() (Config, error) {
	var errs []string
	cfg := Config{
		QueueEnabled:             getBool("ORCHESTRATOR_QUEUE_ENABLED", true, &errs),
		QueueGlobalConcurrency:   getIntMin("ORCHESTRATOR_QUEUE_GLOBAL_CONCURRENCY", 2, 1, &errs),
		QueueMaxPerProject:       getIntMin("ORCHESTRATOR_QUEUE_MAX_PER_PROJECT", 100, 1, &errs),
		QueueMaxGlobal:           getIntMin("ORCHESTRATOR_QUEUE_MAX_GLOBAL", 500, 1, &errs),
		QueueMaxAttempts:         getIntMin("ORCHESTRATOR_QUEUE_MAX_ATTEMPTS", 2, 1, &errs),
		QueueDefaultTimeout:      getDurationMs("ORCHESTRATOR_QUEUE_DEFAULT_TIMEOUT_MS", 60_000, &errs),
		QueueBackgroundAgingMs:   getDurationMs("ORCHESTRATOR_QUEUE_BACKGROUND_AGING_MS", 15_000, &errs),
		QueueMaxInteractiveBurst: getIntMin("ORCHESTRATOR_QUEUE_MAX_INTERACTIVE_BURST", 3, 0, &errs),
		ExtensionTrustMode:       getTrustMode("AGENT_EXTENSION_TRUST_MODE", TrustWarn, &errs),
		ExtensionConfigured:      getPathList("AGENT_EXTENSION_CONFIGURED_ROOTS"),
		ExtensionPackageRoots:    getPathList("AGENT_EXTENSION_PACKAGE_ROOTS"),
	}
	if len(errs) > 0 {
		return cfg, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func getBool(key string, def bool, errs *[]string) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid value %q, using default %t", key, v, def))
		return def
	}
	return b
}

func getIntMin(key string, def, min int, errs *[]string) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		*errs = append(*errs, fmt.Sprintf("%s: invalid value %q, using default %d", key, v, def))
		return def
	}
	return n
}

func getDurationMs(key string, defMs int64, errs *[]string) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return time.Duration(defMs) * time.Millisecond
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		*errs = append(*errs, fmt.Sprintf("%s: invalid value %q, using default %d", key, v, defMs))
		return time.Duration(defMs) * time.Millisecond
	}
	return time.Duration(n) * time.Millisecond
}

func getTrustMode(key string, def TrustMode, errs *[]string) TrustMode {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	switch TrustMode(v) {
	case TrustDisabled, TrustWarn, TrustEnforced:
		return TrustMode(v)
	default:
		*errs = append(*errs, fmt.Sprintf("%s: unknown trust mode %q, using default %q", key, v, def))
		return def
	}
}

func getPathList(key string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	parts := strings.Split(v, string(os.PathListSeparator))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
