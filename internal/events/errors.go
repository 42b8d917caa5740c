package events

import "errors"

// Module activation errors (spec §4.2 "Manifest Evaluation" / §7 taxonomy).
var (
	ErrInvalidManifest    = errors.New("invalid_manifest")
	ErrMissingEntrypoint  = errors.New("missing_entrypoint")
	ErrIncompatibleRuntime = errors.New("incompatible_runtime")
	ErrAgentIDConflict    = errors.New("agent_id_conflict")
	ErrTrustDenied        = errors.New("trust_denied")
	ErrReloadInProgress   = errors.New("reload_in_progress")
)
