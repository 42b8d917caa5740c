package queue

import "errors"

// Typed admission/lookup errors returned by Enqueue and friends. These map
// directly to the taxonomy in spec §7: validation and capacity errors are
// never retried and are surfaced directly to the caller.
var (
	ErrInvalidPayload  = errors.New("invalid_payload")
	ErrQueueFull       = errors.New("queue_full")
	ErrUnknownJobType  = errors.New("unknown_job_type")
	ErrJobNotFound     = errors.New("job_not_found")
	ErrAlreadyTerminal = errors.New("already_terminal")
)
