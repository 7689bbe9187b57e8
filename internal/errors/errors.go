package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrTransient - transient transport error (retry with backoff, degrade to a recorded failure on exhaustion)
	ErrTransient = errors.New("transient error")

	// ErrNotFound - resource not found (snapshot, policy, baseline, record)
	ErrNotFound = errors.New("not found")

	// ErrConflict - conflicting operation (a pipeline run is already in progress for the policy)
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput - invalid input (bad policy definition, malformed record)
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidModelOutput - model returned malformed structured output
	ErrInvalidModelOutput = errors.New("invalid model output")

	// ErrExcessiveDrift - monitor produced a candidate too far from the baseline; fatal to the run
	ErrExcessiveDrift = errors.New("excessive drift")

	// ErrEvidenceUnavailable - evidence validator unreachable; monitor degrades, authorizer rejects
	ErrEvidenceUnavailable = errors.New("evidence unavailable")

	// ErrSourceUnavailable - document source fetch failed
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)
