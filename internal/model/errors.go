package model

import "errors"

// Sentinel errors surfaced by the storage and pipeline layers. The
// orchestrator translates these into the HTTP status codes in
// spec.md §7; every other layer treats them as ordinary Go errors.
var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrQuotaExceeded       = errors.New("quota exceeded")
	ErrValidation          = errors.New("validation failed")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrGuardrailRejected   = errors.New("guardrail rejected candidate")
	ErrRegenerationFailed  = errors.New("regeneration failed")
	ErrDeadlineExceeded    = errors.New("deadline exceeded")
	ErrRegenerationLocked  = errors.New("regeneration already in flight")
)
