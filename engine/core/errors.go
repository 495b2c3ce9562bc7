package core

import (
	"context"
	"errors"
	"net/http"
)

// ErrorKind classifies failures surfaced by the answer pipeline.
type ErrorKind string

const (
	KindInvalidInput       ErrorKind = "invalid_input"
	KindNotFound           ErrorKind = "not_found"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindIndexState         ErrorKind = "index_state"
	KindInternal           ErrorKind = "internal"
)

var (
	// ErrInvalidInput marks malformed questions and vector/chunk contract violations.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks queries that produced no grounding sources.
	ErrNotFound = errors.New("not found")
	// ErrServiceUnavailable marks failures reaching the embedding, index or chat services.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrIndexState marks an index left unusable after a destructive recreate.
	// Recovery requires a full ingestion re-run.
	ErrIndexState = errors.New("index state error")
)

// KindOf reports the taxonomy bucket of err.
// Context deadlines are treated as service unavailability.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrIndexState):
		return KindIndexState
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return KindServiceUnavailable
	default:
		return KindInternal
	}
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind ErrorKind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
