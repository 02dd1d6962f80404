package httperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError reports missing or malformed caller input.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

// BadRequestError is a malformed request that is not a field-level problem
// (bad JSON, absent webhook payment id, missing external reference).
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string { return e.Reason }

// NotFoundError means a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// UpstreamPaymentError carries the processor's full diagnostic payload. It is
// surfaced to the caller rather than retried; webhook redelivery is the
// processor's responsibility.
type UpstreamPaymentError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *UpstreamPaymentError) Error() string {
	return fmt.Sprintf("payment processor error (status %d): %s", e.StatusCode, e.Message)
}

// PersistenceError wraps a failed local data-layer write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConflictError signals a write rejected by an invariant, for example a
// payout that would cover an already settled task.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// Status maps an error to its HTTP status code.
func Status(err error) int {
	var (
		ve *ValidationError
		br *BadRequestError
		nf *NotFoundError
		up *UpstreamPaymentError
		pe *PersistenceError
		ce *ConflictError
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &br):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &ce):
		return http.StatusConflict
	case errors.As(err, &up), errors.As(err, &pe):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Details returns supplemental diagnostics for the JSON error envelope, or
// nil when the error carries none.
func Details(err error) any {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return map[string]any{"missing_fields": ve.Fields}
	}
	var up *UpstreamPaymentError
	if errors.As(err, &up) {
		return map[string]any{"upstream_status": up.StatusCode, "upstream_body": up.Body}
	}
	return nil
}
