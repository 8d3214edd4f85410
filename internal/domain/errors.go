package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyMessage       = errors.New("message cannot be empty")
	ErrStoreUnavailable   = errors.New("message store unavailable")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrDeliveryDegraded   = errors.New("subscriber delivery degraded")
	ErrMessageNotFound    = errors.New("message not found")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrInvalidRoom        = errors.New("invalid room id")
)

// ErrorKind is the stable classification of a submit failure.
type ErrorKind string

const (
	KindEmptyMessage     ErrorKind = "empty_message"
	KindInvalidRoom      ErrorKind = "invalid_room"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindStoreUnavailable ErrorKind = "store_unavailable"
)

var kindSentinels = map[ErrorKind]error{
	KindEmptyMessage:     ErrEmptyMessage,
	KindInvalidRoom:      ErrInvalidRoom,
	KindPermissionDenied: ErrPermissionDenied,
	KindStoreUnavailable: ErrStoreUnavailable,
}

// SubmitError is returned by the broker. errors.Is matches both the kind
// sentinel and the underlying cause.
type SubmitError struct {
	Kind ErrorKind
	Err  error
}

// NewSubmitError wraps cause under kind.
func NewSubmitError(kind ErrorKind, cause error) *SubmitError {
	return &SubmitError{Kind: kind, Err: cause}
}

func (e *SubmitError) Error() string {
	sentinel := kindSentinels[e.Kind]
	if e.Err == nil || errors.Is(e.Err, sentinel) {
		if e.Err != nil {
			return e.Err.Error()
		}
		return sentinel.Error()
	}
	return fmt.Sprintf("%s: %v", sentinel, e.Err)
}

func (e *SubmitError) Unwrap() []error {
	errs := []error{kindSentinels[e.Kind]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Retryable reports whether the caller may retry the submission.
func (e *SubmitError) Retryable() bool {
	return e.Kind == KindStoreUnavailable
}

// ClassifyStoreError maps a persistence error onto the submit taxonomy.
func ClassifyStoreError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return KindEmptyMessage
	case errors.Is(err, ErrInvalidRoom):
		return KindInvalidRoom
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	default:
		return KindStoreUnavailable
	}
}

// KindOf extracts the kind of a submit error, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var submitErr *SubmitError
	if errors.As(err, &submitErr) {
		return submitErr.Kind
	}
	return ""
}

// IsRetryable reports whether err is a transient infrastructure fault.
func IsRetryable(err error) bool {
	var submitErr *SubmitError
	if errors.As(err, &submitErr) {
		return submitErr.Retryable()
	}
	return errors.Is(err, ErrStoreUnavailable)
}
