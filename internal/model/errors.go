package model

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation. Only KindTransient is retried.
type Kind string

const (
	KindNotFound     Kind = "NOT_FOUND"
	KindConflict     Kind = "CONFLICT"
	KindInvalidState Kind = "INVALID_STATE"
	KindValidation   Kind = "VALIDATION"
	KindTransient    Kind = "TRANSIENT"
)

// Error carries a stable machine-readable Code next to the human message.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches kind sentinels: errors.Is(err, model.ErrNotFound) holds for any
// NotFound error regardless of its code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Kind sentinels.
var (
	ErrNotFound     = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrConflict     = &Error{Kind: KindConflict, Msg: "conflict"}
	ErrInvalidState = &Error{Kind: KindInvalidState, Msg: "invalid state"}
	ErrValidation   = &Error{Kind: KindValidation, Msg: "validation failed"}
	ErrTransient    = &Error{Kind: KindTransient, Msg: "temporarily unavailable"}
)

// Stable error codes.
const (
	CodeJobNotFound        = "JOB_NOT_FOUND"
	CodeCandidateNotFound  = "CANDIDATE_NOT_FOUND"
	CodeProviderNotFound   = "PROVIDER_NOT_FOUND"
	CodeAssignmentNotFound = "ASSIGNMENT_NOT_FOUND"
	CodeBookingNotFound    = "BOOKING_NOT_FOUND"
	CodeSlotNotAvailable   = "SLOT_NOT_AVAILABLE"
	CodeDuplicateOffer     = "DUPLICATE_OFFER"
	CodeJobCancelled       = "JOB_CANCELLED"
	CodeJobAlreadyAssigned = "JOB_ALREADY_ASSIGNED"
	CodeProviderInactive   = "PROVIDER_INACTIVE"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeOfferExpired       = "OFFER_EXPIRED"
	CodeOfferNotExpired    = "OFFER_NOT_EXPIRED"
	CodeRoundMismatch      = "ROUND_MISMATCH"
	CodeHoldExpired        = "HOLD_EXPIRED"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
)

func NotFound(code, msg string) error { return &Error{Kind: KindNotFound, Code: code, Msg: msg} }

func Conflict(code, msg string) error { return &Error{Kind: KindConflict, Code: code, Msg: msg} }

func InvalidState(code, msg string) error {
	return &Error{Kind: KindInvalidState, Code: code, Msg: msg}
}

func Validation(code, msg string) error { return &Error{Kind: KindValidation, Code: code, Msg: msg} }

// Transient wraps an infrastructure failure so the task runner retries it.
func Transient(code string, err error) error {
	return &Error{Kind: KindTransient, Code: code, Msg: "temporarily unavailable", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
