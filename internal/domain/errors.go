package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the tender/support domain. Services return these
// (possibly wrapped), the bot maps them to user-facing alerts and the HTTP
// layer to status codes. None of them is retried automatically, a retry is
// the human re-issuing the action.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")

	ErrAlreadyRegistered = errors.New("user already registered")
	ErrAlreadyApplied    = errors.New("already applied to this tender")
	ErrAlreadyReviewed   = errors.New("application already reviewed")
	ErrAlreadyPublished  = errors.New("tender already published")

	ErrNotEligible       = errors.New("user is not an eligible executor")
	ErrTenderNotOpen     = errors.New("tender is not open")
	ErrDeadlinePassed    = errors.New("application deadline passed")
	ErrInvalidTransition = errors.New("invalid tender status transition")
	ErrNoSelectedBid     = errors.New("tender has no selected application")

	ErrTicketClosed = errors.New("support ticket is closed")

	ErrRateLimited = errors.New("rate limited")
)

// InputError is an ErrInvalidInput whose message is the corrective text
// shown to the user as-is.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

func (e *InputError) Is(target error) bool { return target == ErrInvalidInput }

func Invalid(format string, args ...any) error {
	return &InputError{Msg: fmt.Sprintf(format, args...)}
}

// Code returns a stable machine-readable code for err, or "INTERNAL" for
// anything outside the domain set.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrAlreadyRegistered):
		return "ALREADY_REGISTERED"
	case errors.Is(err, ErrAlreadyApplied):
		return "ALREADY_APPLIED"
	case errors.Is(err, ErrAlreadyReviewed):
		return "ALREADY_REVIEWED"
	case errors.Is(err, ErrAlreadyPublished):
		return "ALREADY_PUBLISHED"
	case errors.Is(err, ErrNotEligible):
		return "NOT_ELIGIBLE"
	case errors.Is(err, ErrTenderNotOpen):
		return "TENDER_NOT_OPEN"
	case errors.Is(err, ErrDeadlinePassed):
		return "DEADLINE_PASSED"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrNoSelectedBid):
		return "NO_SELECTED_BID"
	case errors.Is(err, ErrTicketClosed):
		return "TICKET_CLOSED"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	default:
		return "INTERNAL"
	}
}
