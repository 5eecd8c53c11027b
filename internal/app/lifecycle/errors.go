package lifecycle

import (
	"errors"
	"fmt"
)

// Kind classifies a rejected command so the caller can react differently.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindAlreadyTaken  Kind = "already_taken"
	KindNotAuthorized Kind = "not_authorized"
	KindInvalidState  Kind = "invalid_state"
	KindNoSession     Kind = "no_session"
)

// Rejection is a guard violation. It is reported to the originating
// connection only and never changes state.
type Rejection struct {
	Kind   Kind
	Reason string
}

// Error returns the human-readable reason.
func (r *Rejection) Error() string {
	return r.Reason
}

var (
	ErrAlreadyAccepted   = &Rejection{Kind: KindAlreadyTaken, Reason: "job already accepted by another worker"}
	ErrNoLongerAvailable = &Rejection{Kind: KindAlreadyTaken, Reason: "job is no longer available"}
	ErrNoSession         = &Rejection{Kind: KindNoSession, Reason: "no active tracking session for this job"}
	ErrNotAuthorized     = &Rejection{Kind: KindNotAuthorized, Reason: "worker is not assigned to this job"}
	ErrJobNotFound       = &Rejection{Kind: KindNotFound, Reason: "job not found"}
	ErrWorkerNotFound    = &Rejection{Kind: KindNotFound, Reason: "worker not found"}
)

func reject(kind Kind, format string, args ...any) error {
	return &Rejection{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// AsRejection returns the Rejection in err's chain, if any.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// IsRejection reports whether err is a guard violation rather than a store failure.
func IsRejection(err error) bool {
	_, ok := AsRejection(err)
	return ok
}
