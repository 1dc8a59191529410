package admission

import (
	"errors"
	"fmt"
)

var (
	// ErrEpochClosed indicates the current epoch stopped accepting
	// commitments between snapshot and admission.
	ErrEpochClosed = errors.New("epoch closed to new commitments")

	// ErrExpired indicates the intent's deadline already passed.
	ErrExpired = errors.New("intent deadline expired")

	// ErrUnknownCID indicates no commitment with the given identifier
	// was ever admitted here.
	ErrUnknownCID = errors.New("unknown commitment identifier")

	// ErrCancelUnauthorized indicates a cancellation that either does
	// not verify under the committed sender key or arrived after the
	// epoch sealed.
	ErrCancelUnauthorized = errors.New("cancellation unauthorized")

	// ErrRateLimited indicates the submission was shed by the admission
	// rate limiter.
	ErrRateLimited = errors.New("submission rate limited")
)

// RejectedError indicates the classifier refused the intent outright.
type RejectedError struct {
	RiskScore float64
	Reason    string
}

func (e RejectedError) Error() string {
	return fmt.Sprintf("intent rejected (risk %.2f): %s", e.RiskScore, e.Reason)
}

// IsRejectedError returns whether an error is RejectedError.
func IsRejectedError(err error) bool {
	var e RejectedError
	return errors.As(err, &e)
}
