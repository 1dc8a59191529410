// Package relay defines the client interface to the downstream
// builder relay that accepts published transactions. Two lanes exist:
// ordered submissions released from decrypted epochs, and bypass
// submissions that skipped the encrypted pipeline entirely.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/umbra-net/umbra-go/model/umbra"
)

// SubmissionKind distinguishes the relay lane a payload travels on.
type SubmissionKind uint8

const (
	// KindOrdered is a payload released from a decrypted epoch; the
	// relay must respect the (EpochID, SeqIdx) order.
	KindOrdered SubmissionKind = iota + 1
	// KindBypass is a low-risk payload submitted directly, outside any
	// epoch.
	KindBypass
)

func (k SubmissionKind) String() string {
	switch k {
	case KindOrdered:
		return "ordered"
	case KindBypass:
		return "bypass"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Submission is one payload handed to the downstream relay.
type Submission struct {
	Kind    SubmissionKind
	EpochID uint64
	SeqIdx  uint32
	CID     umbra.Identifier
	Payload []byte
}

// Client submits payloads to the downstream relay.
type Client interface {
	// Submit delivers the payload downstream. A RejectedError means the
	// relay permanently refused the payload and retrying is pointless;
	// any other error is transient.
	Submit(ctx context.Context, sub *Submission) error
}

// RejectedError indicates the relay permanently refused a payload, for
// example because it is malformed or would revert.
type RejectedError struct {
	CID    umbra.Identifier
	Reason string
}

func (e RejectedError) Error() string {
	return fmt.Sprintf("relay rejected submission %x: %s", e.CID, e.Reason)
}

// NewRejectedError returns a new RejectedError.
func NewRejectedError(cid umbra.Identifier, reason string) RejectedError {
	return RejectedError{CID: cid, Reason: reason}
}

// IsRejectedError returns whether an error is RejectedError.
func IsRejectedError(err error) bool {
	var e RejectedError
	return errors.As(err, &e)
}
