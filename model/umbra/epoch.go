package umbra

import (
	"fmt"
	"time"
)

// EpochState is the lifecycle state of a batch epoch. States advance
// strictly forward; there is no legal transition into an earlier state.
type EpochState uint8

const (
	// EpochStateOpen accepts new commitments.
	EpochStateOpen EpochState = iota + 1
	// EpochStateSealed has a frozen membership awaiting an ordering
	// certificate.
	EpochStateSealed
	// EpochStateOrdered holds a final ordering certificate and awaits
	// decryption.
	EpochStateOrdered
	// EpochStateDecrypted has plaintexts recovered and awaits dispatch.
	EpochStateDecrypted
	// EpochStatePublished is terminal: dispatch ran to completion.
	EpochStatePublished
	// EpochStateExpired is terminal: a stage timer lapsed before the
	// epoch could complete.
	EpochStateExpired
)

func (s EpochState) String() string {
	switch s {
	case EpochStateOpen:
		return "OPEN"
	case EpochStateSealed:
		return "SEALED"
	case EpochStateOrdered:
		return "ORDERED"
	case EpochStateDecrypted:
		return "DECRYPTED"
	case EpochStatePublished:
		return "PUBLISHED"
	case EpochStateExpired:
		return "EXPIRED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// Terminal reports whether the state admits no further transitions.
func (s EpochState) Terminal() bool {
	return s == EpochStatePublished || s == EpochStateExpired
}

// AllowedTransition reports whether moving from one epoch state to
// another is legal. Every state change in the pipeline goes through
// this check; an illegal transition is an irrecoverable fault, not a
// recoverable error.
func AllowedTransition(from, to EpochState) bool {
	switch from {
	case EpochStateOpen:
		return to == EpochStateSealed
	case EpochStateSealed:
		return to == EpochStateOrdered || to == EpochStateExpired
	case EpochStateOrdered:
		return to == EpochStateDecrypted || to == EpochStateExpired
	case EpochStateDecrypted:
		return to == EpochStatePublished || to == EpochStateExpired
	default:
		return false
	}
}

// Epoch is the immutable header of a batch epoch. The mutable lifecycle
// state is tracked separately so the header can be freely shared.
type Epoch struct {
	// ID is the monotonic epoch counter.
	ID uint64
	// StartTS and EndTS bound the commitment window.
	StartTS time.Time
	EndTS   time.Time
	// MaxBatch seals the epoch early once this many commitments are
	// admitted. Zero means no batch limit.
	MaxBatch uint
	// ViewID identifies the committee view the epoch runs under.
	ViewID Identifier
}

// WithinWindow reports whether ts falls inside the epoch's commitment
// window. Arrival timestamps recorded for ordering must satisfy this.
func (e *Epoch) WithinWindow(ts time.Time) bool {
	return !ts.Before(e.StartTS) && ts.Before(e.EndTS)
}

// EpochStatus is the persisted, mutable lifecycle record of an epoch.
type EpochStatus struct {
	EpochID uint64
	State   EpochState
	// EnteredAt is when the current state was entered.
	EnteredAt time.Time
	// SealedCount is the size of the frozen commitment set, valid from
	// SEALED onward.
	SealedCount uint
}
