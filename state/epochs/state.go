// Package epochs maintains the persisted lifecycle state of batch
// epochs. Every state change is validated against the legal transition
// set and written through to storage before it takes effect, so a
// restarted member resumes exactly where the previous run stopped.
package epochs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/storage"
)

// ErrAlreadyBootstrapped indicates the backing store already holds
// epoch state.
var ErrAlreadyBootstrapped = errors.New("epoch state already bootstrapped")

// InvalidTransitionError indicates an attempted state change outside
// the legal transition set. This is a symptom of a bug in the caller,
// never of bad external input.
type InvalidTransitionError struct {
	EpochID uint64
	From    umbra.EpochState
	To      umbra.EpochState
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid epoch %d transition: %s -> %s", e.EpochID, e.From, e.To)
}

// IsInvalidTransitionError returns whether an error is InvalidTransitionError.
func IsInvalidTransitionError(err error) bool {
	var e InvalidTransitionError
	return errors.As(err, &e)
}

// State is the write-through epoch lifecycle machine. All mutations are
// serialized; reads go straight to storage.
type State struct {
	mu     sync.Mutex
	epochs storage.Epochs
}

// NewState returns an epoch state machine backed by the given store.
func NewState(epochs storage.Epochs) *State {
	return &State{epochs: epochs}
}

// Bootstrap seeds the store with the genesis epoch in the OPEN state.
// Error returns:
//   - ErrAlreadyBootstrapped if the store already holds epoch state
func (s *State) Bootstrap(genesis *umbra.Epoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.epochs.Latest()
	if err == nil {
		return ErrAlreadyBootstrapped
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("could not check for existing state: %w", err)
	}

	return s.open(genesis)
}

// OpenEpoch persists the successor epoch in the OPEN state. The epoch
// counter must directly follow the latest opened epoch.
func (s *State) OpenEpoch(epoch *umbra.Epoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.epochs.Latest()
	if err != nil {
		return fmt.Errorf("could not get latest epoch: %w", err)
	}
	if epoch.ID != latest+1 {
		return fmt.Errorf("epoch counter must be contiguous: have latest %d, opening %d", latest, epoch.ID)
	}

	return s.open(epoch)
}

func (s *State) open(epoch *umbra.Epoch) error {
	err := s.epochs.StoreEpoch(epoch)
	if err != nil {
		return fmt.Errorf("could not store epoch %d header: %w", epoch.ID, err)
	}
	status := &umbra.EpochStatus{
		EpochID:   epoch.ID,
		State:     umbra.EpochStateOpen,
		EnteredAt: time.Now().UTC(),
	}
	err = s.epochs.StoreStatus(status)
	if err != nil {
		return fmt.Errorf("could not store epoch %d status: %w", epoch.ID, err)
	}
	err = s.epochs.SetLatest(epoch.ID)
	if err != nil {
		return fmt.Errorf("could not update latest epoch: %w", err)
	}
	return nil
}

// Seal freezes the epoch's commitment set, recording its size.
// Error returns:
//   - InvalidTransitionError if the epoch is not OPEN
//   - storage.ErrNotFound if the epoch is unknown
func (s *State) Seal(epochID uint64, sealedCount uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, err := s.epochs.Status(epochID)
	if err != nil {
		return fmt.Errorf("could not get epoch %d status: %w", epochID, err)
	}
	if status.State == umbra.EpochStateSealed {
		return nil
	}
	if !umbra.AllowedTransition(status.State, umbra.EpochStateSealed) {
		return InvalidTransitionError{EpochID: epochID, From: status.State, To: umbra.EpochStateSealed}
	}

	status.State = umbra.EpochStateSealed
	status.EnteredAt = time.Now().UTC()
	status.SealedCount = sealedCount
	return s.epochs.UpdateStatus(status)
}

// Advance moves the epoch to the given state. Re-applying the state an
// epoch is already in is a no-op, so crash recovery can replay
// transitions safely.
// Error returns:
//   - InvalidTransitionError if the change is outside the legal set
//   - storage.ErrNotFound if the epoch is unknown
func (s *State) Advance(epochID uint64, to umbra.EpochState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, err := s.epochs.Status(epochID)
	if err != nil {
		return fmt.Errorf("could not get epoch %d status: %w", epochID, err)
	}
	if status.State == to {
		return nil
	}
	if !umbra.AllowedTransition(status.State, to) {
		return InvalidTransitionError{EpochID: epochID, From: status.State, To: to}
	}

	status.State = to
	status.EnteredAt = time.Now().UTC()
	return s.epochs.UpdateStatus(status)
}

// Status returns the persisted lifecycle record of the epoch.
func (s *State) Status(epochID uint64) (*umbra.EpochStatus, error) {
	return s.epochs.Status(epochID)
}

// Epoch returns the immutable header of the epoch.
func (s *State) Epoch(epochID uint64) (*umbra.Epoch, error) {
	return s.epochs.ByID(epochID)
}

// Latest returns the highest epoch counter ever opened.
func (s *State) Latest() (uint64, error) {
	return s.epochs.Latest()
}

// Unfinished returns the IDs of all epochs that have not reached a
// terminal state, in ascending order. On restart the controller
// resumes each of these.
func (s *State) Unfinished() ([]uint64, error) {
	return s.epochs.NonTerminal()
}
