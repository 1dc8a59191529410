// Package committee implements the committee state provider and the
// local member identity. Committee views are dealt out-of-band; this
// package only loads, persists and serves them.
package committee

import (
	"errors"
	"fmt"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module"
	"github.com/umbra-net/umbra-go/storage"
)

// State serves the current committee view and pinned historical views.
type State struct {
	current *umbra.CommitteeView
	views   storage.CommitteeViews
}

var _ module.CommitteeState = (*State)(nil)

// NewState installs the given view as current and persists it, so
// epochs pinned to it can be validated after a restart.
func NewState(current *umbra.CommitteeView, views storage.CommitteeViews) (*State, error) {
	if current.Size() == 0 {
		return nil, fmt.Errorf("empty committee view")
	}
	if current.Threshold < 1 || current.Threshold > current.Size() {
		return nil, fmt.Errorf("invalid threshold %d for committee of %d", current.Threshold, current.Size())
	}
	err := views.Store(current)
	if err != nil {
		return nil, fmt.Errorf("could not persist committee view: %w", err)
	}
	return &State{current: current, views: views}, nil
}

func (s *State) Current() *umbra.CommitteeView {
	return s.current
}

func (s *State) ByID(viewID umbra.Identifier) (*umbra.CommitteeView, error) {
	if s.current.ID() == viewID {
		return s.current, nil
	}
	view, err := s.views.ByID(viewID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("could not load committee view: %w", err)
	}
	return view, nil
}
