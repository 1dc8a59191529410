package network

import (
	"errors"
	"fmt"

	"github.com/umbra-net/umbra-go/model/umbra"
)

var (
	// EmptyTargetList indicates a send was attempted with an explicit
	// but empty list of targets.
	EmptyTargetList = errors.New("target list empty")
)

// UnknownMemberError indicates a send was addressed to a member that is
// not part of the network.
type UnknownMemberError struct {
	NodeID umbra.Identifier
}

func (e UnknownMemberError) Error() string {
	return fmt.Sprintf("target member unknown to network: %x", e.NodeID)
}

// NewUnknownMemberError returns a new UnknownMemberError.
func NewUnknownMemberError(nodeID umbra.Identifier) UnknownMemberError {
	return UnknownMemberError{NodeID: nodeID}
}

// IsUnknownMemberError returns whether an error is UnknownMemberError.
func IsUnknownMemberError(err error) bool {
	var e UnknownMemberError
	return errors.As(err, &e)
}
