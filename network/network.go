package network

import (
	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module/component"
	"github.com/umbra-net/umbra-go/network/channels"
)

// Network represents the network layer of a committee member. It allows
// engines to register themselves on a channel. The returned conduit lets
// the engine communicate with the engines registered on the same channel
// on other members, in a transport-agnostic way.
type Network interface {
	component.Component

	// Register subscribes the given message processor to the channel.
	// The processor will be notified with incoming messages on the
	// channel. On a single member, only one processor can be subscribed
	// to a channel at any given time.
	Register(channel channels.Channel, processor MessageProcessor) (Conduit, error)
}

// Conduit is the scoped sending interface an engine obtains when it
// registers on a channel. All sends are addressed to the engines
// subscribed to the same channel on the target members.
type Conduit interface {

	// Publish sends the event to all members subscribed to the conduit's
	// channel, or to the given subset when target IDs are provided.
	// Delivery is best effort.
	Publish(event interface{}, targetIDs ...umbra.Identifier) error

	// Unicast sends the event reliably to the single target member.
	Unicast(event interface{}, targetID umbra.Identifier) error

	// Multicast sends the event to num members selected from the given
	// targets. Delivery is best effort.
	Multicast(event interface{}, num uint, targetIDs ...umbra.Identifier) error

	// Close unsubscribes from the channel. After calling close the
	// conduit can no longer send, and the engine stops receiving.
	Close() error
}

// MessageProcessor represents a component that receives messages from
// the network layer.
type MessageProcessor interface {
	// Process is called for each incoming message. Implementations must
	// be non-blocking: queue the message and signal a worker instead of
	// processing inline. Errors returned from Process are fatal to the
	// delivering member.
	Process(channel channels.Channel, originID umbra.Identifier, event interface{}) error
}
