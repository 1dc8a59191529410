// Package intranet provides an in-process implementation of the network
// layer. All committee members run inside one process and exchange
// messages through a shared hub. Events still round-trip through the
// wire codec, so recipients never share memory with the sender.
package intranet

import (
	"fmt"
	"math/rand"
	"reflect"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/umbra-net/umbra-go/model/encoding"
	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module/component"
	"github.com/umbra-net/umbra-go/module/irrecoverable"
	"github.com/umbra-net/umbra-go/network"
	"github.com/umbra-net/umbra-go/network/channels"
)

// Network implements network.Network for one member attached to a hub.
type Network struct {
	component.Component

	hub    *Hub
	nodeID umbra.Identifier

	mu         sync.RWMutex
	processors map[channels.Channel]network.MessageProcessor
}

var _ network.Network = (*Network)(nil)

func newNetwork(hub *Hub, nodeID umbra.Identifier) *Network {
	n := &Network{
		hub:        hub,
		nodeID:     nodeID,
		processors: make(map[channels.Channel]network.MessageProcessor),
	}
	n.Component = component.NewComponentManagerBuilder().
		AddWorker(func(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
			ready()
			<-ctx.Done()
		}).
		Build()
	return n
}

// NodeID returns the identifier of the member this network belongs to.
func (n *Network) NodeID() umbra.Identifier {
	return n.nodeID
}

// Register subscribes the processor to the channel and returns the
// conduit for sending on it.
func (n *Network) Register(channel channels.Channel, processor network.MessageProcessor) (network.Conduit, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.processors[channel]; ok {
		return nil, fmt.Errorf("channel already registered: %s", channel)
	}
	n.processors[channel] = processor

	return &conduit{net: n, channel: channel}, nil
}

// unregister removes the processor subscribed to the channel.
func (n *Network) unregister(channel channels.Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.processors, channel)
}

// processor returns the processor subscribed to the channel, if any.
func (n *Network) processor(channel channels.Channel) (network.MessageProcessor, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.processors[channel]
	return p, ok
}

// deliver decodes a fresh copy of the encoded event and hands it to the
// processor subscribed to the channel. Members without a subscription
// silently drop the event.
func (n *Network) deliver(channel channels.Channel, originID umbra.Identifier, eventType reflect.Type, payload []byte) error {
	proc, ok := n.processor(channel)
	if !ok {
		return nil
	}

	event := reflect.New(eventType).Interface()
	err := encoding.DefaultEncoder.Decode(payload, event)
	if err != nil {
		return fmt.Errorf("could not decode event on channel %s: %w", channel, err)
	}

	err = proc.Process(channel, originID, event)
	if err != nil {
		return fmt.Errorf("member %x failed to process event on channel %s: %w", n.nodeID, channel, err)
	}
	return nil
}

// conduit sends on one channel on behalf of one member. A conduit
// becomes inert after Close.
type conduit struct {
	net     *Network
	channel channels.Channel

	mu     sync.Mutex
	closed bool
}

var _ network.Conduit = (*conduit)(nil)

func (c *conduit) Publish(event interface{}, targetIDs ...umbra.Identifier) error {
	targets := targetIDs
	if len(targets) == 0 {
		targets = c.net.hub.memberIDs()
	}
	return c.send(event, targets, false)
}

func (c *conduit) Unicast(event interface{}, targetID umbra.Identifier) error {
	return c.send(event, umbra.IdentifierList{targetID}, true)
}

func (c *conduit) Multicast(event interface{}, num uint, targetIDs ...umbra.Identifier) error {
	if len(targetIDs) == 0 {
		return network.EmptyTargetList
	}
	targets := make(umbra.IdentifierList, len(targetIDs))
	copy(targets, targetIDs)
	rand.Shuffle(len(targets), func(i, j int) {
		targets[i], targets[j] = targets[j], targets[i]
	})
	if uint(len(targets)) > num {
		targets = targets[:num]
	}
	return c.send(event, targets, false)
}

func (c *conduit) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("conduit for channel %s already closed", c.channel)
	}
	c.closed = true
	c.net.unregister(c.channel)
	return nil
}

// send encodes the event once and delivers it to every target except
// the sender itself. With strict set, an unknown or unsubscribed target
// is an error; otherwise delivery is best effort.
func (c *conduit) send(event interface{}, targets umbra.IdentifierList, strict bool) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("conduit for channel %s already closed", c.channel)
	}

	eventType := reflect.TypeOf(event)
	if eventType == nil || eventType.Kind() != reflect.Ptr {
		return fmt.Errorf("event must be a pointer, got %T", event)
	}
	payload, err := encoding.DefaultEncoder.Encode(event)
	if err != nil {
		return fmt.Errorf("could not encode event: %w", err)
	}

	var g errgroup.Group
	for _, targetID := range targets {
		if targetID == c.net.nodeID {
			continue
		}
		target, ok := c.net.hub.getNetwork(targetID)
		if !ok {
			if strict {
				return network.NewUnknownMemberError(targetID)
			}
			continue
		}
		if strict {
			if _, ok := target.processor(c.channel); !ok {
				return fmt.Errorf("member %x has no subscription on channel %s", targetID, c.channel)
			}
		}

		g.Go(func() error {
			return target.deliver(c.channel, c.net.nodeID, eventType.Elem(), payload)
		})
	}
	return g.Wait()
}
