package ordering

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/umbra-net/umbra-go/engine"
	"github.com/umbra-net/umbra-go/engine/common/fifoqueue"
	"github.com/umbra-net/umbra-go/model/messages"
	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module"
	"github.com/umbra-net/umbra-go/module/component"
	"github.com/umbra-net/umbra-go/module/irrecoverable"
	"github.com/umbra-net/umbra-go/module/metrics"
	"github.com/umbra-net/umbra-go/network"
	"github.com/umbra-net/umbra-go/network/channels"
)

const (
	defaultMessageQueueCapacity  = 1024
	defaultInternalQueueCapacity = 16
)

// epochSealed tells the worker a local epoch sealed.
type epochSealed struct {
	epoch  *umbra.Epoch
	sealed []*umbra.Commitment
}

// epochAbandoned tells the worker an epoch expired during agreement.
type epochAbandoned struct {
	epochID uint64
}

// Engine wraps ordering.Core: it queues inbound network messages and
// node-internal epoch events, and runs the single worker that feeds
// them to the core in order.
type Engine struct {
	component.Component

	log           zerolog.Logger
	engMetrics    module.EngineMetrics
	me            module.Local
	core          *Core
	handler       *engine.MessageHandler
	messageStore  *engine.FifoMessageStore
	internalStore *engine.FifoMessageStore
}

var _ network.MessageProcessor = (*Engine)(nil)

// New creates the ordering engine and registers it on the ordering
// channel.
func New(
	log zerolog.Logger,
	net network.Network,
	me module.Local,
	engMetrics module.EngineMetrics,
	mempoolMetrics module.MempoolMetrics,
	core *Core,
) (*Engine, error) {

	messageQueue, err := fifoqueue.NewFifoQueue(
		defaultMessageQueueCapacity,
		fifoqueue.WithLengthObserver(func(length int) {
			mempoolMetrics.MempoolEntries(metrics.ResourceOrderingQueue, uint(length))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create inbound message queue: %w", err)
	}
	messageStore := &engine.FifoMessageStore{FifoQueue: messageQueue}

	internalQueue, err := fifoqueue.NewFifoQueue(defaultInternalQueueCapacity)
	if err != nil {
		return nil, fmt.Errorf("could not create internal event queue: %w", err)
	}
	internalStore := &engine.FifoMessageStore{FifoQueue: internalQueue}

	handler := engine.NewMessageHandler(
		log,
		engine.Pattern{
			Match: func(msg *engine.Message) bool {
				_, ok := msg.Payload.(*epochSealed)
				return ok
			},
			Store: internalStore,
		},
		engine.Pattern{
			Match: func(msg *engine.Message) bool {
				_, ok := msg.Payload.(*epochAbandoned)
				return ok
			},
			Store: internalStore,
		},
		engine.Pattern{
			Match: func(msg *engine.Message) bool {
				_, ok := msg.Payload.(*messages.ArrivalVector)
				return ok
			},
			BeforeStore: []engine.OnMessageFunc{func(*engine.Message) {
				engMetrics.MessageReceived(metrics.EngineOrdering, metrics.MessageArrivalVector)
			}},
			Store: messageStore,
		},
		engine.Pattern{
			Match: func(msg *engine.Message) bool {
				_, ok := msg.Payload.(*messages.OrderingProposal)
				return ok
			},
			BeforeStore: []engine.OnMessageFunc{func(*engine.Message) {
				engMetrics.MessageReceived(metrics.EngineOrdering, metrics.MessageOrderingProposal)
			}},
			Store: messageStore,
		},
		engine.Pattern{
			Match: func(msg *engine.Message) bool {
				_, ok := msg.Payload.(*messages.CertificateAnnounce)
				return ok
			},
			BeforeStore: []engine.OnMessageFunc{func(*engine.Message) {
				engMetrics.MessageReceived(metrics.EngineOrdering, metrics.MessageCertificateAnnounce)
			}},
			Store: messageStore,
		},
	)

	e := &Engine{
		log:           log.With().Str("engine", "ordering").Logger(),
		engMetrics:    engMetrics,
		me:            me,
		core:          core,
		handler:       handler,
		messageStore:  messageStore,
		internalStore: internalStore,
	}

	con, err := net.Register(channels.EpochOrdering, e)
	if err != nil {
		return nil, fmt.Errorf("could not register on ordering channel: %w", err)
	}
	core.SetConduit(con)

	e.Component = component.NewComponentManagerBuilder().
		AddWorker(e.processMessagesLoop).
		Build()

	return e, nil
}

// StartOrdering hands a freshly sealed epoch to the worker. The sealed
// commitments must be in local arrival order.
func (e *Engine) StartOrdering(epoch *umbra.Epoch, sealed []*umbra.Commitment) {
	_ = e.handler.Process(e.me.NodeID(), &epochSealed{epoch: epoch, sealed: sealed})
}

// Abandon tells the worker to drop all agreement state for the epoch.
func (e *Engine) Abandon(epochID uint64) {
	_ = e.handler.Process(e.me.NodeID(), &epochAbandoned{epochID: epochID})
}

// Process implements network.MessageProcessor: it enqueues the message
// and returns without blocking.
func (e *Engine) Process(channel channels.Channel, originID umbra.Identifier, event interface{}) error {
	return e.handler.Process(originID, event)
}

func (e *Engine) processMessagesLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()

	doneSignal := ctx.Done()
	newMessageSignal := e.handler.GetNotifier()
	for {
		select {
		case <-doneSignal:
			return
		case <-newMessageSignal:
			err := e.processAvailableMessages()
			if err != nil {
				ctx.Throw(err)
			}
		}
	}
}

// processAvailableMessages drains both queues, node-internal epoch
// events first. Only returns when all queues are empty.
// No errors are expected during normal operation.
func (e *Engine) processAvailableMessages() error {
	for {
		msg, ok := e.internalStore.Get()
		if ok {
			var err error
			switch ev := msg.Payload.(type) {
			case *epochSealed:
				err = e.core.OnEpochSealed(ev.epoch, ev.sealed)
			case *epochAbandoned:
				e.core.AbandonEpoch(ev.epochID)
			}
			if err != nil {
				return fmt.Errorf("could not process epoch event: %w", err)
			}
			continue
		}

		msg, ok = e.messageStore.Get()
		if ok {
			var err error
			switch ev := msg.Payload.(type) {
			case *messages.ArrivalVector:
				err = e.core.OnArrivalVector(msg.OriginID, ev)
			case *messages.OrderingProposal:
				err = e.core.OnOrderingProposal(msg.OriginID, ev)
			case *messages.CertificateAnnounce:
				err = e.core.OnCertificateAnnounce(msg.OriginID, ev)
			}
			if err != nil {
				return fmt.Errorf("could not process ordering message: %w", err)
			}
			continue
		}

		return nil
	}
}
