package decryption

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
	defaultMessageQueueCapacity  = 4096
	defaultInternalQueueCapacity = 1024
)

// epochCertified tells the worker a local epoch holds a final
// certificate.
type epochCertified struct {
	epoch  *umbra.Epoch
	cert   *umbra.OrderingCertificate
	sealed []*umbra.Commitment
}

// epochAbandoned tells the worker an epoch expired during decryption.
type epochAbandoned struct {
	epochID uint64
}

// Engine wraps decryption.Core: it queues inbound share messages,
// node-internal epoch events and worker-pool combine results, and runs
// the single worker that feeds them to the core in order.
type Engine struct {
	component.Component

	log           zerolog.Logger
	me            module.Local
	core          *Core
	handler       *engine.MessageHandler
	messageStore  *engine.FifoMessageStore
	internalStore *engine.FifoMessageStore
}

var _ network.MessageProcessor = (*Engine)(nil)

// New creates the decryption engine and registers it on the decryption
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
			mempoolMetrics.MempoolEntries(metrics.ResourceDecryptionQueue, uint(length))
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
				_, ok := msg.Payload.(*epochCertified)
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
				_, ok := msg.Payload.(*combineResult)
				return ok
			},
			Store: internalStore,
		},
		engine.Pattern{
			Match: func(msg *engine.Message) bool {
				_, ok := msg.Payload.(*messages.DecryptionShareMsg)
				return ok
			},
			BeforeStore: []engine.OnMessageFunc{func(*engine.Message) {
				engMetrics.MessageReceived(metrics.EngineDecryption, metrics.MessageDecryptionShare)
			}},
			Store: messageStore,
		},
	)

	e := &Engine{
		log:           log.With().Str("engine", "decryption").Logger(),
		me:            me,
		core:          core,
		handler:       handler,
		messageStore:  messageStore,
		internalStore: internalStore,
	}

	con, err := net.Register(channels.EpochDecryption, e)
	if err != nil {
		return nil, fmt.Errorf("could not register on decryption channel: %w", err)
	}
	core.SetConduit(con)
	core.resultSink = func(res *combineResult) {
		_ = e.handler.Process(e.me.NodeID(), res)
	}

	e.Component = component.NewComponentManagerBuilder().
		AddWorker(e.processMessagesLoop).
		Build()

	return e, nil
}

// StartDecryption hands a certified epoch to the worker. The sealed
// commitments must be the epoch's frozen set.
func (e *Engine) StartDecryption(epoch *umbra.Epoch, cert *umbra.OrderingCertificate, sealed []*umbra.Commitment) {
	_ = e.handler.Process(e.me.NodeID(), &epochCertified{epoch: epoch, cert: cert, sealed: sealed})
}

// Abandon tells the worker to drop all decryption state for the epoch.
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
	defer e.core.Shutdown()

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

// processAvailableMessages drains both queues, node-internal events
// first. Only returns when all queues are empty.
// No errors are expected during normal operation.
func (e *Engine) processAvailableMessages() error {
	for {
		msg, ok := e.internalStore.Get()
		if ok {
			var err error
			switch ev := msg.Payload.(type) {
			case *epochCertified:
				err = e.core.OnEpochCertified(ev.epoch, ev.cert, ev.sealed)
			case *epochAbandoned:
				e.core.AbandonEpoch(ev.epochID)
			case *combineResult:
				err = e.core.OnCombineResult(ev)
			}
			if err != nil {
				return fmt.Errorf("could not process epoch event: %w", err)
			}
			continue
		}

		msg, ok = e.messageStore.Get()
		if ok {
			share, valid := msg.Payload.(*messages.DecryptionShareMsg)
			if !valid {
				continue
			}
			err := e.core.OnDecryptionShare(msg.OriginID, share)
			if err != nil {
				return fmt.Errorf("could not process decryption share: %w", err)
			}
			continue
		}

		return nil
	}
}
