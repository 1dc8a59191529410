// Package dispatch releases the plaintexts of decrypted epochs to the
// downstream relay, strictly in certificate order. The engine owns the
// sole downstream lane for ordered submissions: one worker drains one
// epoch batch at a time, and the controller releases batches in epoch
// order, so nothing from epoch N+1 ever reaches the relay before epoch
// N is terminal.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/umbra-net/umbra-go/engine"
	"github.com/umbra-net/umbra-go/engine/common/fifoqueue"
	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module"
	"github.com/umbra-net/umbra-go/module/component"
	"github.com/umbra-net/umbra-go/module/irrecoverable"
	"github.com/umbra-net/umbra-go/module/metrics"
	"github.com/umbra-net/umbra-go/network/relay"
	"github.com/umbra-net/umbra-go/storage"
)

const defaultQueueCapacity = 64

// retryBaseDelay is the first fibonacci backoff step between
// submission attempts.
const retryBaseDelay = 25 * time.Millisecond

// Item is one commitment's dispatch work: its position, its plaintext,
// or its poisoned mark.
type Item struct {
	CID     umbra.Identifier
	SeqIdx  uint
	Payload []byte
	// Deadline is the intent's wall-clock expiry; zero means none. An
	// item whose deadline lapsed is never submitted.
	Deadline time.Time
	Poisoned bool
}

// Consumer is notified exactly once per dispatched epoch. With drained
// set, every item was resolved (published, rejected or skipped) before
// the deadline; otherwise the deadline cut the batch short.
type Consumer interface {
	OnEpochDispatched(epochID uint64, drained bool)
}

// batch is one epoch's dispatch work.
type batch struct {
	epoch    *umbra.Epoch
	items    []*Item
	deadline time.Time
}

// Engine drains decrypted epoch batches to the relay.
type Engine struct {
	component.Component

	log         zerolog.Logger
	pipeline    module.PipelineMetrics
	client      relay.Client
	outcomes    storage.Outcomes
	consumer    Consumer
	retryBudget uint64

	queue    *fifoqueue.FifoQueue
	notifier engine.Notifier
}

// New creates the dispatch engine. retryBudget bounds the transient
// retries per submission.
func New(
	log zerolog.Logger,
	pipeline module.PipelineMetrics,
	mempoolMetrics module.MempoolMetrics,
	client relay.Client,
	outcomes storage.Outcomes,
	consumer Consumer,
	retryBudget uint64,
) (*Engine, error) {

	queue, err := fifoqueue.NewFifoQueue(
		defaultQueueCapacity,
		fifoqueue.WithLengthObserver(func(length int) {
			mempoolMetrics.MempoolEntries(metrics.ResourceDispatchQueue, uint(length))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create dispatch queue: %w", err)
	}

	e := &Engine{
		log:         log.With().Str("engine", "dispatch").Logger(),
		pipeline:    pipeline,
		client:      client,
		outcomes:    outcomes,
		consumer:    consumer,
		retryBudget: retryBudget,
		queue:       queue,
		notifier:    engine.NewNotifier(),
	}

	e.Component = component.NewComponentManagerBuilder().
		AddWorker(e.dispatchLoop).
		Build()

	return e, nil
}

// Dispatch enqueues a decrypted epoch batch. Items must be in
// certificate order. The deadline is the epoch's dispatch timer; items
// not resolved by then are recorded as expired.
func (e *Engine) Dispatch(epoch *umbra.Epoch, items []*Item, deadline time.Time) {
	pushed := e.queue.Push(&batch{epoch: epoch, items: items, deadline: deadline})
	if !pushed {
		// the queue outsizes any plausible number of in-flight epochs
		e.log.Error().Uint64("epoch", epoch.ID).Msg("dispatch queue full, dropping epoch batch")
		e.consumer.OnEpochDispatched(epoch.ID, false)
		return
	}
	e.notifier.Notify()
}

func (e *Engine) dispatchLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	ready()

	doneSignal := ctx.Done()
	wakeSignal := e.notifier.Channel()
	for {
		select {
		case <-doneSignal:
			return
		case <-wakeSignal:
			err := e.processQueuedBatches(ctx)
			if err != nil {
				ctx.Throw(err)
			}
		}
	}
}

// processQueuedBatches drains all queued epoch batches in FIFO order.
// No errors are expected during normal operation.
func (e *Engine) processQueuedBatches(ctx context.Context) error {
	for {
		event, ok := e.queue.Pop()
		if !ok {
			return nil
		}
		b := event.(*batch)
		err := e.dispatchBatch(ctx, b)
		if err != nil {
			return fmt.Errorf("could not dispatch epoch %d: %w", b.epoch.ID, err)
		}
	}
}

// dispatchBatch releases one epoch's items in order. A rejected item is
// reported and dispatch continues with the next; the batch stops early
// only when its deadline passes.
// No errors are expected during normal operation.
func (e *Engine) dispatchBatch(parent context.Context, b *batch) error {
	log := e.log.With().Uint64("epoch", b.epoch.ID).Logger()

	ctx, cancel := context.WithDeadline(parent, b.deadline)
	defer cancel()

	published := 0
	rejected := 0
	skipped := 0
	lapsed := 0
	for i, item := range b.items {
		if item.Poisoned {
			skipped++
			err := e.storeOutcome(b.epoch.ID, item, umbra.OutcomePoisoned, "")
			if err != nil {
				return err
			}
			continue
		}

		// the intent expired between seal and release; publishing it now
		// would violate its wall-clock bound
		if !item.Deadline.IsZero() && item.Deadline.Before(time.Now()) {
			lapsed++
			err := e.storeOutcome(b.epoch.ID, item, umbra.OutcomeExpired, "intent deadline lapsed")
			if err != nil {
				return err
			}
			continue
		}

		err := e.submit(ctx, b.epoch.ID, item)
		if err == nil {
			published++
			e.pipeline.RelaySubmission(relay.KindOrdered.String(), true)
			err = e.storeOutcome(b.epoch.ID, item, umbra.OutcomePublished, "")
			if err != nil {
				return err
			}
			continue
		}

		e.pipeline.RelaySubmission(relay.KindOrdered.String(), false)

		var rej relay.RejectedError
		if errors.As(err, &rej) {
			rejected++
			log.Info().
				Hex("cid", item.CID[:]).
				Str("reason", rej.Reason).
				Msg("downstream rejected payload, continuing with successors")
			err = e.storeOutcome(b.epoch.ID, item, umbra.OutcomeRejected, rej.Reason)
			if err != nil {
				return err
			}
			continue
		}

		// transient failure that outlived the retry budget or the
		// epoch deadline: everything unresolved expires
		log.Warn().
			Err(err).
			Hex("cid", item.CID[:]).
			Int("remaining", len(b.items)-i).
			Msg("dispatch deadline cut epoch batch short")
		for _, late := range b.items[i:] {
			err = e.storeOutcome(b.epoch.ID, late, umbra.OutcomeExpired, "dispatch deadline exceeded")
			if err != nil {
				return err
			}
		}
		e.consumer.OnEpochDispatched(b.epoch.ID, false)
		return nil
	}

	log.Info().
		Int("published", published).
		Int("rejected", rejected).
		Int("poisoned", skipped).
		Int("lapsed", lapsed).
		Msg("epoch batch dispatched")

	e.consumer.OnEpochDispatched(b.epoch.ID, true)
	return nil
}

// submit delivers one payload, retrying transient failures with
// fibonacci backoff within the retry budget and the batch deadline.
// Error returns:
//   - relay.RejectedError if the relay permanently refused the payload
//   - any other error when the budget or the deadline is exhausted
func (e *Engine) submit(ctx context.Context, epochID uint64, item *Item) error {
	sub := &relay.Submission{
		Kind:    relay.KindOrdered,
		EpochID: epochID,
		SeqIdx:  uint32(item.SeqIdx),
		CID:     item.CID,
		Payload: item.Payload,
	}

	backoff := retry.WithMaxRetries(e.retryBudget, retry.NewFibonacci(retryBaseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := e.client.Submit(ctx, sub)
		if err == nil || relay.IsRejectedError(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

func (e *Engine) storeOutcome(epochID uint64, item *Item, state umbra.OutcomeState, reason string) error {
	outcome := &umbra.CommitOutcome{
		EpochID:  epochID,
		CommitID: item.CID,
		SeqIdx:   item.SeqIdx,
		State:    state,
		Reason:   reason,
	}
	if state == umbra.OutcomePublished {
		outcome.PlaintextHash = umbra.MakeIDFromData(item.Payload)
	}
	err := e.outcomes.Store(outcome)
	if err != nil {
		return fmt.Errorf("could not store outcome for %x: %w", item.CID, err)
	}
	return nil
}
