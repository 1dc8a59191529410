// Package epochmgr drives the epoch lifecycle. The engine is the
// single writer of epoch state transitions: it opens epochs, seals
// them on the wall clock or the batch limit, hands sealed sets to the
// ordering stage, certified epochs to the decryption stage, decrypted
// batches to the dispatcher, and expires any epoch whose stage timer
// lapses. All other components observe the current epoch through a
// read-mostly snapshot and signal the engine through events.
package epochmgr

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/umbra-net/umbra-go/engine"
	"github.com/umbra-net/umbra-go/engine/common/fifoqueue"
	"github.com/umbra-net/umbra-go/engine/decryption"
	"github.com/umbra-net/umbra-go/engine/dispatch"
	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module"
	"github.com/umbra-net/umbra-go/module/component"
	"github.com/umbra-net/umbra-go/module/irrecoverable"
	"github.com/umbra-net/umbra-go/module/mempool"
	"github.com/umbra-net/umbra-go/module/metrics"
	"github.com/umbra-net/umbra-go/state/epochs"
	"github.com/umbra-net/umbra-go/storage"
)

const defaultEventQueueCapacity = 256

// Config bounds the lifecycle timers of every epoch.
type Config struct {
	// EpochDuration is the length of the commitment window.
	EpochDuration time.Duration
	// MaxBatch seals an epoch early once this many commitments are
	// admitted. Zero disables the batch limit.
	MaxBatch uint
	// AgreeTimeout bounds the ordering agreement after seal.
	AgreeTimeout time.Duration
	// DecryptTimeout bounds share collection after the certificate.
	DecryptTimeout time.Duration
	// DispatchTimeout bounds downstream dispatch after decryption.
	DispatchTimeout time.Duration
}

// DefaultConfig returns the default lifecycle timers.
func DefaultConfig() Config {
	return Config{
		EpochDuration:   500 * time.Millisecond,
		MaxBatch:        256,
		AgreeTimeout:    2 * time.Second,
		DecryptTimeout:  2 * time.Second,
		DispatchTimeout: 5 * time.Second,
	}
}

// OrderingStage is the ordering engine surface the controller drives.
type OrderingStage interface {
	StartOrdering(epoch *umbra.Epoch, sealed []*umbra.Commitment)
	Abandon(epochID uint64)
}

// DecryptionStage is the decryption engine surface the controller
// drives.
type DecryptionStage interface {
	StartDecryption(epoch *umbra.Epoch, cert *umbra.OrderingCertificate, sealed []*umbra.Commitment)
	Abandon(epochID uint64)
}

// DispatchStage is the dispatch engine surface the controller drives.
type DispatchStage interface {
	Dispatch(epoch *umbra.Epoch, items []*dispatch.Item, deadline time.Time)
}

// stage names the pipeline phase an in-flight epoch is in.
type stage uint8

const (
	stageOrdering stage = iota + 1
	stageDecryption
	stageAwaitRelease
	stageDispatch
)

// track is the controller's in-memory record of one sealed, non-terminal
// epoch.
type track struct {
	epoch  *umbra.Epoch
	sealed []*umbra.Commitment
	stage  stage

	sealedAt    time.Time
	certifiedAt time.Time
	decryptedAt time.Time

	// timer is the live stage timer: agreement or decryption. The
	// dispatch deadline lives inside the dispatch engine.
	timer *time.Timer

	// items holds the decrypted batch while the epoch waits for its
	// predecessors to reach a terminal state.
	items []*dispatch.Item
}

func (t *track) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Engine is the epoch controller.
type Engine struct {
	component.Component

	log       zerolog.Logger
	pipeline  module.PipelineMetrics
	conf      Config
	state     *epochs.State
	ledger    mempool.CommitLedger
	commits   storage.Commitments
	certs     storage.Certificates
	outcomes  storage.Outcomes
	committee module.CommitteeState

	ordering OrderingStage
	decrypt  DecryptionStage
	dispatch DispatchStage

	current  *atomic.Pointer[umbra.Epoch]
	queue    *fifoqueue.FifoQueue
	notifier engine.Notifier

	// worker-owned state, never touched outside the event loop
	inflight map[uint64]*track
}

var _ module.EpochManager = (*Engine)(nil)

// New creates the epoch controller.
func New(
	log zerolog.Logger,
	pipeline module.PipelineMetrics,
	conf Config,
	state *epochs.State,
	ledger mempool.CommitLedger,
	commits storage.Commitments,
	certs storage.Certificates,
	outcomes storage.Outcomes,
	committee module.CommitteeState,
	ordering OrderingStage,
	decrypt DecryptionStage,
	dispatcher DispatchStage,
) (*Engine, error) {

	queue, err := fifoqueue.NewFifoQueue(defaultEventQueueCapacity)
	if err != nil {
		return nil, fmt.Errorf("could not create event queue: %w", err)
	}

	e := &Engine{
		log:       log.With().Str("engine", "epochmgr").Logger(),
		pipeline:  pipeline,
		conf:      conf,
		state:     state,
		ledger:    ledger,
		commits:   commits,
		certs:     certs,
		outcomes:  outcomes,
		committee: committee,
		ordering:  ordering,
		decrypt:   decrypt,
		dispatch:  dispatcher,
		current:   atomic.NewPointer[umbra.Epoch](nil),
		queue:     queue,
		notifier:  engine.NewNotifier(),
		inflight:  make(map[uint64]*track),
	}

	e.Component = component.NewComponentManagerBuilder().
		AddWorker(e.controlLoop).
		Build()

	return e, nil
}

// CurrentEpoch returns the snapshot of the epoch currently accepting
// commitments. Nil only before the controller is ready.
func (e *Engine) CurrentEpoch() *umbra.Epoch {
	return e.current.Load()
}

// CommitmentAdmitted signals partition growth; the controller seals
// early once the batch limit is reached.
func (e *Engine) CommitmentAdmitted(epochID uint64, size uint) {
	if e.conf.MaxBatch == 0 || size < e.conf.MaxBatch {
		return
	}
	e.submit(&batchFull{epochID: epochID})
}

// OnOrderingCertificate implements ordering.CertificateConsumer.
func (e *Engine) OnOrderingCertificate(cert *umbra.OrderingCertificate) {
	e.submit(&certified{cert: cert})
}

// OnEpochDecrypted implements decryption.Consumer.
func (e *Engine) OnEpochDecrypted(epoch *umbra.Epoch, results []*decryption.Result) {
	e.submit(&decrypted{epoch: epoch, results: results})
}

// OnEpochDispatched implements dispatch.Consumer.
func (e *Engine) OnEpochDispatched(epochID uint64, drained bool) {
	e.submit(&dispatched{epochID: epochID, drained: drained})
}

// events processed by the control loop
type (
	sealTick  struct{ epochID uint64 }
	batchFull struct{ epochID uint64 }
	certified struct{ cert *umbra.OrderingCertificate }
	decrypted struct {
		epoch   *umbra.Epoch
		results []*decryption.Result
	}
	dispatched struct {
		epochID uint64
		drained bool
	}
	stageTimeout struct {
		epochID uint64
		stage   stage
	}
)

func (e *Engine) submit(event interface{}) {
	if !e.queue.Push(event) {
		e.log.Error().Str("event", fmt.Sprintf("%T", event)).Msg("controller event queue full, dropping event")
		return
	}
	e.notifier.Notify()
}

func (e *Engine) controlLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	err := e.recoverUnfinished()
	if err != nil {
		ctx.Throw(fmt.Errorf("could not recover epoch state: %w", err))
		return
	}
	err = e.openNextEpoch()
	if err != nil {
		ctx.Throw(fmt.Errorf("could not open initial epoch: %w", err))
		return
	}
	ready()

	doneSignal := ctx.Done()
	wakeSignal := e.notifier.Channel()
	for {
		select {
		case <-doneSignal:
			return
		case <-wakeSignal:
			err := e.processAvailableEvents()
			if err != nil {
				// state transitions and certificate persistence are
				// safety-critical; a failure here must halt the node
				ctx.Throw(err)
			}
		}
	}
}

// No errors are expected during normal operation.
func (e *Engine) processAvailableEvents() error {
	for {
		event, ok := e.queue.Pop()
		if !ok {
			return nil
		}
		var err error
		switch ev := event.(type) {
		case *sealTick:
			err = e.onSealTrigger(ev.epochID)
		case *batchFull:
			err = e.onSealTrigger(ev.epochID)
		case *certified:
			err = e.onCertified(ev.cert)
		case *decrypted:
			err = e.onDecrypted(ev.epoch, ev.results)
		case *dispatched:
			err = e.onDispatched(ev.epochID, ev.drained)
		case *stageTimeout:
			err = e.onStageTimeout(ev.epochID, ev.stage)
		}
		if err != nil {
			return err
		}
	}
}

// onSealTrigger seals the current epoch and atomically opens its
// successor. Triggered by the epoch clock or the batch limit; the two
// can race, so a stale trigger for an already-sealed epoch is a no-op.
// No errors are expected during normal operation.
func (e *Engine) onSealTrigger(epochID uint64) error {
	current := e.current.Load()
	if current == nil || current.ID != epochID {
		return nil
	}

	sealed, err := e.ledger.Seal(epochID)
	if errors.Is(err, mempool.ErrEpochSealed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not seal ledger partition %d: %w", epochID, err)
	}

	// a commitment whose intent deadline already passed can no longer be
	// published in time; it is dropped here, at the first stage that
	// inspects the sealed set, and its sender sees an expired outcome
	live, lapsed := splitLapsed(sealed, time.Now().UTC())
	for _, commit := range lapsed {
		outcome := &umbra.CommitOutcome{
			EpochID:  epochID,
			CommitID: commit.ID(),
			State:    umbra.OutcomeExpired,
			Reason:   "intent deadline lapsed",
		}
		err = e.outcomes.Store(outcome)
		if err != nil {
			return fmt.Errorf("could not store lapsed outcome: %w", err)
		}
	}

	err = e.state.Seal(epochID, uint(len(live)))
	if err != nil {
		return fmt.Errorf("could not seal epoch %d: %w", epochID, err)
	}
	err = e.commits.StoreSealedSet(epochID, live)
	if err != nil {
		return fmt.Errorf("could not persist sealed set of epoch %d: %w", epochID, err)
	}

	t := &track{
		epoch:    current,
		sealed:   live,
		stage:    stageOrdering,
		sealedAt: time.Now(),
	}
	e.inflight[epochID] = t

	e.pipeline.EpochSealed(epochID, uint(len(live)))
	e.log.Info().
		Uint64("epoch", epochID).
		Int("batch_size", len(live)).
		Int("lapsed", len(lapsed)).
		Msg("epoch sealed")

	err = e.openNextEpoch()
	if err != nil {
		return err
	}

	e.ordering.StartOrdering(current, live)
	t.timer = e.stageTimer(epochID, stageOrdering, e.conf.AgreeTimeout)
	return nil
}

// splitLapsed partitions a sealed set into commitments still worth
// ordering and those whose intent deadline has already passed.
func splitLapsed(sealed []*umbra.Commitment, now time.Time) (live, lapsed []*umbra.Commitment) {
	for _, commit := range sealed {
		if !commit.Deadline.IsZero() && commit.Deadline.Before(now) {
			lapsed = append(lapsed, commit)
			continue
		}
		live = append(live, commit)
	}
	return live, lapsed
}

// onCertified moves a sealed epoch to ORDERED and starts decryption.
// No errors are expected during normal operation.
func (e *Engine) onCertified(cert *umbra.OrderingCertificate) error {
	t, ok := e.inflight[cert.EpochID]
	if !ok || t.stage != stageOrdering {
		// certificate for an epoch that already expired locally
		e.log.Debug().Uint64("epoch", cert.EpochID).Msg("ignoring certificate for inactive epoch")
		return nil
	}
	t.stopTimer()

	err := e.state.Advance(cert.EpochID, umbra.EpochStateOrdered)
	if err != nil {
		return fmt.Errorf("could not advance epoch %d to ORDERED: %w", cert.EpochID, err)
	}

	t.stage = stageDecryption
	t.certifiedAt = time.Now()
	e.pipeline.EpochCertified(cert.EpochID, t.certifiedAt.Sub(t.sealedAt))

	e.decrypt.StartDecryption(t.epoch, cert, t.sealed)
	t.timer = e.stageTimer(cert.EpochID, stageDecryption, e.conf.DecryptTimeout)
	return nil
}

// onDecrypted moves an ordered epoch to DECRYPTED. The decrypted batch
// is released to the dispatcher once every older epoch is terminal, so
// publication order across epochs follows the epoch sequence.
// No errors are expected during normal operation.
func (e *Engine) onDecrypted(epoch *umbra.Epoch, results []*decryption.Result) error {
	t, ok := e.inflight[epoch.ID]
	if !ok || t.stage != stageDecryption {
		e.log.Debug().Uint64("epoch", epoch.ID).Msg("ignoring decryption result for inactive epoch")
		return nil
	}
	t.stopTimer()

	err := e.state.Advance(epoch.ID, umbra.EpochStateDecrypted)
	if err != nil {
		return fmt.Errorf("could not advance epoch %d to DECRYPTED: %w", epoch.ID, err)
	}

	deadlines := make(map[umbra.Identifier]time.Time, len(t.sealed))
	for _, commit := range t.sealed {
		deadlines[commit.ID()] = commit.Deadline
	}
	items := make([]*dispatch.Item, 0, len(results))
	for _, res := range results {
		items = append(items, &dispatch.Item{
			CID:      res.CID,
			SeqIdx:   res.SeqIdx,
			Payload:  res.Plaintext,
			Deadline: deadlines[res.CID],
			Poisoned: res.Poisoned,
		})
	}
	t.stage = stageAwaitRelease
	t.decryptedAt = time.Now()
	t.items = items
	e.pipeline.EpochDecrypted(epoch.ID, t.decryptedAt.Sub(t.certifiedAt))

	e.releaseReady()
	return nil
}

// onDispatched finishes an epoch: PUBLISHED when the batch drained,
// EXPIRED when the dispatch deadline cut it short.
// No errors are expected during normal operation.
func (e *Engine) onDispatched(epochID uint64, drained bool) error {
	t, ok := e.inflight[epochID]
	if !ok || t.stage != stageDispatch {
		return nil
	}

	if !drained {
		return e.expire(t, metrics.StageDispatch)
	}

	err := e.state.Advance(epochID, umbra.EpochStatePublished)
	if err != nil {
		return fmt.Errorf("could not advance epoch %d to PUBLISHED: %w", epochID, err)
	}
	delete(e.inflight, epochID)

	e.pipeline.EpochPublished(epochID, time.Since(t.decryptedAt))
	e.log.Info().Uint64("epoch", epochID).Msg("epoch published")

	e.releaseReady()
	return nil
}

// onStageTimeout expires an epoch whose agreement or decryption timer
// lapsed. A timeout that fires concurrently with stage completion is
// discarded by the stage check.
// No errors are expected during normal operation.
func (e *Engine) onStageTimeout(epochID uint64, s stage) error {
	t, ok := e.inflight[epochID]
	if !ok || t.stage != s {
		return nil
	}

	switch s {
	case stageOrdering:
		e.ordering.Abandon(epochID)
		return e.expire(t, metrics.StageOrdering)
	case stageDecryption:
		e.decrypt.Abandon(epochID)
		return e.expire(t, metrics.StageDecryption)
	default:
		return nil
	}
}

// expire transitions the epoch to EXPIRED and records an expired
// outcome for every sealed commitment, so senders observe the failure.
// No errors are expected during normal operation.
func (e *Engine) expire(t *track, stageName string) error {
	t.stopTimer()
	epochID := t.epoch.ID

	err := e.state.Advance(epochID, umbra.EpochStateExpired)
	if err != nil {
		return fmt.Errorf("could not expire epoch %d: %w", epochID, err)
	}
	delete(e.inflight, epochID)

	for _, commit := range t.sealed {
		outcome := &umbra.CommitOutcome{
			EpochID:  epochID,
			CommitID: commit.ID(),
			State:    umbra.OutcomeExpired,
			Reason:   fmt.Sprintf("epoch expired during %s", stageName),
		}
		err = e.outcomes.Store(outcome)
		if err != nil {
			return fmt.Errorf("could not store expired outcome: %w", err)
		}
	}

	e.pipeline.EpochExpired(epochID, stageName)
	e.log.Warn().
		Uint64("epoch", epochID).
		Str("stage", stageName).
		Int("batch_size", len(t.sealed)).
		Msg("epoch expired")

	e.releaseReady()
	return nil
}

// releaseReady hands decrypted batches to the dispatcher in epoch
// order: a batch is released only when no older epoch is still in
// flight.
func (e *Engine) releaseReady() {
	for {
		var next *track
		for _, t := range e.inflight {
			if t.stage != stageAwaitRelease {
				continue
			}
			if next == nil || t.epoch.ID < next.epoch.ID {
				next = t
			}
		}
		if next == nil {
			return
		}
		for id := range e.inflight {
			if id < next.epoch.ID {
				// an older epoch is not terminal yet
				return
			}
		}

		next.stage = stageDispatch
		deadline := time.Now().Add(e.conf.DispatchTimeout)
		e.dispatch.Dispatch(next.epoch, next.items, deadline)
		next.items = nil
	}
}

// openNextEpoch creates the successor OPEN epoch, updates the snapshot
// and arms its seal timer.
// No errors are expected during normal operation.
func (e *Engine) openNextEpoch() error {
	var nextID uint64 = 1
	latest, err := e.state.Latest()
	if err == nil {
		nextID = latest + 1
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("could not read latest epoch: %w", err)
	}

	now := time.Now().UTC()
	next := &umbra.Epoch{
		ID:       nextID,
		StartTS:  now,
		EndTS:    now.Add(e.conf.EpochDuration),
		MaxBatch: e.conf.MaxBatch,
		ViewID:   e.committee.Current().ID(),
	}

	if nextID == 1 {
		err = e.state.Bootstrap(next)
	} else {
		err = e.state.OpenEpoch(next)
	}
	if err != nil {
		return fmt.Errorf("could not open epoch %d: %w", nextID, err)
	}
	err = e.ledger.Open(nextID)
	if err != nil {
		return fmt.Errorf("could not open ledger partition %d: %w", nextID, err)
	}

	e.current.Store(next)
	e.pipeline.EpochOpened(nextID)
	e.log.Info().
		Uint64("epoch", nextID).
		Time("end", next.EndTS).
		Msg("epoch opened")

	id := nextID
	time.AfterFunc(time.Until(next.EndTS), func() {
		e.submit(&sealTick{epochID: id})
	})
	return nil
}

// stageTimer arms a lifecycle timer that posts a timeout event into
// the control loop.
func (e *Engine) stageTimer(epochID uint64, s stage, d time.Duration) *time.Timer {
	return time.AfterFunc(d, func() {
		e.submit(&stageTimeout{epochID: epochID, stage: s})
	})
}
