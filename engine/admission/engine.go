// Package admission is the wallet-facing edge of the pipeline. Every
// intent is classified at the door and routed by its decision: sealed
// into the current epoch, deferred an epoch, split into chunk
// commitments, bypassed straight downstream, or refused. The plaintext
// payload never leaves this package except through the encrypt call or
// the bypass lane.
//
// The engine also subscribes to the commitment gossip channel: every
// commitment a peer admits is replicated here and stamped with this
// node's own arrival observation, which is what the ordering stage
// later reconciles across the committee.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/umbra-net/umbra-go/crypto/authsig"
	"github.com/umbra-net/umbra-go/crypto/thresholdenc"
	"github.com/umbra-net/umbra-go/engine"
	"github.com/umbra-net/umbra-go/engine/common/fifoqueue"
	"github.com/umbra-net/umbra-go/model/messages"
	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module"
	"github.com/umbra-net/umbra-go/module/classifier"
	"github.com/umbra-net/umbra-go/module/component"
	"github.com/umbra-net/umbra-go/module/irrecoverable"
	"github.com/umbra-net/umbra-go/module/mempool"
	"github.com/umbra-net/umbra-go/module/metrics"
	"github.com/umbra-net/umbra-go/module/signature"
	"github.com/umbra-net/umbra-go/network"
	"github.com/umbra-net/umbra-go/network/channels"
	"github.com/umbra-net/umbra-go/network/relay"
	"github.com/umbra-net/umbra-go/storage"
)

const defaultGossipQueueCapacity = 1024

// Config bounds the admission edge.
type Config struct {
	// RatePerSecond sheds submissions above this rate. Zero disables
	// shedding.
	RatePerSecond float64
	RateBurst     int
	// StatusIndexSize bounds the cid -> admission record history.
	StatusIndexSize int
}

// DefaultConfig returns the default admission bounds.
func DefaultConfig() Config {
	return Config{
		RatePerSecond:   0,
		RateBurst:       64,
		StatusIndexSize: 4096,
	}
}

// Engine implements the admission API and the gossip-side replication
// of commitments admitted by peers.
type Engine struct {
	component.Component

	log        zerolog.Logger
	engMetrics module.EngineMetrics
	pipeline   module.PipelineMetrics
	me         module.Local
	committee  module.CommitteeState
	classifier *classifier.Classifier
	ledger     mempool.CommitLedger
	epochs     module.EpochManager
	outcomes   storage.Outcomes
	client     relay.Client
	limiter    *rate.Limiter
	index      *statusIndex

	handler      *engine.MessageHandler
	messageStore *engine.FifoMessageStore
	con          network.Conduit
}

var _ API = (*Engine)(nil)
var _ network.MessageProcessor = (*Engine)(nil)

// New creates the admission engine and registers it on the commitment
// gossip channel.
func New(
	log zerolog.Logger,
	net network.Network,
	me module.Local,
	engMetrics module.EngineMetrics,
	mempoolMetrics module.MempoolMetrics,
	pipeline module.PipelineMetrics,
	committee module.CommitteeState,
	classify *classifier.Classifier,
	ledger mempool.CommitLedger,
	epochs module.EpochManager,
	outcomes storage.Outcomes,
	client relay.Client,
	conf Config,
) (*Engine, error) {

	messageQueue, err := fifoqueue.NewFifoQueue(
		defaultGossipQueueCapacity,
		fifoqueue.WithLengthObserver(func(length int) {
			mempoolMetrics.MempoolEntries(metrics.ResourceGossipQueue, uint(length))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create gossip queue: %w", err)
	}
	messageStore := &engine.FifoMessageStore{FifoQueue: messageQueue}

	handler := engine.NewMessageHandler(
		log,
		engine.Pattern{
			Match: func(msg *engine.Message) bool {
				_, ok := msg.Payload.(*messages.CommitmentGossip)
				return ok
			},
			BeforeStore: []engine.OnMessageFunc{func(*engine.Message) {
				engMetrics.MessageReceived(metrics.EngineAdmission, metrics.MessageCommitmentGossip)
			}},
			Store: messageStore,
		},
		engine.Pattern{
			Match: func(msg *engine.Message) bool {
				_, ok := msg.Payload.(*messages.CancelGossip)
				return ok
			},
			BeforeStore: []engine.OnMessageFunc{func(*engine.Message) {
				engMetrics.MessageReceived(metrics.EngineAdmission, metrics.MessageCancelGossip)
			}},
			Store: messageStore,
		},
	)

	index, err := newStatusIndex(conf.StatusIndexSize, mempoolMetrics)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if conf.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(conf.RatePerSecond), conf.RateBurst)
	}

	e := &Engine{
		log:          log.With().Str("engine", "admission").Logger(),
		engMetrics:   engMetrics,
		pipeline:     pipeline,
		me:           me,
		committee:    committee,
		classifier:   classify,
		ledger:       ledger,
		epochs:       epochs,
		outcomes:     outcomes,
		client:       client,
		limiter:      limiter,
		index:        index,
		handler:      handler,
		messageStore: messageStore,
	}

	con, err := net.Register(channels.CommitmentGossip, e)
	if err != nil {
		return nil, fmt.Errorf("could not register on gossip channel: %w", err)
	}
	e.con = con

	e.Component = component.NewComponentManagerBuilder().
		AddWorker(e.processMessagesLoop).
		Build()

	return e, nil
}

// Submit implements API.
func (e *Engine) Submit(ctx context.Context, intent *umbra.Intent) (*SubmitReceipt, error) {
	if e.limiter != nil && !e.limiter.Allow() {
		e.pipeline.IntentRejected("rate_limited")
		return nil, ErrRateLimited
	}

	now := time.Now().UTC()
	if !intent.Deadline.IsZero() && intent.Deadline.Before(now) {
		e.pipeline.IntentRejected("expired")
		return nil, ErrExpired
	}

	epoch := e.epochs.CurrentEpoch()
	if epoch == nil || !epoch.WithinWindow(now) {
		e.pipeline.IntentRejected("epoch_closed")
		return nil, ErrEpochClosed
	}

	decision := e.classifier.Classify(ctx, intent, epoch, now)

	switch decision.Strategy {
	case umbra.StrategyReject:
		e.pipeline.IntentRejected("high_risk")
		return nil, RejectedError{
			RiskScore: decision.RiskScore,
			Reason:    fmt.Sprintf("predicted %s exposure", decision.AttackType),
		}
	case umbra.StrategyPublic:
		return e.bypass(ctx, intent, decision)
	case umbra.StrategyDelay:
		// deferred protection: the commitment targets the successor
		// epoch, so its arrival is stamped at that epoch's open to keep
		// the stored timestamp inside the target window
		return e.admit(intent, intent.Payload, decision, epoch.ID+1, epoch.EndTS)
	case umbra.StrategyPrivateBatchSplit:
		return e.admitSplit(intent, decision, epoch.ID, now)
	default:
		return e.admit(intent, intent.Payload, decision, epoch.ID, now)
	}
}

// Status implements API. The persisted outcome is authoritative once
// one exists; before that the admission record or the open ledger
// answers.
func (e *Engine) Status(_ context.Context, cid umbra.Identifier) (*StatusResponse, error) {
	record, known := e.index.get(cid)

	outcome, err := e.outcomes.ByCID(cid)
	if err == nil {
		resp := &StatusResponse{
			CID:     cid,
			EpochID: outcome.EpochID,
			State:   outcome.State.String(),
			Outcome: outcome,
		}
		if known {
			resp.Decision = record.decision
		}
		return resp, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("could not look up outcome of %x: %w", cid, err)
	}

	if known {
		state := record.state
		if state == "" {
			state = StatePending
		}
		return &StatusResponse{
			CID:      cid,
			EpochID:  record.epochID,
			State:    state,
			Decision: record.decision,
		}, nil
	}

	// commitments learned through gossip are not indexed
	if commit, ok := e.ledger.ByCID(cid); ok {
		return &StatusResponse{CID: cid, EpochID: commit.EpochID, State: StatePending}, nil
	}

	return nil, ErrUnknownCID
}

// Cancel implements API.
func (e *Engine) Cancel(_ context.Context, req *umbra.CancelRequest) error {
	commit, open := e.ledger.ByCID(req.CommitID)
	if !open {
		// known but no longer withdrawable, or never seen at all
		if _, known := e.index.get(req.CommitID); known {
			return ErrCancelUnauthorized
		}
		_, err := e.outcomes.ByCID(req.CommitID)
		if err == nil {
			return ErrCancelUnauthorized
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("could not look up outcome of %x: %w", req.CommitID, err)
		}
		return ErrUnknownCID
	}

	err := verifyCancel(commit, req)
	if err != nil {
		return err
	}

	e.ledger.Remove(req.CommitID)
	e.index.markState(req.CommitID, StateCancelled)

	err = e.con.Publish(&messages.CancelGossip{EpochID: commit.EpochID, Cancel: req})
	if err != nil {
		return fmt.Errorf("could not gossip cancellation: %w", err)
	}
	e.engMetrics.MessageSent(metrics.EngineAdmission, metrics.MessageCancelGossip)

	e.log.Info().
		Hex("cid", req.CommitID[:]).
		Uint64("epoch", commit.EpochID).
		Msg("commitment cancelled before seal")
	return nil
}

// Process implements network.MessageProcessor: it enqueues the message
// and returns without blocking.
func (e *Engine) Process(channel channels.Channel, originID umbra.Identifier, event interface{}) error {
	return e.handler.Process(originID, event)
}

// bypass submits a low-risk payload straight downstream, outside any
// epoch.
func (e *Engine) bypass(ctx context.Context, intent *umbra.Intent, decision *umbra.Decision) (*SubmitReceipt, error) {
	cid := intent.ID()
	err := e.client.Submit(ctx, &relay.Submission{
		Kind:    relay.KindBypass,
		CID:     cid,
		Payload: intent.Payload,
	})
	e.pipeline.RelaySubmission(relay.KindBypass.String(), err == nil)
	if err != nil {
		var rej relay.RejectedError
		if errors.As(err, &rej) {
			e.pipeline.IntentRejected("downstream_rejected")
			return nil, RejectedError{RiskScore: decision.RiskScore, Reason: rej.Reason}
		}
		return nil, fmt.Errorf("could not submit bypassed intent: %w", err)
	}

	e.index.put(cid, &statusRecord{
		decision: decision,
		state:    StateNotProtected,
	})
	e.pipeline.IntentAdmitted(decision.Strategy.String())

	e.log.Debug().Hex("cid", cid[:]).Msg("intent bypassed downstream")
	return &SubmitReceipt{CID: cid, Decision: decision}, nil
}

// admit seals one payload into a commitment for the target epoch, adds
// it to the ledger and replicates it to the committee.
func (e *Engine) admit(intent *umbra.Intent, payload []byte, decision *umbra.Decision, epochID uint64, now time.Time) (*SubmitReceipt, error) {
	commit, err := e.seal(intent, payload, epochID, now)
	if err != nil {
		return nil, err
	}
	err = e.addAndGossip(commit)
	if err != nil {
		return nil, err
	}

	cid := commit.ID()
	e.index.put(cid, &statusRecord{epochID: epochID, decision: decision})
	e.pipeline.IntentAdmitted(decision.Strategy.String())

	e.log.Debug().
		Hex("cid", cid[:]).
		Uint64("epoch", epochID).
		Str("strategy", decision.Strategy.String()).
		Msg("intent admitted")
	return &SubmitReceipt{CID: cid, EpochID: epochID, Decision: decision}, nil
}

// admitSplit shards the payload into chunk commitments that travel the
// pipeline independently. A reader of the sealed epoch cannot tell the
// children belong together.
func (e *Engine) admitSplit(intent *umbra.Intent, decision *umbra.Decision, epochID uint64, now time.Time) (*SubmitReceipt, error) {
	chunks := chunkPayload(intent.Payload, e.classifier.SplitChunks())

	cids := make(umbra.IdentifierList, 0, len(chunks))
	for _, chunk := range chunks {
		commit, err := e.seal(intent, chunk, epochID, now)
		if err != nil {
			return nil, err
		}
		err = e.addAndGossip(commit)
		if err != nil {
			return nil, err
		}
		cid := commit.ID()
		e.index.put(cid, &statusRecord{epochID: epochID, decision: decision})
		cids = append(cids, cid)
	}

	e.pipeline.IntentAdmitted(decision.Strategy.String())
	e.log.Debug().
		Uint64("epoch", epochID).
		Int("children", len(cids)).
		Msg("intent split into chunk commitments")
	return &SubmitReceipt{CID: cids[0], EpochID: epochID, Decision: decision, ChildCIDs: cids}, nil
}

// seal encrypts the payload under the committee key, bound to the
// target epoch.
func (e *Engine) seal(intent *umbra.Intent, payload []byte, epochID uint64, now time.Time) (*umbra.Commitment, error) {
	view := e.committee.Current()
	ct, err := thresholdenc.Encrypt(view.EncryptionKey, payload, epochID)
	if err != nil {
		return nil, fmt.Errorf("could not encrypt payload: %w", err)
	}
	return &umbra.Commitment{
		EpochID:           epochID,
		Ciphertext:        ct,
		FeeBid:            intent.FeeBid,
		Deadline:          intent.Deadline,
		ArrivalTS:         now,
		SenderFingerprint: intent.Fingerprint(),
		Nonce:             intent.Nonce,
	}, nil
}

// addAndGossip places the commitment in its ledger partition and
// replicates it to the committee.
func (e *Engine) addAndGossip(commit *umbra.Commitment) error {
	err := e.ledger.Add(commit)
	if errors.Is(err, mempool.ErrEpochUnknown) {
		// deferred admissions target the successor partition before the
		// controller opens it
		err = e.ledger.Open(commit.EpochID)
		if err == nil {
			err = e.ledger.Add(commit)
		}
	}
	if errors.Is(err, mempool.ErrEpochSealed) {
		return ErrEpochClosed
	}
	if err != nil {
		return fmt.Errorf("could not add commitment to ledger: %w", err)
	}

	err = e.con.Publish(&messages.CommitmentGossip{Commitment: commit})
	if err != nil {
		return fmt.Errorf("could not gossip commitment: %w", err)
	}
	e.engMetrics.MessageSent(metrics.EngineAdmission, metrics.MessageCommitmentGossip)

	e.epochs.CommitmentAdmitted(commit.EpochID, e.ledger.Size(commit.EpochID))
	return nil
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

// No errors are expected during normal operation.
func (e *Engine) processAvailableMessages() error {
	for {
		msg, ok := e.messageStore.Get()
		if !ok {
			return nil
		}
		switch ev := msg.Payload.(type) {
		case *messages.CommitmentGossip:
			e.onCommitmentGossip(msg.OriginID, ev)
		case *messages.CancelGossip:
			e.onCancelGossip(msg.OriginID, ev)
		}
	}
}

// onCommitmentGossip replicates a peer's admitted commitment into the
// local ledger, stamped with this node's own arrival observation.
// Invalid gossip is dropped, never fatal.
func (e *Engine) onCommitmentGossip(originID umbra.Identifier, msg *messages.CommitmentGossip) {
	log := e.log.With().Hex("origin_id", originID[:]).Logger()

	view := e.committee.Current()
	_, err := view.MemberByNodeID(originID)
	if err != nil {
		log.Warn().Msg("dropping commitment gossip from non-member")
		e.engMetrics.InboundMessageDropped(metrics.EngineAdmission, metrics.MessageCommitmentGossip)
		return
	}

	commit := msg.Commitment
	if commit == nil || commit.Ciphertext == nil {
		log.Warn().Msg("dropping malformed commitment gossip")
		e.engMetrics.InboundMessageDropped(metrics.EngineAdmission, metrics.MessageCommitmentGossip)
		return
	}
	err = commit.Ciphertext.Validate(commit.EpochID)
	if err != nil {
		log.Warn().Err(err).Msg("dropping commitment with invalid ciphertext")
		e.engMetrics.InboundMessageDropped(metrics.EngineAdmission, metrics.MessageCommitmentGossip)
		return
	}

	// the sender's arrival stamp is its own observation; record ours.
	// the CID covers neither, so both map to the same commitment.
	local := *commit
	local.ArrivalTS = time.Now().UTC()
	if epoch := e.epochs.CurrentEpoch(); epoch != nil && commit.EpochID > epoch.ID && local.ArrivalTS.Before(epoch.EndTS) {
		// deferred commitment: its arrival belongs in the target window
		local.ArrivalTS = epoch.EndTS
	}

	err = e.ledger.Add(&local)
	if errors.Is(err, mempool.ErrEpochUnknown) {
		err = e.ledger.Open(local.EpochID)
		if err == nil {
			err = e.ledger.Add(&local)
		}
	}
	if errors.Is(err, mempool.ErrEpochSealed) {
		log.Debug().Uint64("epoch", local.EpochID).Msg("dropping gossiped commitment for sealed epoch")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("could not add gossiped commitment")
		return
	}

	e.engMetrics.MessageHandled(metrics.EngineAdmission, metrics.MessageCommitmentGossip)
	e.epochs.CommitmentAdmitted(local.EpochID, e.ledger.Size(local.EpochID))
}

// onCancelGossip applies a peer-verified cancellation locally, after
// re-verifying the wallet signature itself.
func (e *Engine) onCancelGossip(originID umbra.Identifier, msg *messages.CancelGossip) {
	log := e.log.With().Hex("origin_id", originID[:]).Logger()

	view := e.committee.Current()
	_, err := view.MemberByNodeID(originID)
	if err != nil {
		log.Warn().Msg("dropping cancel gossip from non-member")
		e.engMetrics.InboundMessageDropped(metrics.EngineAdmission, metrics.MessageCancelGossip)
		return
	}

	req := msg.Cancel
	if req == nil {
		log.Warn().Msg("dropping malformed cancel gossip")
		e.engMetrics.InboundMessageDropped(metrics.EngineAdmission, metrics.MessageCancelGossip)
		return
	}

	commit, open := e.ledger.ByCID(req.CommitID)
	if !open {
		log.Debug().Hex("cid", req.CommitID[:]).Msg("cancel gossip for commitment not in open partition")
		return
	}
	err = verifyCancel(commit, req)
	if err != nil {
		log.Warn().Err(err).Msg("dropping cancel gossip with invalid signature")
		e.engMetrics.InboundMessageDropped(metrics.EngineAdmission, metrics.MessageCancelGossip)
		return
	}

	e.ledger.Remove(req.CommitID)
	e.engMetrics.MessageHandled(metrics.EngineAdmission, metrics.MessageCancelGossip)
	log.Debug().Hex("cid", req.CommitID[:]).Msg("applied gossiped cancellation")
}

// verifyCancel checks a cancellation against the commitment it
// withdraws: the signing key must hash to the committed fingerprint and
// the signature must verify under the cancellation domain tag.
// Error returns:
//   - ErrCancelUnauthorized on any verification failure
func verifyCancel(commit *umbra.Commitment, req *umbra.CancelRequest) error {
	if umbra.MakeIDFromData(req.SenderKey) != commit.SenderFingerprint {
		return ErrCancelUnauthorized
	}
	err := authsig.Verify(req.SenderKey, signature.IntentCancelTag, req.SignedPayload(), req.Signature)
	if err != nil {
		return ErrCancelUnauthorized
	}
	return nil
}

// chunkPayload splits the payload into up to k contiguous chunks of
// near-equal size. Payloads shorter than k bytes produce fewer chunks;
// a chunk is never empty.
func chunkPayload(payload []byte, k int) [][]byte {
	if k <= 1 || len(payload) <= 1 {
		return [][]byte{payload}
	}
	if k > len(payload) {
		k = len(payload)
	}

	chunks := make([][]byte, 0, k)
	size := (len(payload) + k - 1) / k
	for start := 0; start < len(payload); start += size {
		end := start + size
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[start:end])
	}
	return chunks
}
