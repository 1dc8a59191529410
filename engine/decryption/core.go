// Package decryption recovers the plaintexts of an epoch once its
// ordering certificate is final. Members exchange partial decryption
// shares per commitment; each share is verified against the sender's
// public share commitment before it counts towards the threshold.
// Combines run in parallel on a worker pool, but the epoch's results
// are released to the consumer only as one batch in certificate order.
package decryption

import (
	"errors"
	"fmt"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"

	"github.com/umbra-net/umbra-go/crypto/authsig"
	"github.com/umbra-net/umbra-go/crypto/thresholdenc"
	"github.com/umbra-net/umbra-go/model/messages"
	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module"
	"github.com/umbra-net/umbra-go/module/metrics"
	"github.com/umbra-net/umbra-go/module/signature"
	"github.com/umbra-net/umbra-go/network"
)

const (
	pendingEpochLimit   = 4
	pendingMessageLimit = 1024

	defaultCombineWorkers = 8
)

// Result is the decryption outcome of one commitment.
type Result struct {
	CID       umbra.Identifier
	SeqIdx    uint
	Plaintext []byte
	// Poisoned is set when the commitment's shares combined to a key
	// that does not open the ciphertext. The commitment is skipped at
	// dispatch; the rest of the epoch proceeds.
	Poisoned bool
}

// Consumer is notified exactly once per epoch when every commitment has
// either a plaintext or a poisoned mark. Results are in certificate
// order.
type Consumer interface {
	OnEpochDecrypted(epoch *umbra.Epoch, results []*Result)
}

// session is the decryption state of one certified epoch.
type session struct {
	epoch   *umbra.Epoch
	view    *umbra.CommitteeView
	cert    *umbra.OrderingCertificate
	commits map[umbra.Identifier]*umbra.Commitment

	collectors map[umbra.Identifier]*shareCollector
	results    map[umbra.Identifier]*Result
}

func (s *session) done() bool {
	return len(s.results) == len(s.cert.OrderedCIDs)
}

// inbound is a share message parked for an epoch we have no certificate
// for yet.
type inbound struct {
	originID umbra.Identifier
	event    interface{}
}

// combineResult is the outcome of one worker-pool combine, fed back to
// the single worker.
type combineResult struct {
	epochID   uint64
	cid       umbra.Identifier
	plaintext []byte
	err       error
}

// Core implements the share collection and combination logic. It is
// NOT concurrency safe: all methods must be called from the engine's
// single worker. Combine jobs run on the worker pool and re-enter
// through the engine's internal queue.
type Core struct {
	log        zerolog.Logger
	engMetrics module.EngineMetrics
	pipeline   module.PipelineMetrics
	me         module.Local
	committee  module.CommitteeState
	consumer   Consumer
	con        network.Conduit
	pool       *workerpool.WorkerPool
	resultSink func(*combineResult)

	sessions       map[uint64]*session
	pending        map[uint64][]inbound
	highestStarted uint64
}

// NewCore creates the decryption core. The conduit and the result sink
// are attached by the engine before the first epoch starts.
func NewCore(
	log zerolog.Logger,
	engMetrics module.EngineMetrics,
	pipeline module.PipelineMetrics,
	me module.Local,
	committee module.CommitteeState,
	consumer Consumer,
) *Core {
	return &Core{
		log:        log.With().Str("engine", "decryption").Logger(),
		engMetrics: engMetrics,
		pipeline:   pipeline,
		me:         me,
		committee:  committee,
		consumer:   consumer,
		pool:       workerpool.New(defaultCombineWorkers),
		sessions:   make(map[uint64]*session),
		pending:    make(map[uint64][]inbound),
	}
}

// SetConduit attaches the sending conduit.
func (c *Core) SetConduit(con network.Conduit) {
	c.con = con
}

// Shutdown drains the combine worker pool. Called once, on engine
// shutdown.
func (c *Core) Shutdown() {
	c.pool.StopWait()
}

// OnEpochCertified starts decryption for an epoch whose ordering
// certificate is final. The commitments are the epoch's sealed set.
// No errors are expected during normal operation.
func (c *Core) OnEpochCertified(epoch *umbra.Epoch, cert *umbra.OrderingCertificate, sealed []*umbra.Commitment) error {
	view, err := c.committee.ByID(epoch.ViewID)
	if err != nil {
		return fmt.Errorf("epoch %d pinned to unknown committee view %x: %w", epoch.ID, epoch.ViewID, err)
	}

	s := &session{
		epoch:      epoch,
		view:       view,
		cert:       cert,
		commits:    make(map[umbra.Identifier]*umbra.Commitment, len(sealed)),
		collectors: make(map[umbra.Identifier]*shareCollector, len(sealed)),
		results:    make(map[umbra.Identifier]*Result, len(sealed)),
	}
	for _, commit := range sealed {
		s.commits[commit.ID()] = commit
	}
	for seq, cid := range cert.OrderedCIDs {
		commit, ok := s.commits[cid]
		if !ok {
			return fmt.Errorf("certificate for epoch %d orders unknown commitment %x", epoch.ID, cid)
		}
		s.collectors[cid] = newShareCollector(view, commit.Ciphertext, uint(seq))
	}
	c.sessions[epoch.ID] = s
	if epoch.ID > c.highestStarted {
		c.highestStarted = epoch.ID
	}

	c.log.Info().
		Uint64("epoch", epoch.ID).
		Int("batch_size", len(cert.OrderedCIDs)).
		Msg("decryption started for certified epoch")

	// contribute our own shares first, then replay what other members
	// sent while we were still waiting for the certificate
	err = c.contributeShares(s)
	if err != nil {
		return err
	}
	if s.done() {
		// empty epoch: nothing to decrypt
		return c.finish(s)
	}
	return c.replayPending(epoch.ID)
}

// AbandonEpoch drops all decryption state for the epoch. Called when
// the decrypt timer lapses and the epoch expires.
func (c *Core) AbandonEpoch(epochID uint64) {
	if _, ok := c.sessions[epochID]; !ok {
		return
	}
	delete(c.sessions, epochID)
	delete(c.pending, epochID)
	c.log.Warn().Uint64("epoch", epochID).Msg("decryption abandoned")
}

// OnDecryptionShare processes another member's partial decryption share
// for one commitment.
// No errors are expected during normal operation.
func (c *Core) OnDecryptionShare(originID umbra.Identifier, msg *messages.DecryptionShareMsg) error {
	s, ok := c.sessions[msg.EpochID]
	if !ok {
		c.park(msg.EpochID, originID, msg)
		return nil
	}

	log := c.log.With().
		Uint64("epoch", msg.EpochID).
		Int("member", msg.MemberIdx).
		Hex("cid", msg.CommitID[:]).
		Logger()

	member, valid, err := c.verifyMember(s, msg.MemberIdx, originID, msg.ViewID, msg.SignedPayload(), msg.Signature)
	if err != nil {
		return err
	}
	if !valid {
		c.engMetrics.InboundMessageDropped(metrics.EngineDecryption, metrics.MessageDecryptionShare)
		return nil
	}

	collector, ok := s.collectors[msg.CommitID]
	if !ok {
		log.Warn().Msg("share for commitment outside the certified set")
		c.engMetrics.InboundMessageDropped(metrics.EngineDecryption, metrics.MessageDecryptionShare)
		return nil
	}
	if msg.Share == nil || msg.Share.Index != msg.MemberIdx {
		log.Warn().Msg("share index does not match sender")
		c.engMetrics.InboundMessageDropped(metrics.EngineDecryption, metrics.MessageDecryptionShare)
		return nil
	}

	err = collector.Verify(member, msg.Share)
	if errors.Is(err, thresholdenc.ErrMalformedShare) || errors.Is(err, thresholdenc.ErrMalformedCiphertext) {
		log.Warn().Err(err).Msg("decryption share failed verification")
		c.engMetrics.InboundMessageDropped(metrics.EngineDecryption, metrics.MessageDecryptionShare)
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not verify decryption share: %w", err)
	}

	added := collector.TrustedAdd(msg.Share)
	if !added {
		log.Debug().Msg("duplicate decryption share")
		return nil
	}
	c.engMetrics.MessageHandled(metrics.EngineDecryption, metrics.MessageDecryptionShare)

	c.maybeCombine(s, msg.CommitID, collector)
	return nil
}

// OnCombineResult records the outcome of one worker-pool combine and
// releases the epoch once every commitment is resolved.
// No errors are expected during normal operation.
func (c *Core) OnCombineResult(res *combineResult) error {
	s, ok := c.sessions[res.epochID]
	if !ok {
		// epoch expired while the combine was in flight
		return nil
	}
	collector, ok := s.collectors[res.cid]
	if !ok {
		return nil
	}
	if _, resolved := s.results[res.cid]; resolved {
		return nil
	}

	if res.err != nil {
		// every share was individually verified, so a failing combine
		// means the ciphertext itself was misused; isolate it
		c.log.Warn().
			Err(res.err).
			Uint64("epoch", res.epochID).
			Hex("cid", res.cid[:]).
			Msg("commitment poisoned: verified shares failed to combine")
		c.pipeline.CommitmentPoisoned()
		s.results[res.cid] = &Result{CID: res.cid, SeqIdx: collector.seqIdx, Poisoned: true}
	} else {
		s.results[res.cid] = &Result{CID: res.cid, SeqIdx: collector.seqIdx, Plaintext: res.plaintext}
	}

	if s.done() {
		return c.finish(s)
	}
	return nil
}

// contributeShares publishes this member's partial share for every
// commitment in the certified set, and counts each towards its own
// collector.
func (c *Core) contributeShares(s *session) error {
	for _, cid := range s.cert.OrderedCIDs {
		commit := s.commits[cid]
		collector := s.collectors[cid]

		share, err := c.me.DecryptionShare(commit.Ciphertext)
		if err != nil {
			return fmt.Errorf("could not compute own decryption share for %x: %w", cid, err)
		}

		msg := &messages.DecryptionShareMsg{
			EpochID:   s.epoch.ID,
			ViewID:    s.epoch.ViewID,
			MemberIdx: c.me.Index(),
			CommitID:  cid,
			Share:     share,
		}
		sig, err := c.me.Sign(signature.DecryptionShareTag, msg.SignedPayload())
		if err != nil {
			return fmt.Errorf("could not sign decryption share: %w", err)
		}
		msg.Signature = sig

		err = c.con.Publish(msg)
		if err != nil {
			c.log.Warn().Err(err).Uint64("epoch", s.epoch.ID).Msg("could not publish decryption share")
		}
		c.engMetrics.MessageSent(metrics.EngineDecryption, metrics.MessageDecryptionShare)

		collector.TrustedAdd(share)
		c.maybeCombine(s, cid, collector)
	}
	return nil
}

// maybeCombine hands the commitment to the worker pool once the
// threshold of verified shares is reached. Each commitment combines at
// most once.
func (c *Core) maybeCombine(s *session, cid umbra.Identifier, collector *shareCollector) {
	if !collector.EnoughShares() || collector.combining {
		return
	}
	collector.combining = true

	epochID := s.epoch.ID
	ct, shares, t, n := collector.CombineInput()
	c.pool.Submit(func() {
		plaintext, err := thresholdenc.Combine(ct, shares, t, n)
		c.resultSink(&combineResult{
			epochID:   epochID,
			cid:       cid,
			plaintext: plaintext,
			err:       err,
		})
	})
}

// finish orders the results by certificate sequence, tears the session
// down and notifies the consumer.
func (c *Core) finish(s *session) error {
	results := make([]*Result, 0, len(s.cert.OrderedCIDs))
	for _, cid := range s.cert.OrderedCIDs {
		res, ok := s.results[cid]
		if !ok {
			return fmt.Errorf("epoch %d finished with unresolved commitment %x", s.epoch.ID, cid)
		}
		results = append(results, res)
	}

	delete(c.sessions, s.epoch.ID)
	delete(c.pending, s.epoch.ID)

	poisoned := 0
	for _, res := range results {
		if res.Poisoned {
			poisoned++
		}
	}
	c.log.Info().
		Uint64("epoch", s.epoch.ID).
		Int("batch_size", len(results)).
		Int("poisoned", poisoned).
		Msg("epoch decrypted")

	c.consumer.OnEpochDecrypted(s.epoch, results)
	return nil
}

// verifyMember authenticates a share message against the session's
// committee view. Returns valid=false for protocol deviations; an
// error only for exceptions.
func (c *Core) verifyMember(s *session, memberIdx int, originID umbra.Identifier, viewID umbra.Identifier, payload, sig []byte) (*umbra.Member, bool, error) {
	log := c.log.With().
		Uint64("epoch", s.epoch.ID).
		Int("member", memberIdx).
		Logger()

	if viewID != s.epoch.ViewID {
		log.Warn().Hex("got_view", viewID[:]).Msg("share for wrong committee view")
		return nil, false, nil
	}
	member, err := s.view.Member(memberIdx)
	if err != nil {
		log.Warn().Msg("share claims unknown member index")
		return nil, false, nil
	}
	if member.NodeID != originID {
		log.Warn().
			Hex("origin", originID[:]).
			Hex("member_node", member.NodeID[:]).
			Msg("share origin does not match claimed member")
		return nil, false, nil
	}
	err = authsig.Verify(member.AuthKey, signature.DecryptionShareTag, payload, sig)
	if errors.Is(err, authsig.ErrInvalidSignature) {
		log.Warn().Msg("share signature invalid")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("could not verify signature of member %d: %w", memberIdx, err)
	}
	return member, true, nil
}

// park buffers a share for an epoch whose certificate has not reached
// us yet. Shares for epochs at or behind the latest started session
// are stale and dropped.
func (c *Core) park(epochID uint64, originID umbra.Identifier, event interface{}) {
	if epochID <= c.highestStarted {
		c.log.Debug().Uint64("epoch", epochID).Msg("dropping stale decryption share")
		c.engMetrics.InboundMessageDropped(metrics.EngineDecryption, metrics.MessageDecryptionShare)
		return
	}
	buf := c.pending[epochID]
	if len(buf) >= pendingMessageLimit {
		c.engMetrics.InboundMessageDropped(metrics.EngineDecryption, metrics.MessageDecryptionShare)
		return
	}
	if _, ok := c.pending[epochID]; !ok && len(c.pending) >= pendingEpochLimit {
		c.engMetrics.InboundMessageDropped(metrics.EngineDecryption, metrics.MessageDecryptionShare)
		return
	}
	c.pending[epochID] = append(buf, inbound{originID: originID, event: event})
}

// replayPending re-dispatches shares parked for the epoch and prunes
// everything older.
func (c *Core) replayPending(epochID uint64) error {
	parked := c.pending[epochID]
	delete(c.pending, epochID)
	for id := range c.pending {
		if id < epochID {
			delete(c.pending, id)
		}
	}

	for _, in := range parked {
		msg, ok := in.event.(*messages.DecryptionShareMsg)
		if !ok {
			continue
		}
		err := c.OnDecryptionShare(in.originID, msg)
		if err != nil {
			return err
		}
	}
	return nil
}
