// Package ordering runs the fair ordering agreement for sealed epochs.
// Members exchange signed arrival vectors, reconcile them into median
// arrival timestamps, derive the canonical publication order, and
// collect threshold signature shares until one order carries enough
// shares to form the epoch's ordering certificate.
package ordering

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/umbra-net/umbra-go/crypto/authsig"
	"github.com/umbra-net/umbra-go/model/messages"
	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module"
	"github.com/umbra-net/umbra-go/module/metrics"
	"github.com/umbra-net/umbra-go/module/signature"
	"github.com/umbra-net/umbra-go/network"
	"github.com/umbra-net/umbra-go/storage"
)

// A member ahead of us may send messages for an epoch we have not
// sealed yet. Those are parked and replayed once our seal catches up.
const (
	pendingEpochLimit   = 4
	pendingMessageLimit = 128
)

// CertificateConsumer is notified exactly once per epoch when a final
// ordering certificate is available, whether assembled locally or
// adopted from an announce.
type CertificateConsumer interface {
	OnOrderingCertificate(cert *umbra.OrderingCertificate)
}

// candidate is one proposed publication order and the signature shares
// collected for it.
type candidate struct {
	orderedCIDs umbra.IdentifierList
	merkleRoot  umbra.Identifier
	agg         *signature.CertificateAggregator
}

// session is the agreement state of one sealed epoch.
type session struct {
	epoch        *umbra.Epoch
	view         *umbra.CommitteeView
	viewID       umbra.Identifier
	sealed       map[umbra.Identifier]*umbra.Commitment
	arrivalOrder umbra.IdentifierList

	vectors    map[int]*messages.ArrivalVector
	proposed   map[int]bool
	candidates map[umbra.Identifier]*candidate
	computed   bool
}

// inbound is a network message parked for an epoch not yet sealed here.
type inbound struct {
	originID umbra.Identifier
	event    interface{}
}

// Core implements the ordering agreement logic. It is NOT concurrency
// safe: all methods must be called from the engine's single worker.
// Returned errors are exceptions; expected protocol deviations are
// logged and dropped internally.
type Core struct {
	log          zerolog.Logger
	engMetrics   module.EngineMetrics
	me           module.Local
	committee    module.CommitteeState
	certificates storage.Certificates
	consumer     CertificateConsumer
	con          network.Conduit

	sessions       map[uint64]*session
	pending        map[uint64][]inbound
	highestStarted uint64
}

// NewCore creates the ordering core. The conduit is attached later by
// the engine via SetConduit.
func NewCore(
	log zerolog.Logger,
	engMetrics module.EngineMetrics,
	me module.Local,
	committee module.CommitteeState,
	certificates storage.Certificates,
	consumer CertificateConsumer,
) *Core {
	return &Core{
		log:          log.With().Str("engine", "ordering").Logger(),
		engMetrics:   engMetrics,
		me:           me,
		committee:    committee,
		certificates: certificates,
		consumer:     consumer,
		sessions:     make(map[uint64]*session),
		pending:      make(map[uint64][]inbound),
	}
}

// SetConduit attaches the sending conduit. Must be called before the
// first epoch seals.
func (c *Core) SetConduit(con network.Conduit) {
	c.con = con
}

// OnEpochSealed starts the agreement for a freshly sealed epoch. The
// commitments are the frozen epoch set in local arrival order.
// No errors are expected during normal operation.
func (c *Core) OnEpochSealed(epoch *umbra.Epoch, sealed []*umbra.Commitment) error {
	view, err := c.committee.ByID(epoch.ViewID)
	if err != nil {
		return fmt.Errorf("epoch %d pinned to unknown committee view %x: %w", epoch.ID, epoch.ViewID, err)
	}

	s := &session{
		epoch:      epoch,
		view:       view,
		viewID:     epoch.ViewID,
		sealed:     make(map[umbra.Identifier]*umbra.Commitment, len(sealed)),
		vectors:    make(map[int]*messages.ArrivalVector),
		proposed:   make(map[int]bool),
		candidates: make(map[umbra.Identifier]*candidate),
	}
	for _, commit := range sealed {
		cid := commit.ID()
		s.sealed[cid] = commit
		s.arrivalOrder = append(s.arrivalOrder, cid)
	}
	c.sessions[epoch.ID] = s
	if epoch.ID > c.highestStarted {
		c.highestStarted = epoch.ID
	}

	vector, err := c.buildOwnVector(s)
	if err != nil {
		return err
	}
	s.vectors[c.me.Index()] = vector

	err = c.con.Publish(vector)
	if err != nil {
		c.log.Warn().Err(err).Uint64("epoch", epoch.ID).Msg("could not publish arrival vector")
	}
	c.engMetrics.MessageSent(metrics.EngineOrdering, metrics.MessageArrivalVector)

	c.log.Info().
		Uint64("epoch", epoch.ID).
		Int("batch_size", len(sealed)).
		Msg("ordering started for sealed epoch")

	err = c.maybeCompute(s)
	if err != nil {
		return err
	}
	return c.replayPending(epoch.ID)
}

// AbandonEpoch drops all agreement state for the epoch. Called when the
// agreement timer lapses and the epoch expires.
func (c *Core) AbandonEpoch(epochID uint64) {
	if _, ok := c.sessions[epochID]; !ok {
		return
	}
	delete(c.sessions, epochID)
	delete(c.pending, epochID)
	c.log.Warn().Uint64("epoch", epochID).Msg("ordering abandoned")
}

// OnArrivalVector processes another member's arrival vector.
// No errors are expected during normal operation.
func (c *Core) OnArrivalVector(originID umbra.Identifier, av *messages.ArrivalVector) error {
	s, ok := c.sessions[av.EpochID]
	if !ok {
		c.park(av.EpochID, originID, av, metrics.MessageArrivalVector)
		return nil
	}

	log := c.log.With().
		Uint64("epoch", av.EpochID).
		Int("member", av.MemberIdx).
		Logger()

	_, valid, err := c.verifyMember(s, av.MemberIdx, originID, av.ViewID, signature.ArrivalVectorTag, av.SignedPayload(), av.Signature)
	if err != nil {
		return err
	}
	if !valid {
		c.engMetrics.InboundMessageDropped(metrics.EngineOrdering, metrics.MessageArrivalVector)
		return nil
	}

	if _, dup := s.vectors[av.MemberIdx]; dup {
		log.Debug().Msg("duplicate arrival vector")
		return nil
	}
	if len(av.CIDs) != len(av.ArrivalNanos) || !isPermutation(s.sealed, av.CIDs) {
		log.Warn().Msg("arrival vector does not match sealed set")
		c.engMetrics.InboundMessageDropped(metrics.EngineOrdering, metrics.MessageArrivalVector)
		return nil
	}

	s.vectors[av.MemberIdx] = av
	c.engMetrics.MessageHandled(metrics.EngineOrdering, metrics.MessageArrivalVector)
	return c.maybeCompute(s)
}

// OnOrderingProposal processes another member's signed order proposal
// and its signature share.
// No errors are expected during normal operation.
func (c *Core) OnOrderingProposal(originID umbra.Identifier, prop *messages.OrderingProposal) error {
	s, ok := c.sessions[prop.EpochID]
	if !ok {
		c.park(prop.EpochID, originID, prop, metrics.MessageOrderingProposal)
		return nil
	}

	log := c.log.With().
		Uint64("epoch", prop.EpochID).
		Int("member", prop.MemberIdx).
		Logger()

	if s.proposed[prop.MemberIdx] {
		log.Debug().Msg("member already proposed, keeping first proposal")
		return nil
	}

	_, valid, err := c.verifyMember(s, prop.MemberIdx, originID, prop.ViewID, signature.OrderingProposalTag, prop.SignedPayload(), prop.Signature)
	if err != nil {
		return err
	}
	if !valid {
		c.engMetrics.InboundMessageDropped(metrics.EngineOrdering, metrics.MessageOrderingProposal)
		return nil
	}

	if !isPermutation(s.sealed, prop.OrderedCIDs) {
		log.Warn().Msg("proposed order is not a permutation of the sealed set")
		c.engMetrics.InboundMessageDropped(metrics.EngineOrdering, metrics.MessageOrderingProposal)
		return nil
	}
	if umbra.OrderedRoot(prop.OrderedCIDs) != prop.MerkleRoot {
		log.Warn().Msg("proposal merkle root does not commit to proposed order")
		c.engMetrics.InboundMessageDropped(metrics.EngineOrdering, metrics.MessageOrderingProposal)
		return nil
	}

	cand, err := c.candidate(s, prop.OrderedCIDs, prop.MerkleRoot)
	if err != nil {
		return err
	}

	shareIdx, err := cand.agg.Verify(prop.SigShare)
	if err != nil {
		log.Warn().Err(err).Msg("invalid signature share on proposal")
		c.engMetrics.InboundMessageDropped(metrics.EngineOrdering, metrics.MessageOrderingProposal)
		return nil
	}
	if shareIdx != prop.MemberIdx {
		log.Warn().Int("share_idx", shareIdx).Msg("signature share index does not match proposer")
		c.engMetrics.InboundMessageDropped(metrics.EngineOrdering, metrics.MessageOrderingProposal)
		return nil
	}

	s.proposed[prop.MemberIdx] = true
	_, err = cand.agg.TrustedAdd(shareIdx, prop.SigShare)
	if err != nil {
		return fmt.Errorf("could not accumulate verified share from member %d: %w", shareIdx, err)
	}
	c.engMetrics.MessageHandled(metrics.EngineOrdering, metrics.MessageOrderingProposal)

	return c.checkCandidate(s, cand)
}

// OnCertificateAnnounce adopts a certificate another member assembled
// first.
// No errors are expected during normal operation.
func (c *Core) OnCertificateAnnounce(originID umbra.Identifier, ann *messages.CertificateAnnounce) error {
	cert := ann.Certificate
	if cert == nil {
		c.engMetrics.InboundMessageDropped(metrics.EngineOrdering, metrics.MessageCertificateAnnounce)
		return nil
	}

	s, ok := c.sessions[cert.EpochID]
	if !ok {
		c.park(cert.EpochID, originID, ann, metrics.MessageCertificateAnnounce)
		return nil
	}

	log := c.log.With().
		Uint64("epoch", cert.EpochID).
		Int("member", ann.MemberIdx).
		Logger()

	_, valid, err := c.verifyMember(s, ann.MemberIdx, originID, s.viewID, signature.CertificateAnnounceTag, ann.SignedPayload(), ann.Signature)
	if err != nil {
		return err
	}
	if !valid {
		c.engMetrics.InboundMessageDropped(metrics.EngineOrdering, metrics.MessageCertificateAnnounce)
		return nil
	}

	if !isPermutation(s.sealed, cert.OrderedCIDs) {
		log.Warn().Msg("announced certificate order is not a permutation of the sealed set")
		c.engMetrics.InboundMessageDropped(metrics.EngineOrdering, metrics.MessageCertificateAnnounce)
		return nil
	}
	if umbra.OrderedRoot(cert.OrderedCIDs) != cert.MerkleRoot {
		log.Warn().Msg("announced certificate root does not commit to its order")
		c.engMetrics.InboundMessageDropped(metrics.EngineOrdering, metrics.MessageCertificateAnnounce)
		return nil
	}
	err = signature.VerifyCertificate(s.view, cert)
	if err != nil {
		log.Warn().Err(err).Msg("announced certificate does not verify")
		c.engMetrics.InboundMessageDropped(metrics.EngineOrdering, metrics.MessageCertificateAnnounce)
		return nil
	}

	c.engMetrics.MessageHandled(metrics.EngineOrdering, metrics.MessageCertificateAnnounce)
	return c.finalize(s, cert, false)
}

// buildOwnVector assembles and signs this member's arrival vector.
func (c *Core) buildOwnVector(s *session) (*messages.ArrivalVector, error) {
	nanos := make([]int64, 0, len(s.arrivalOrder))
	for _, cid := range s.arrivalOrder {
		nanos = append(nanos, s.sealed[cid].ArrivalTS.UnixNano())
	}
	av := &messages.ArrivalVector{
		EpochID:      s.epoch.ID,
		ViewID:       s.viewID,
		MemberIdx:    c.me.Index(),
		CIDs:         s.arrivalOrder,
		ArrivalNanos: nanos,
	}
	sig, err := c.me.Sign(signature.ArrivalVectorTag, av.SignedPayload())
	if err != nil {
		return nil, fmt.Errorf("could not sign arrival vector: %w", err)
	}
	av.Signature = sig
	return av, nil
}

// verifyMember authenticates a message against the session's committee
// view: the member index must exist, the transport origin must be that
// member, the view must match, and the signature must verify. Returns
// valid=false for protocol deviations; an error only for exceptions.
func (c *Core) verifyMember(s *session, memberIdx int, originID umbra.Identifier, viewID umbra.Identifier, tag string, payload, sig []byte) (*umbra.Member, bool, error) {
	log := c.log.With().
		Uint64("epoch", s.epoch.ID).
		Int("member", memberIdx).
		Logger()

	if viewID != s.viewID {
		log.Warn().Hex("got_view", viewID[:]).Msg("message for wrong committee view")
		return nil, false, nil
	}
	member, err := s.view.Member(memberIdx)
	if err != nil {
		log.Warn().Msg("message claims unknown member index")
		return nil, false, nil
	}
	if member.NodeID != originID {
		log.Warn().
			Hex("origin", originID[:]).
			Hex("member_node", member.NodeID[:]).
			Msg("message origin does not match claimed member")
		return nil, false, nil
	}
	err = authsig.Verify(member.AuthKey, tag, payload, sig)
	if errors.Is(err, authsig.ErrInvalidSignature) {
		log.Warn().Msg("message signature invalid")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("could not verify signature of member %d: %w", memberIdx, err)
	}
	return member, true, nil
}

// maybeCompute derives this member's order proposal once the threshold
// of arrival vectors is available. Computed exactly once per epoch.
func (c *Core) maybeCompute(s *session) error {
	if s.computed || len(s.vectors) < s.view.Threshold {
		return nil
	}

	arrivals := reconcileArrivals(s.epoch, s.arrivalOrder, s.vectors)
	ordered := canonicalOrder(s.sealed, arrivals)
	root := umbra.OrderedRoot(ordered)

	share, err := c.me.SignOrderingShare(signature.CertificateMessage(s.epoch.ID, ordered, root))
	if err != nil {
		return fmt.Errorf("could not sign ordering share: %w", err)
	}
	prop := &messages.OrderingProposal{
		EpochID:     s.epoch.ID,
		ViewID:      s.viewID,
		MemberIdx:   c.me.Index(),
		OrderedCIDs: ordered,
		MerkleRoot:  root,
		SigShare:    share,
	}
	sig, err := c.me.Sign(signature.OrderingProposalTag, prop.SignedPayload())
	if err != nil {
		return fmt.Errorf("could not sign ordering proposal: %w", err)
	}
	prop.Signature = sig
	s.computed = true

	cand, err := c.candidate(s, ordered, root)
	if err != nil {
		return err
	}
	_, err = cand.agg.TrustedAdd(c.me.Index(), share)
	if err != nil {
		return fmt.Errorf("could not accumulate own share: %w", err)
	}
	s.proposed[c.me.Index()] = true

	err = c.con.Publish(prop)
	if err != nil {
		c.log.Warn().Err(err).Uint64("epoch", s.epoch.ID).Msg("could not publish ordering proposal")
	}
	c.engMetrics.MessageSent(metrics.EngineOrdering, metrics.MessageOrderingProposal)

	c.log.Info().
		Uint64("epoch", s.epoch.ID).
		Int("vectors", len(s.vectors)).
		Hex("merkle_root", root[:]).
		Msg("canonical order proposed")

	return c.checkCandidate(s, cand)
}

// candidate returns the share aggregator for the given order, creating
// it on first sight.
func (c *Core) candidate(s *session, ordered umbra.IdentifierList, root umbra.Identifier) (*candidate, error) {
	bodyID := umbra.OrderingCertificate{
		EpochID:     s.epoch.ID,
		OrderedCIDs: ordered,
		MerkleRoot:  root,
	}.ID()

	if cand, ok := s.candidates[bodyID]; ok {
		return cand, nil
	}
	agg, err := signature.NewCertificateAggregator(s.view, signature.CertificateMessage(s.epoch.ID, ordered, root))
	if err != nil {
		return nil, fmt.Errorf("could not create share aggregator for epoch %d: %w", s.epoch.ID, err)
	}
	cand := &candidate{
		orderedCIDs: ordered,
		merkleRoot:  root,
		agg:         agg,
	}
	s.candidates[bodyID] = cand
	return cand, nil
}

// checkCandidate assembles the certificate once a candidate order holds
// threshold shares.
func (c *Core) checkCandidate(s *session, cand *candidate) error {
	if !cand.agg.EnoughShares() {
		return nil
	}
	signers, aggSig, err := cand.agg.Aggregate()
	if err != nil {
		return fmt.Errorf("could not aggregate certificate signature for epoch %d: %w", s.epoch.ID, err)
	}
	cert := &umbra.OrderingCertificate{
		EpochID:       s.epoch.ID,
		OrderedCIDs:   cand.orderedCIDs,
		MerkleRoot:    cand.merkleRoot,
		SignerIndices: signers,
		AggSignature:  aggSig,
	}
	return c.finalize(s, cert, true)
}

// finalize persists the certificate, tears down the session, announces
// the certificate when assembled locally, and notifies the consumer.
func (c *Core) finalize(s *session, cert *umbra.OrderingCertificate, assembled bool) error {
	err := c.certificates.Store(cert)
	if errors.Is(err, storage.ErrDataMismatch) {
		// a second, different certificate for one epoch breaks the
		// protocol's core safety guarantee
		return fmt.Errorf("conflicting ordering certificate for epoch %d: %w", cert.EpochID, err)
	}
	if err != nil {
		return fmt.Errorf("could not store certificate for epoch %d: %w", cert.EpochID, err)
	}

	delete(c.sessions, cert.EpochID)
	delete(c.pending, cert.EpochID)

	if assembled {
		ann := &messages.CertificateAnnounce{
			MemberIdx:   c.me.Index(),
			Certificate: cert,
		}
		sig, err := c.me.Sign(signature.CertificateAnnounceTag, ann.SignedPayload())
		if err != nil {
			return fmt.Errorf("could not sign certificate announce: %w", err)
		}
		ann.Signature = sig
		err = c.con.Publish(ann)
		if err != nil {
			c.log.Warn().Err(err).Uint64("epoch", cert.EpochID).Msg("could not publish certificate announce")
		}
		c.engMetrics.MessageSent(metrics.EngineOrdering, metrics.MessageCertificateAnnounce)
	}

	c.log.Info().
		Uint64("epoch", cert.EpochID).
		Int("batch_size", len(cert.OrderedCIDs)).
		Ints("signers", cert.SignerIndices).
		Bool("assembled_locally", assembled).
		Msg("ordering certificate final")

	c.consumer.OnOrderingCertificate(cert)
	return nil
}

// park buffers a message for an epoch ahead of our seal. Messages for
// epochs at or behind the latest started session are stale and dropped.
func (c *Core) park(epochID uint64, originID umbra.Identifier, event interface{}, messageType string) {
	if epochID <= c.highestStarted {
		c.log.Debug().Uint64("epoch", epochID).Str("message", messageType).Msg("dropping stale ordering message")
		c.engMetrics.InboundMessageDropped(metrics.EngineOrdering, messageType)
		return
	}
	buf := c.pending[epochID]
	if len(buf) >= pendingMessageLimit {
		c.engMetrics.InboundMessageDropped(metrics.EngineOrdering, messageType)
		return
	}
	if _, ok := c.pending[epochID]; !ok && len(c.pending) >= pendingEpochLimit {
		c.engMetrics.InboundMessageDropped(metrics.EngineOrdering, messageType)
		return
	}
	c.pending[epochID] = append(buf, inbound{originID: originID, event: event})
}

// replayPending re-dispatches messages parked for the epoch and prunes
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
		var err error
		switch ev := in.event.(type) {
		case *messages.ArrivalVector:
			err = c.OnArrivalVector(in.originID, ev)
		case *messages.OrderingProposal:
			err = c.OnOrderingProposal(in.originID, ev)
		case *messages.CertificateAnnounce:
			err = c.OnCertificateAnnounce(in.originID, ev)
		}
		if err != nil {
			return err
		}
		// the session can finalize mid-replay, the rest is stale then
		if _, ok := c.sessions[epochID]; !ok {
			return nil
		}
	}
	return nil
}
