// Package messages holds the committee protocol messages exchanged
// between pipeline members. Every message is authenticated: the schnorr
// signature covers the canonical encoding of the message body under the
// message kind's domain tag, and bodies carry both the epoch and the
// committee view so a message can never be replayed across epochs or
// membership changes.
package messages

import (
	"github.com/umbra-net/umbra-go/crypto/thresholdenc"
	"github.com/umbra-net/umbra-go/model/encoding"
	"github.com/umbra-net/umbra-go/model/umbra"
)

// CommitmentGossip replicates a freshly admitted commitment to all
// committee members. Each receiving member records its own local
// arrival timestamp for the commitment.
type CommitmentGossip struct {
	Commitment *umbra.Commitment
}

// CancelGossip replicates a verified pre-seal cancellation.
type CancelGossip struct {
	EpochID uint64
	Cancel  *umbra.CancelRequest
}

// ArrivalVector is one member's observed arrival timestamps for an
// epoch's sealed commitment set. CIDs and ArrivalNanos are parallel
// arrays; CIDs are in the member's local arrival order.
type ArrivalVector struct {
	EpochID      uint64
	ViewID       umbra.Identifier
	MemberIdx    int
	CIDs         umbra.IdentifierList
	ArrivalNanos []int64
	Signature    []byte
}

// Body returns the signed portion of the message.
func (av ArrivalVector) Body() interface{} {
	return struct {
		EpochID      uint64
		ViewID       umbra.Identifier
		MemberIdx    int
		CIDs         umbra.IdentifierList
		ArrivalNanos []int64
	}{av.EpochID, av.ViewID, av.MemberIdx, av.CIDs, av.ArrivalNanos}
}

// SignedPayload returns the canonical bytes the signature covers.
func (av ArrivalVector) SignedPayload() []byte {
	return encoding.DefaultEncoder.MustEncode(av.Body())
}

// OrderingProposal is one member's signed proposal of the canonical
// publication order for an epoch. The SigShare is the member's
// threshold signature share over the certificate body; t matching
// shares recover the certificate's aggregate signature.
type OrderingProposal struct {
	EpochID     uint64
	ViewID      umbra.Identifier
	MemberIdx   int
	OrderedCIDs umbra.IdentifierList
	MerkleRoot  umbra.Identifier
	SigShare    []byte
	Signature   []byte
}

func (op OrderingProposal) Body() interface{} {
	return struct {
		EpochID     uint64
		ViewID      umbra.Identifier
		MemberIdx   int
		OrderedCIDs umbra.IdentifierList
		MerkleRoot  umbra.Identifier
		SigShare    []byte
	}{op.EpochID, op.ViewID, op.MemberIdx, op.OrderedCIDs, op.MerkleRoot, op.SigShare}
}

func (op OrderingProposal) SignedPayload() []byte {
	return encoding.DefaultEncoder.MustEncode(op.Body())
}

// CertificateAnnounce acknowledges agreement: the sender assembled t
// matching proposals and recovered the aggregate certificate
// signature. Members finalize their epoch on the first announce that
// verifies.
type CertificateAnnounce struct {
	MemberIdx   int
	Certificate *umbra.OrderingCertificate
	Signature   []byte
}

func (ca CertificateAnnounce) Body() interface{} {
	return struct {
		MemberIdx   int
		Certificate *umbra.OrderingCertificate
	}{ca.MemberIdx, ca.Certificate}
}

func (ca CertificateAnnounce) SignedPayload() []byte {
	return encoding.DefaultEncoder.MustEncode(ca.Body())
}

// DecryptionShareMsg carries one member's partial decryption share for
// a single commitment, published only after the member holds a final
// ordering certificate for the epoch.
type DecryptionShareMsg struct {
	EpochID   uint64
	ViewID    umbra.Identifier
	MemberIdx int
	CommitID  umbra.Identifier
	Share     *thresholdenc.PartialShare
	Signature []byte
}

func (ds DecryptionShareMsg) Body() interface{} {
	return struct {
		EpochID   uint64
		ViewID    umbra.Identifier
		MemberIdx int
		CommitID  umbra.Identifier
		Share     *thresholdenc.PartialShare
	}{ds.EpochID, ds.ViewID, ds.MemberIdx, ds.CommitID, ds.Share}
}

func (ds DecryptionShareMsg) SignedPayload() []byte {
	return encoding.DefaultEncoder.MustEncode(ds.Body())
}
