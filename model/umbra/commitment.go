package umbra

import (
	"time"

	"github.com/umbra-net/umbra-go/crypto/thresholdenc"
)

// Commitment is the sealed form of an intent inside an epoch batch.
// From admission until decryption the pipeline sees only this: an
// opaque ciphertext plus the minimal plaintext metadata ordering
// requires. The commitment identifier covers the ciphertext, the
// sender fingerprint and the nonce; arrival metadata and the fee bid
// are deliberately outside the identifier so re-observations of the
// same sealed intent map to the same CID.
type Commitment struct {
	EpochID           uint64
	Ciphertext        *thresholdenc.Ciphertext
	FeeBid            uint64
	Deadline          time.Time
	ArrivalTS         time.Time
	SenderFingerprint Identifier
	Nonce             uint64
}

// Body returns the fields covered by the commitment identifier.
func (c Commitment) Body() interface{} {
	return struct {
		Ciphertext        *thresholdenc.Ciphertext
		SenderFingerprint Identifier
		Nonce             uint64
	}{
		Ciphertext:        c.Ciphertext,
		SenderFingerprint: c.SenderFingerprint,
		Nonce:             c.Nonce,
	}
}

// ID returns the commitment identifier (CID).
func (c Commitment) ID() Identifier {
	return MakeID(c.Body())
}

func (c Commitment) Checksum() Identifier {
	return MakeID(c)
}

// CancelRequest is a wallet-signed request to withdraw a commitment
// before its epoch seals. The signature must verify under the same key
// whose fingerprint the commitment carries.
type CancelRequest struct {
	CommitID  Identifier
	SenderKey []byte
	Signature []byte
}

// SignedPayload returns the bytes covered by the cancellation signature.
func (cr *CancelRequest) SignedPayload() []byte {
	return cr.CommitID[:]
}
