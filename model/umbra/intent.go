package umbra

import (
	"time"
)

// Intent is the wallet-signed envelope a user submits for protected
// inclusion. The payload is still plaintext at this point; it is sealed
// into a Commitment during admission and the plaintext never leaves the
// admitting node.
type Intent struct {
	// SenderKey is the sender's public authentication key. The pipeline
	// never learns or records an on-chain address; senders are known
	// only by the fingerprint of this key.
	SenderKey []byte
	// Nonce orders and deduplicates intents per sender.
	Nonce uint64
	// Payload is the opaque transaction payload to protect.
	Payload []byte
	// FeeBid is the sender's priority bid, in gwei. Higher bids order
	// earlier within an epoch.
	FeeBid uint64
	// Deadline is the latest time the sender wants the payload
	// published. Expired intents are dropped, never published.
	Deadline time.Time
	// Hints optionally carries sender-declared fields for risk
	// classification of payloads the pipeline cannot decode itself.
	Hints *ClassifierHints
}

// ClassifierHints are optional sender-declared features for payloads
// that are not self-describing. Hints can only make classification
// stricter, never bypass it: a missing or implausible hint falls back
// to the conservative default for that feature.
type ClassifierHints struct {
	// GasPrice in gwei.
	GasPrice uint64
	// Value transferred, in gwei.
	Value uint64
	// To is the destination contract address, if known.
	To []byte
}

// Fingerprint returns the sender pseudonym: the hash of the sender's
// public key. This is the only sender identity the pipeline stores.
func (in *Intent) Fingerprint() Identifier {
	return MakeIDFromData(in.SenderKey)
}

// Body returns the envelope fields covered by the sender's signature.
func (in Intent) Body() interface{} {
	return struct {
		SenderKey []byte
		Nonce     uint64
		Payload   []byte
		FeeBid    uint64
		Deadline  time.Time
	}{
		SenderKey: in.SenderKey,
		Nonce:     in.Nonce,
		Payload:   in.Payload,
		FeeBid:    in.FeeBid,
		Deadline:  in.Deadline,
	}
}

func (in Intent) ID() Identifier {
	return MakeID(in.Body())
}

func (in Intent) Checksum() Identifier {
	return MakeID(in)
}
