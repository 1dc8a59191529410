package umbra

import (
	"fmt"
)

// Member is one committee member's public record within a view.
type Member struct {
	// Index is the member's share index with the dealer/DKG.
	Index int
	// NodeID identifies the member on the committee transport.
	NodeID Identifier
	// AuthKey is the member's Schnorr public key for message
	// authentication.
	AuthKey []byte
	// ShareCommit is the member's public decryption share commitment
	// X_i, against which decryption shares are verified.
	ShareCommit []byte
}

// CommitteeView is the full public configuration of a decryptor
// committee: membership, threshold, and the committee-wide keys. A
// view is immutable; rotation produces a new view with a new ID, and
// every epoch pins exactly one view.
type CommitteeView struct {
	Members []Member
	// Threshold is t: the number of members required to decrypt, to
	// certify an ordering, and to reconcile arrival timestamps.
	Threshold int
	// EncryptionKey is the committee threshold encryption public key
	// PK that wallets seal payloads under.
	EncryptionKey []byte
	// SigCommitments are the public polynomial commitments for the
	// committee's threshold signing key.
	SigCommitments [][]byte
}

// ID returns the view identifier, pinning the exact membership and keys.
func (v CommitteeView) ID() Identifier {
	return MakeID(v)
}

func (v CommitteeView) Checksum() Identifier {
	return MakeID(v)
}

// Size returns n, the committee size.
func (v *CommitteeView) Size() int {
	return len(v.Members)
}

// Member looks a member up by share index.
func (v *CommitteeView) Member(index int) (*Member, error) {
	for i := range v.Members {
		if v.Members[i].Index == index {
			return &v.Members[i], nil
		}
	}
	return nil, fmt.Errorf("no member with index %d in view", index)
}

// MemberByNodeID looks a member up by transport identity.
func (v *CommitteeView) MemberByNodeID(nodeID Identifier) (*Member, error) {
	for i := range v.Members {
		if v.Members[i].NodeID == nodeID {
			return &v.Members[i], nil
		}
	}
	return nil, fmt.Errorf("node %v is not a member of view", nodeID)
}

// NodeIDs returns the transport identities of all members.
func (v *CommitteeView) NodeIDs() IdentifierList {
	ids := make(IdentifierList, 0, len(v.Members))
	for i := range v.Members {
		ids = append(ids, v.Members[i].NodeID)
	}
	return ids
}
