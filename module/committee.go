package module

import (
	"github.com/umbra-net/umbra-go/crypto/thresholdenc"
	"github.com/umbra-net/umbra-go/model/umbra"
)

// CommitteeState provides committee views to the pipeline. Views are
// immutable; the current view only changes on out-of-band rotation.
type CommitteeState interface {

	// Current returns the active committee view.
	Current() *umbra.CommitteeView

	// ByID returns the view with the given identifier, for validating
	// artifacts from epochs pinned to older views. Returns
	// storage.ErrNotFound for unknown views.
	ByID(viewID umbra.Identifier) (*umbra.CommitteeView, error)
}

// Local encapsulates this node's committee identity and private key
// material. All signing and partial decryption goes through here; the
// raw key shares never leave the implementation.
type Local interface {

	// NodeID is this member's transport identity.
	NodeID() umbra.Identifier

	// Index is this member's share index.
	Index() int

	// Sign authenticates a committee message under the domain tag.
	Sign(tag string, msg []byte) ([]byte, error)

	// SignOrderingShare produces this member's threshold signature
	// share over a certificate body.
	SignOrderingShare(msg []byte) ([]byte, error)

	// DecryptionShare computes this member's partial decryption of a
	// ciphertext, with its proof of well-formedness.
	DecryptionShare(ct *thresholdenc.Ciphertext) (*thresholdenc.PartialShare, error)
}
