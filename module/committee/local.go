package committee

import (
	"fmt"

	"github.com/umbra-net/umbra-go/crypto/authsig"
	"github.com/umbra-net/umbra-go/crypto/thresholdenc"
	"github.com/umbra-net/umbra-go/crypto/thresholdsig"
	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module"
)

// Local holds this member's identity and private key shares.
type Local struct {
	member   umbra.Member
	encShare thresholdenc.KeyShare
	sigShare thresholdsig.KeyShare
	authKey  *authsig.KeyPair
}

var _ module.Local = (*Local)(nil)

// NewLocal binds the member record to its private key material. The
// key shares must carry the member's own index.
func NewLocal(
	member umbra.Member,
	encShare thresholdenc.KeyShare,
	sigShare thresholdsig.KeyShare,
	authKey *authsig.KeyPair,
) (*Local, error) {
	if encShare.Index != member.Index || sigShare.Index != member.Index {
		return nil, fmt.Errorf("key share index does not match member index %d", member.Index)
	}
	return &Local{
		member:   member,
		encShare: encShare,
		sigShare: sigShare,
		authKey:  authKey,
	}, nil
}

func (l *Local) NodeID() umbra.Identifier {
	return l.member.NodeID
}

func (l *Local) Index() int {
	return l.member.Index
}

func (l *Local) Sign(tag string, msg []byte) ([]byte, error) {
	return authsig.Sign(l.authKey.Private, tag, msg)
}

func (l *Local) SignOrderingShare(msg []byte) ([]byte, error) {
	return thresholdsig.SignShare(l.sigShare, msg)
}

func (l *Local) DecryptionShare(ct *thresholdenc.Ciphertext) (*thresholdenc.PartialShare, error) {
	return thresholdenc.PartialDecrypt(l.encShare, ct)
}
