// Package thresholdsig wraps (t, n) threshold BLS signatures for
// ordering certificates. Each committee member signs the canonical
// certificate body with its key share; any t valid signature shares
// recover a single compact group signature that verifies against the
// committee's public polynomial commitment.
package thresholdsig

import (
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/share"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/sign/tbls"
)

var (
	// ErrInvalidSignature is returned when a signature share or an
	// aggregate signature fails verification.
	ErrInvalidSignature = errors.New("invalid threshold signature")

	// ErrInsufficientShares is returned when fewer than t signature
	// shares are available for recovery.
	ErrInsufficientShares = errors.New("insufficient signature shares")
)

var suite = bn256.NewSuite()

// KeyShare is one member's private signing share.
type KeyShare struct {
	Index int
	Value []byte
}

// DealerOutput is the result of a trusted-dealer split of the committee
// signing key.
type DealerOutput struct {
	Commitments [][]byte // public polynomial commitments, length t
	Shares      []KeyShare
}

// Deal splits a fresh random signing key into n shares with threshold t.
func Deal(t, n int) (*DealerOutput, error) {
	if t < 1 || n < t {
		return nil, fmt.Errorf("invalid threshold parameters t=%d n=%d", t, n)
	}

	priPoly := share.NewPriPoly(suite.G2(), t, nil, suite.RandomStream())
	pubPoly := priPoly.Commit(suite.G2().Point().Base())

	out := &DealerOutput{}
	_, commits := pubPoly.Info()
	for _, c := range commits {
		b, err := c.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("could not marshal commitment: %w", err)
		}
		out.Commitments = append(out.Commitments, b)
	}
	for _, ps := range priPoly.Shares(n) {
		v, err := ps.V.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("could not marshal share %d: %w", ps.I, err)
		}
		out.Shares = append(out.Shares, KeyShare{Index: ps.I, Value: v})
	}
	return out, nil
}

// SignShare produces the member's signature share over the message.
func SignShare(keyShare KeyShare, msg []byte) ([]byte, error) {
	v := suite.G2().Scalar()
	if err := v.UnmarshalBinary(keyShare.Value); err != nil {
		return nil, fmt.Errorf("could not decode key share: %w", err)
	}
	return tbls.Sign(suite, &share.PriShare{I: keyShare.Index, V: v}, msg)
}

// ShareIndex extracts the signer index a signature share claims.
func ShareIndex(sigShare []byte) (int, error) {
	idx, err := tbls.SigShare(sigShare).Index()
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	return idx, nil
}

// Verifier verifies signature shares and recovers aggregate signatures
// for one committee configuration.
type Verifier struct {
	pub *share.PubPoly
	t   int
	n   int
}

// NewVerifier reconstructs the public polynomial from its serialized
// commitments.
func NewVerifier(commitments [][]byte, t, n int) (*Verifier, error) {
	if len(commitments) != t {
		return nil, fmt.Errorf("expected %d commitments, got %d", t, len(commitments))
	}
	commits := make([]kyber.Point, 0, len(commitments))
	for i, b := range commitments {
		p := suite.G2().Point()
		if err := p.UnmarshalBinary(b); err != nil {
			return nil, fmt.Errorf("could not decode commitment %d: %w", i, err)
		}
		commits = append(commits, p)
	}
	pub := share.NewPubPoly(suite.G2(), suite.G2().Point().Base(), commits)
	return &Verifier{pub: pub, t: t, n: n}, nil
}

// VerifyShare checks a single signature share over the message and
// returns the contributing signer index. Returns ErrInvalidSignature
// when the share does not verify.
func (v *Verifier) VerifyShare(msg, sigShare []byte) (int, error) {
	idx, err := ShareIndex(sigShare)
	if err != nil {
		return 0, err
	}
	if err := tbls.Verify(suite, v.pub, msg, sigShare); err != nil {
		return 0, fmt.Errorf("%w: share %d: %s", ErrInvalidSignature, idx, err)
	}
	return idx, nil
}

// Recover combines t or more verified signature shares into the group
// signature.
func (v *Verifier) Recover(msg []byte, sigShares [][]byte) ([]byte, error) {
	if len(sigShares) < v.t {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientShares, len(sigShares), v.t)
	}
	sig, err := tbls.Recover(suite, v.pub, msg, sigShares, v.t, v.n)
	if err != nil {
		return nil, fmt.Errorf("could not recover group signature: %w", err)
	}
	return sig, nil
}

// VerifyAggregate checks a recovered group signature against the
// committee public key.
func (v *Verifier) VerifyAggregate(msg, sig []byte) error {
	if err := bls.Verify(suite, v.pub.Commit(), msg, sig); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	return nil
}
