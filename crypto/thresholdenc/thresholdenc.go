// Package thresholdenc implements the (t, n) threshold encryption scheme
// protecting queued payloads until their position is final.
//
// The construction is an ElGamal-style KEM over edwards25519 with a
// ChaCha20-Poly1305 payload box. A payload is sealed under the committee
// public key PK = s*G where the secret s is Shamir-shared among the n
// committee members. No member ever holds s: decryption requires t
// members to each publish a partial share U_i = x_i*C1 together with a
// DLEQ proof that U_i was computed with the member's committed key
// share. Any t verified shares recover the KEM point via Lagrange
// interpolation in the exponent and open the box.
//
// Ciphertexts are bound to the epoch they were submitted in: the epoch
// number is both mixed into the KDF and passed as AEAD associated data,
// so a ciphertext replayed into a different epoch fails to open.
package thresholdenc

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/proof/dleq"
	"go.dedis.ch/kyber/v3/share"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrMalformedCiphertext is returned when a ciphertext fails structural
	// validation (bad point encoding, truncated box, missing epoch binding).
	ErrMalformedCiphertext = errors.New("malformed ciphertext")

	// ErrMalformedShare is returned when a decryption share fails structural
	// validation or its well-formedness proof does not verify.
	ErrMalformedShare = errors.New("malformed decryption share")

	// ErrInsufficientShares is returned when fewer than t shares are
	// available for combination.
	ErrInsufficientShares = errors.New("insufficient decryption shares")

	// ErrDecryptionFailed is returned when t shares combine to a key that
	// does not open the payload box. This indicates inconsistent shares or
	// a garbled ciphertext that passed structural checks.
	ErrDecryptionFailed = errors.New("combined shares failed to decrypt payload")
)

var suite = edwards25519.NewBlakeSHA256Ed25519()

const kdfInfo = "umbra-threshold-kem-v1"

// KeyShare is one member's private share of the committee decryption key.
type KeyShare struct {
	Index int
	Value []byte // scalar x_i
}

// DealerOutput is the result of a trusted-dealer key split. The public
// parts are distributed with the committee view; each KeyShare goes to
// exactly one member.
type DealerOutput struct {
	PublicKey    []byte     // PK = s*G, the committee encryption key
	PublicShares [][]byte   // X_i = x_i*G per member, for share verification
	Shares       []KeyShare // private shares, one per member
}

// Deal splits a fresh random secret into n shares with reconstruction
// threshold t. It stands in for a distributed key generation ceremony,
// which is run out-of-band in production deployments.
func Deal(t, n int) (*DealerOutput, error) {
	if t < 1 || n < t {
		return nil, fmt.Errorf("invalid threshold parameters t=%d n=%d", t, n)
	}

	priPoly := share.NewPriPoly(suite, t, nil, suite.RandomStream())
	pubPoly := priPoly.Commit(suite.Point().Base())

	pk, err := pubPoly.Commit().MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not marshal public key: %w", err)
	}

	out := &DealerOutput{PublicKey: pk}
	for _, ps := range priPoly.Shares(n) {
		v, err := ps.V.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("could not marshal private share %d: %w", ps.I, err)
		}
		out.Shares = append(out.Shares, KeyShare{Index: ps.I, Value: v})

		x, err := pubPoly.Eval(ps.I).V.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("could not marshal public share %d: %w", ps.I, err)
		}
		out.PublicShares = append(out.PublicShares, x)
	}
	return out, nil
}

// Ciphertext is a sealed payload bound to a single epoch.
type Ciphertext struct {
	Kem   []byte // C1 = r*G
	Nonce []byte // AEAD nonce
	Box   []byte // sealed payload
	Epoch uint64 // epoch the ciphertext decrypts in
}

// Encrypt seals the plaintext under the committee public key, bound to
// the given epoch.
func Encrypt(publicKey []byte, plaintext []byte, epoch uint64) (*Ciphertext, error) {
	pk := suite.Point()
	if err := pk.UnmarshalBinary(publicKey); err != nil {
		return nil, fmt.Errorf("could not decode public key: %w", err)
	}

	r := suite.Scalar().Pick(suite.RandomStream())
	kem := suite.Point().Mul(r, nil)
	shared := suite.Point().Mul(r, pk)

	key, err := deriveKey(shared, epoch)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("could not construct aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	suite.RandomStream().XORKeyStream(nonce, nonce)

	kemBytes, err := kem.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not marshal kem point: %w", err)
	}

	return &Ciphertext{
		Kem:   kemBytes,
		Nonce: nonce,
		Box:   aead.Seal(nil, nonce, plaintext, epochAD(epoch)),
		Epoch: epoch,
	}, nil
}

// ShareProof is the DLEQ transcript proving that a partial share was
// derived with the member's committed key share.
type ShareProof struct {
	C  []byte
	R  []byte
	VG []byte
	VH []byte
}

// PartialShare is one member's contribution towards decrypting a single
// ciphertext.
type PartialShare struct {
	Index int
	Value []byte // U_i = x_i*C1
	Proof ShareProof
}

// PartialDecrypt computes the member's decryption share for the given
// ciphertext, with a proof of well-formedness.
func PartialDecrypt(keyShare KeyShare, ct *Ciphertext) (*PartialShare, error) {
	x := suite.Scalar()
	if err := x.UnmarshalBinary(keyShare.Value); err != nil {
		return nil, fmt.Errorf("could not decode key share: %w", err)
	}
	c1, err := decodeKem(ct)
	if err != nil {
		return nil, err
	}

	proof, _, u, err := dleq.NewDLEQProof(suite, suite.Point().Base(), c1, x)
	if err != nil {
		return nil, fmt.Errorf("could not construct share proof: %w", err)
	}

	value, err := u.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not marshal share point: %w", err)
	}
	encProof, err := encodeProof(proof)
	if err != nil {
		return nil, err
	}

	return &PartialShare{
		Index: keyShare.Index,
		Value: value,
		Proof: *encProof,
	}, nil
}

// VerifyShare checks a partial share against the member's public share
// commitment X_i. A share that fails this check must be discarded and
// never passed to Combine. Returns ErrMalformedShare when verification
// fails.
func VerifyShare(publicShare []byte, ct *Ciphertext, ps *PartialShare) error {
	xi := suite.Point()
	if err := xi.UnmarshalBinary(publicShare); err != nil {
		return fmt.Errorf("could not decode public share: %w", err)
	}
	c1, err := decodeKem(ct)
	if err != nil {
		return err
	}

	u := suite.Point()
	if err := u.UnmarshalBinary(ps.Value); err != nil {
		return fmt.Errorf("%w: bad share point: %s", ErrMalformedShare, err)
	}
	proof, err := decodeProof(&ps.Proof)
	if err != nil {
		return err
	}

	if err := proof.Verify(suite, suite.Point().Base(), c1, xi, u); err != nil {
		return fmt.Errorf("%w: proof verification failed", ErrMalformedShare)
	}
	return nil
}

// Combine recovers the plaintext from t or more verified partial shares.
// All shares passed in must have been individually verified with
// VerifyShare; Combine trusts their proofs.
//
// Error returns are expected and benign:
//   - ErrInsufficientShares if fewer than t shares are provided
//   - ErrMalformedShare if a share point cannot be decoded
//   - ErrDecryptionFailed if the recovered key does not open the box
func Combine(ct *Ciphertext, shares []*PartialShare, t, n int) ([]byte, error) {
	if len(shares) < t {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientShares, len(shares), t)
	}

	pubShares := make([]*share.PubShare, 0, len(shares))
	for _, ps := range shares {
		v := suite.Point()
		if err := v.UnmarshalBinary(ps.Value); err != nil {
			return nil, fmt.Errorf("%w: bad share point at index %d: %s", ErrMalformedShare, ps.Index, err)
		}
		pubShares = append(pubShares, &share.PubShare{I: ps.Index, V: v})
	}

	shared, err := share.RecoverCommit(suite, pubShares, t, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientShares, err)
	}

	key, err := deriveKey(shared, ct.Epoch)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("could not construct aead: %w", err)
	}
	if len(ct.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length %d", ErrMalformedCiphertext, len(ct.Nonce))
	}

	plaintext, err := aead.Open(nil, ct.Nonce, ct.Box, epochAD(ct.Epoch))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Validate performs the structural checks on a ciphertext that admission
// applies before accepting a commitment: point decodes, nonce length,
// non-empty box, epoch binding present.
func (ct *Ciphertext) Validate(epoch uint64) error {
	if ct == nil {
		return fmt.Errorf("%w: nil ciphertext", ErrMalformedCiphertext)
	}
	if ct.Epoch != epoch {
		return fmt.Errorf("%w: bound to epoch %d, expected %d", ErrMalformedCiphertext, ct.Epoch, epoch)
	}
	if _, err := decodeKem(ct); err != nil {
		return err
	}
	if len(ct.Nonce) != chacha20poly1305.NonceSize {
		return fmt.Errorf("%w: bad nonce length %d", ErrMalformedCiphertext, len(ct.Nonce))
	}
	// the box carries at minimum the AEAD tag
	if len(ct.Box) < 16 {
		return fmt.Errorf("%w: truncated box", ErrMalformedCiphertext)
	}
	return nil
}

func decodeKem(ct *Ciphertext) (kyber.Point, error) {
	c1 := suite.Point()
	if err := c1.UnmarshalBinary(ct.Kem); err != nil {
		return nil, fmt.Errorf("%w: bad kem point: %s", ErrMalformedCiphertext, err)
	}
	return c1, nil
}

func deriveKey(shared kyber.Point, epoch uint64) ([]byte, error) {
	secret, err := shared.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not marshal shared point: %w", err)
	}
	info := append([]byte(kdfInfo), epochAD(epoch)...)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, info), key); err != nil {
		return nil, fmt.Errorf("could not derive key: %w", err)
	}
	return key, nil
}

func epochAD(epoch uint64) []byte {
	ad := make([]byte, 8)
	binary.BigEndian.PutUint64(ad, epoch)
	return ad
}

func encodeProof(p *dleq.Proof) (*ShareProof, error) {
	c, err := p.C.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not marshal proof challenge: %w", err)
	}
	r, err := p.R.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not marshal proof response: %w", err)
	}
	vg, err := p.VG.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not marshal proof commitment: %w", err)
	}
	vh, err := p.VH.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not marshal proof commitment: %w", err)
	}
	return &ShareProof{C: c, R: r, VG: vg, VH: vh}, nil
}

func decodeProof(sp *ShareProof) (*dleq.Proof, error) {
	p := &dleq.Proof{
		C:  suite.Scalar(),
		R:  suite.Scalar(),
		VG: suite.Point(),
		VH: suite.Point(),
	}
	if err := p.C.UnmarshalBinary(sp.C); err != nil {
		return nil, fmt.Errorf("%w: bad proof challenge", ErrMalformedShare)
	}
	if err := p.R.UnmarshalBinary(sp.R); err != nil {
		return nil, fmt.Errorf("%w: bad proof response", ErrMalformedShare)
	}
	if err := p.VG.UnmarshalBinary(sp.VG); err != nil {
		return nil, fmt.Errorf("%w: bad proof commitment", ErrMalformedShare)
	}
	if err := p.VH.UnmarshalBinary(sp.VH); err != nil {
		return nil, fmt.Errorf("%w: bad proof commitment", ErrMalformedShare)
	}
	return p, nil
}
