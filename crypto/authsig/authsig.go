// Package authsig provides Schnorr signatures over edwards25519 for
// member-to-member message authentication and wallet-signed requests.
// Signed bytes are always prefixed with a domain separation tag so a
// signature over one message kind cannot be replayed as another.
package authsig

import (
	"errors"
	"fmt"

	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/sign/schnorr"
)

// ErrInvalidSignature is returned when signature verification fails.
var ErrInvalidSignature = errors.New("invalid signature")

var suite = edwards25519.NewBlakeSHA256Ed25519()

// KeyPair is a Schnorr signing key pair with serialized keys.
type KeyPair struct {
	Private []byte
	Public  []byte
}

// GenerateKey creates a fresh signing key pair.
func GenerateKey() (*KeyPair, error) {
	priv := suite.Scalar().Pick(suite.RandomStream())
	pub := suite.Point().Mul(priv, nil)

	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not marshal private key: %w", err)
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not marshal public key: %w", err)
	}
	return &KeyPair{Private: privBytes, Public: pubBytes}, nil
}

// Sign signs the message under the given domain tag.
func Sign(private []byte, tag string, msg []byte) ([]byte, error) {
	priv := suite.Scalar()
	if err := priv.UnmarshalBinary(private); err != nil {
		return nil, fmt.Errorf("could not decode private key: %w", err)
	}
	return schnorr.Sign(suite, priv, taggedMessage(tag, msg))
}

// Verify checks the signature over the message under the given domain
// tag. Returns ErrInvalidSignature when the signature does not verify.
func Verify(public []byte, tag string, msg, sig []byte) error {
	pub := suite.Point()
	if err := pub.UnmarshalBinary(public); err != nil {
		return fmt.Errorf("could not decode public key: %w", err)
	}
	if err := schnorr.Verify(suite, pub, taggedMessage(tag, msg), sig); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	return nil
}

func taggedMessage(tag string, msg []byte) []byte {
	tagged := make([]byte, 0, len(tag)+len(msg))
	tagged = append(tagged, tag...)
	return append(tagged, msg...)
}
