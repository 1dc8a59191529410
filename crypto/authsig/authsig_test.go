package authsig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	kp, err := GenerateKey()
	require.NoError(t, err)

	msg := []byte("cancel commitment 42")
	sig, err := Sign(kp.Private, "tag-a", msg)
	require.NoError(t, err)

	require.NoError(t, Verify(kp.Public, "tag-a", msg, sig))

	t.Run("wrong message", func(t *testing.T) {
		err := Verify(kp.Public, "tag-a", []byte("other"), sig)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := GenerateKey()
		require.NoError(t, err)
		err = Verify(other.Public, "tag-a", msg, sig)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})
}

// A signature under one domain tag must not verify under another.
func TestDomainSeparation(t *testing.T) {
	kp, err := GenerateKey()
	require.NoError(t, err)

	msg := []byte("payload")
	sig, err := Sign(kp.Private, "tag-a", msg)
	require.NoError(t, err)

	err = Verify(kp.Public, "tag-b", msg, sig)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyBadKeyEncoding(t *testing.T) {
	kp, err := GenerateKey()
	require.NoError(t, err)
	sig, err := Sign(kp.Private, "tag", []byte("msg"))
	require.NoError(t, err)

	err = Verify([]byte{0x01}, "tag", []byte("msg"), sig)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidSignature)
}
