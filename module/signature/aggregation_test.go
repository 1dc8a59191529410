package signature

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbra-net/umbra-go/crypto/thresholdsig"
	"github.com/umbra-net/umbra-go/utils/unittest"
)

// createAggregationData deals a committee and produces every member's
// signature share over one certificate message.
func createAggregationData(t *testing.T, threshold, size int) (*CertificateAggregator, [][]byte, []byte) {
	view, keys := unittest.CommitteeFixture(threshold, size)

	msg := CertificateMessage(1, unittest.IdentifierListFixture(3), unittest.IdentifierFixture())
	aggregator, err := NewCertificateAggregator(view, msg)
	require.NoError(t, err)

	shares := make([][]byte, 0, size)
	for _, k := range keys {
		share, err := thresholdsig.SignShare(k.SigShare, msg)
		require.NoError(t, err)
		shares = append(shares, share)
	}
	return aggregator, shares, msg
}

func TestCertificateAggregator(t *testing.T) {
	aggregator, shares, _ := createAggregationData(t, 3, 5)

	t.Run("verify yields the signer index", func(t *testing.T) {
		for i, share := range shares {
			idx, err := aggregator.Verify(share)
			require.NoError(t, err)
			assert.Equal(t, i, idx)
		}
	})

	t.Run("tampered share fails verification", func(t *testing.T) {
		bad := append([]byte{}, shares[0]...)
		bad[len(bad)-1] ^= 1
		_, err := aggregator.Verify(bad)
		require.Error(t, err)
		assert.True(t, errors.Is(err, thresholdsig.ErrInvalidSignature))
	})

	t.Run("below threshold aggregation fails", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			_, err := aggregator.TrustedAdd(i, shares[i])
			require.NoError(t, err)
		}
		assert.False(t, aggregator.EnoughShares())
		_, _, err := aggregator.Aggregate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInsufficientShares))
	})

	t.Run("duplicate signer is rejected", func(t *testing.T) {
		_, err := aggregator.TrustedAdd(1, shares[1])
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDuplicatedSigner))
	})

	t.Run("threshold reached recovers a verifying signature", func(t *testing.T) {
		count, err := aggregator.TrustedAdd(4, shares[4])
		require.NoError(t, err)
		assert.Equal(t, 3, count)
		assert.True(t, aggregator.EnoughShares())

		signers, _, err := aggregator.Aggregate()
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 4}, signers)
	})
}

func TestVerifyCertificate(t *testing.T) {
	view, keys := unittest.CommitteeFixture(2, 3)

	cids := unittest.IdentifierListFixture(4)
	root := unittest.IdentifierFixture()
	msg := CertificateMessage(7, cids, root)

	aggregator, err := NewCertificateAggregator(view, msg)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		share, err := thresholdsig.SignShare(keys[i].SigShare, msg)
		require.NoError(t, err)
		idx, err := aggregator.Verify(share)
		require.NoError(t, err)
		_, err = aggregator.TrustedAdd(idx, share)
		require.NoError(t, err)
	}
	signers, aggSig, err := aggregator.Aggregate()
	require.NoError(t, err)

	cert := unittest.CertificateFixture(7, cids)
	cert.MerkleRoot = root
	cert.SignerIndices = signers
	cert.AggSignature = aggSig
	require.NoError(t, VerifyCertificate(view, cert))

	t.Run("wrong view fails", func(t *testing.T) {
		otherView, _ := unittest.CommitteeFixture(2, 3)
		require.Error(t, VerifyCertificate(otherView, cert))
	})

	t.Run("tampered order fails", func(t *testing.T) {
		tampered := *cert
		tampered.OrderedCIDs = unittest.IdentifierListFixture(4)
		require.Error(t, VerifyCertificate(view, &tampered))
	})
}
