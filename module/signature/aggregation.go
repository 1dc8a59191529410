package signature

import (
	"fmt"
	"sort"
	"sync"

	"github.com/umbra-net/umbra-go/crypto/thresholdsig"
	"github.com/umbra-net/umbra-go/model/encoding"
	"github.com/umbra-net/umbra-go/model/umbra"
)

// CertificateAggregator collects threshold signature shares over one
// certificate body and recovers the group signature once the committee
// threshold is reached.
//
// The aggregator splits verification from accumulation: Verify checks
// a share cryptographically without mutating state, TrustedAdd stores
// a share that was already verified. Callers must never TrustedAdd an
// unverified share.
//
// Safe for concurrent use.
type CertificateAggregator struct {
	mu       sync.Mutex
	verifier *thresholdsig.Verifier
	msg      []byte
	shares   map[int][]byte
	t        int
	n        int
}

// NewCertificateAggregator builds an aggregator for signature shares
// over msg, against the view's signing commitments.
func NewCertificateAggregator(view *umbra.CommitteeView, msg []byte) (*CertificateAggregator, error) {
	verifier, err := thresholdsig.NewVerifier(view.SigCommitments, view.Threshold, view.Size())
	if err != nil {
		return nil, fmt.Errorf("could not build share verifier: %w", err)
	}
	return &CertificateAggregator{
		verifier: verifier,
		msg:      msg,
		shares:   make(map[int][]byte),
		t:        view.Threshold,
		n:        view.Size(),
	}, nil
}

// Verify checks the signature share cryptographically and returns the
// contributing signer index. It does not modify the aggregator.
func (a *CertificateAggregator) Verify(sigShare []byte) (int, error) {
	idx, err := a.verifier.VerifyShare(a.msg, sigShare)
	if err != nil {
		return 0, err
	}
	if idx < 0 || idx >= a.n {
		return 0, fmt.Errorf("share claims index %d: %w", idx, ErrInvalidSignerIdx)
	}
	return idx, nil
}

// TrustedAdd stores a verified share and returns the number of shares
// collected so far. Returns ErrDuplicatedSigner if a share from the
// same signer was added before.
func (a *CertificateAggregator) TrustedAdd(signerIdx int, sigShare []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if signerIdx < 0 || signerIdx >= a.n {
		return len(a.shares), ErrInvalidSignerIdx
	}
	if _, ok := a.shares[signerIdx]; ok {
		return len(a.shares), ErrDuplicatedSigner
	}
	a.shares[signerIdx] = sigShare
	return len(a.shares), nil
}

// EnoughShares reports whether the threshold has been reached.
func (a *CertificateAggregator) EnoughShares() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.shares) >= a.t
}

// Aggregate recovers the group signature from the collected shares and
// returns it with the contributing signer indices in ascending order.
// The recovered signature is checked against the committee key before
// it is returned. Returns ErrInsufficientShares below the threshold.
func (a *CertificateAggregator) Aggregate() ([]int, []byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.shares) < a.t {
		return nil, nil, fmt.Errorf("have %d shares of %d: %w", len(a.shares), a.t, ErrInsufficientShares)
	}

	signers := make([]int, 0, len(a.shares))
	sigShares := make([][]byte, 0, len(a.shares))
	for idx := range a.shares {
		signers = append(signers, idx)
	}
	sort.Ints(signers)
	for _, idx := range signers {
		sigShares = append(sigShares, a.shares[idx])
	}

	sig, err := a.verifier.Recover(a.msg, sigShares)
	if err != nil {
		return nil, nil, fmt.Errorf("could not recover group signature: %w", err)
	}
	err = a.verifier.VerifyAggregate(a.msg, sig)
	if err != nil {
		return nil, nil, fmt.Errorf("recovered group signature does not verify: %w", err)
	}
	return signers, sig, nil
}

// CertificateMessage returns the bytes covered by a certificate's
// threshold signature: the domain tag followed by the canonical
// encoding of the certificate body. Members sign these bytes during
// agreement, before any certificate exists.
func CertificateMessage(epochID uint64, orderedCIDs umbra.IdentifierList, root umbra.Identifier) []byte {
	cert := umbra.OrderingCertificate{
		EpochID:     epochID,
		OrderedCIDs: orderedCIDs,
		MerkleRoot:  root,
	}
	body := encoding.DefaultEncoder.MustEncode(cert.Body())
	msg := make([]byte, 0, len(OrderingCertificateTag)+len(body))
	msg = append(msg, OrderingCertificateTag...)
	return append(msg, body...)
}

// VerifyCertificate checks a certificate's aggregate signature against
// the view it was produced under.
func VerifyCertificate(view *umbra.CommitteeView, cert *umbra.OrderingCertificate) error {
	verifier, err := thresholdsig.NewVerifier(view.SigCommitments, view.Threshold, view.Size())
	if err != nil {
		return fmt.Errorf("could not build verifier: %w", err)
	}
	msg := CertificateMessage(cert.EpochID, cert.OrderedCIDs, cert.MerkleRoot)
	err = verifier.VerifyAggregate(msg, cert.AggSignature)
	if err != nil {
		return fmt.Errorf("certificate for epoch %d: %w", cert.EpochID, err)
	}
	return nil
}
