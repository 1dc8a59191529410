package unittest

import (
	crand "crypto/rand"
	"fmt"
	"math/rand"
	"time"

	"github.com/umbra-net/umbra-go/crypto/authsig"
	"github.com/umbra-net/umbra-go/crypto/thresholdenc"
	"github.com/umbra-net/umbra-go/crypto/thresholdsig"
	"github.com/umbra-net/umbra-go/model/umbra"
)

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	read, err := crand.Read(b)
	if read != n {
		panic(fmt.Errorf("not enough random bytes (%d of %d)", read, n))
	}
	if err != nil {
		panic(err)
	}
	return b
}

func IdentifierFixture() umbra.Identifier {
	var id umbra.Identifier
	copy(id[:], RandomBytes(32))
	return id
}

func IdentifierListFixture(n int) umbra.IdentifierList {
	list := make(umbra.IdentifierList, n)
	for i := 0; i < n; i++ {
		list[i] = IdentifierFixture()
	}
	return list
}

// Uint64InRange returns a uint64 drawn uniformly from [min,max].
func Uint64InRange(min, max uint64) uint64 {
	return min + uint64(rand.Intn(int(max)+1-int(min)))
}

func IntentFixture(opts ...func(*umbra.Intent)) *umbra.Intent {
	key, err := authsig.GenerateKey()
	if err != nil {
		panic(err)
	}
	intent := &umbra.Intent{
		SenderKey: key.Public,
		Nonce:     uint64(rand.Uint32()),
		Payload:   RandomBytes(128),
		FeeBid:    Uint64InRange(1, 500),
		Deadline:  time.Now().Add(time.Minute),
	}
	for _, opt := range opts {
		opt(intent)
	}
	return intent
}

func WithFeeBid(fee uint64) func(*umbra.Intent) {
	return func(intent *umbra.Intent) {
		intent.FeeBid = fee
	}
}

func WithPayload(payload []byte) func(*umbra.Intent) {
	return func(intent *umbra.Intent) {
		intent.Payload = payload
	}
}

// CiphertextFixture returns a structurally random ciphertext. The kem
// point does not decode; use EncryptedCommitmentFixture where real
// decryption is exercised.
func CiphertextFixture(epoch uint64) *thresholdenc.Ciphertext {
	return &thresholdenc.Ciphertext{
		Kem:   RandomBytes(32),
		Nonce: RandomBytes(12),
		Box:   RandomBytes(96),
		Epoch: epoch,
	}
}

func CommitmentFixture(opts ...func(*umbra.Commitment)) *umbra.Commitment {
	commit := &umbra.Commitment{
		EpochID:           1,
		Ciphertext:        CiphertextFixture(1),
		FeeBid:            Uint64InRange(1, 500),
		Deadline:          time.Now().Add(time.Minute),
		ArrivalTS:         time.Now(),
		SenderFingerprint: IdentifierFixture(),
		Nonce:             uint64(rand.Uint32()),
	}
	for _, opt := range opts {
		opt(commit)
	}
	return commit
}

func WithEpochID(epochID uint64) func(*umbra.Commitment) {
	return func(commit *umbra.Commitment) {
		commit.EpochID = epochID
		commit.Ciphertext.Epoch = epochID
	}
}

func WithCommitFeeBid(fee uint64) func(*umbra.Commitment) {
	return func(commit *umbra.Commitment) {
		commit.FeeBid = fee
	}
}

func WithCommitDeadline(deadline time.Time) func(*umbra.Commitment) {
	return func(commit *umbra.Commitment) {
		commit.Deadline = deadline
	}
}

func WithArrivalTS(ts time.Time) func(*umbra.Commitment) {
	return func(commit *umbra.Commitment) {
		commit.ArrivalTS = ts
	}
}

func CommitmentListFixture(n int, opts ...func(*umbra.Commitment)) []*umbra.Commitment {
	commits := make([]*umbra.Commitment, 0, n)
	for i := 0; i < n; i++ {
		commits = append(commits, CommitmentFixture(opts...))
	}
	return commits
}

func EpochFixture(id uint64, opts ...func(*umbra.Epoch)) *umbra.Epoch {
	start := time.Now()
	epoch := &umbra.Epoch{
		ID:       id,
		StartTS:  start,
		EndTS:    start.Add(500 * time.Millisecond),
		MaxBatch: 256,
		ViewID:   IdentifierFixture(),
	}
	for _, opt := range opts {
		opt(epoch)
	}
	return epoch
}

func WithWindow(start, end time.Time) func(*umbra.Epoch) {
	return func(epoch *umbra.Epoch) {
		epoch.StartTS = start
		epoch.EndTS = end
	}
}

func WithViewID(viewID umbra.Identifier) func(*umbra.Epoch) {
	return func(epoch *umbra.Epoch) {
		epoch.ViewID = viewID
	}
}

func EpochStatusFixture(epochID uint64, state umbra.EpochState) *umbra.EpochStatus {
	return &umbra.EpochStatus{
		EpochID:   epochID,
		State:     state,
		EnteredAt: time.Now(),
	}
}

// CertificateFixture returns an ordering certificate with a random
// signature. It does not verify against any committee.
func CertificateFixture(epochID uint64, cids umbra.IdentifierList) *umbra.OrderingCertificate {
	return &umbra.OrderingCertificate{
		EpochID:       epochID,
		OrderedCIDs:   cids,
		MerkleRoot:    umbra.OrderedRoot(cids),
		SignerIndices: []int{0, 1, 2},
		AggSignature:  RandomBytes(64),
	}
}

func OutcomeFixture(epochID uint64, cid umbra.Identifier, seq uint, state umbra.OutcomeState) *umbra.CommitOutcome {
	outcome := &umbra.CommitOutcome{
		EpochID:  epochID,
		CommitID: cid,
		SeqIdx:   seq,
		State:    state,
	}
	if state == umbra.OutcomePublished {
		outcome.PlaintextHash = IdentifierFixture()
	}
	return outcome
}

// MemberKeys bundles the private key material for one committee member.
type MemberKeys struct {
	EncShare thresholdenc.KeyShare
	SigShare thresholdsig.KeyShare
	Auth     *authsig.KeyPair
}

// CommitteeFixture deals real threshold key material for a committee of
// n members with threshold t and returns the public view together with
// every member's private keys. Ciphertexts sealed under the view's
// encryption key genuinely decrypt with any t of the returned shares.
func CommitteeFixture(t, n int) (*umbra.CommitteeView, []MemberKeys) {
	encDeal, err := thresholdenc.Deal(t, n)
	if err != nil {
		panic(err)
	}
	sigDeal, err := thresholdsig.Deal(t, n)
	if err != nil {
		panic(err)
	}

	view := &umbra.CommitteeView{
		Threshold:      t,
		EncryptionKey:  encDeal.PublicKey,
		SigCommitments: sigDeal.Commitments,
	}
	keys := make([]MemberKeys, 0, n)
	for i := 0; i < n; i++ {
		auth, err := authsig.GenerateKey()
		if err != nil {
			panic(err)
		}
		view.Members = append(view.Members, umbra.Member{
			Index:       encDeal.Shares[i].Index,
			NodeID:      IdentifierFixture(),
			AuthKey:     auth.Public,
			ShareCommit: encDeal.PublicShares[i],
		})
		keys = append(keys, MemberKeys{
			EncShare: encDeal.Shares[i],
			SigShare: sigDeal.Shares[i],
			Auth:     auth,
		})
	}
	return view, keys
}

// EncryptedCommitmentFixture seals a real intent under the view's
// encryption key, so the commitment can be carried through decryption.
func EncryptedCommitmentFixture(view *umbra.CommitteeView, epoch *umbra.Epoch, intent *umbra.Intent) *umbra.Commitment {
	ct, err := thresholdenc.Encrypt(view.EncryptionKey, intent.Payload, epoch.ID)
	if err != nil {
		panic(err)
	}
	return &umbra.Commitment{
		EpochID:           epoch.ID,
		Ciphertext:        ct,
		FeeBid:            intent.FeeBid,
		Deadline:          intent.Deadline,
		ArrivalTS:         time.Now(),
		SenderFingerprint: intent.Fingerprint(),
		Nonce:             intent.Nonce,
	}
}
