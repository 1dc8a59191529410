package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbra-net/umbra-go/config"
	"github.com/umbra-net/umbra-go/crypto/authsig"
	"github.com/umbra-net/umbra-go/engine/admission"
	"github.com/umbra-net/umbra-go/model/bootstrap"
	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/module"
	"github.com/umbra-net/umbra-go/module/irrecoverable"
	"github.com/umbra-net/umbra-go/module/signature"
	"github.com/umbra-net/umbra-go/module/util"
	"github.com/umbra-net/umbra-go/network/intranet"
	"github.com/umbra-net/umbra-go/network/relay"
	"github.com/umbra-net/umbra-go/network/relay/memory"
	"github.com/umbra-net/umbra-go/utils/unittest"
)

// testCommittee is a fully wired 2-of-3 committee in one process,
// publishing to a shared in-memory relay.
type testCommittee struct {
	nodes []*memberNode
	relay *memory.Relay
}

func startCommittee(t *testing.T) *testCommittee {
	conf := config.DefaultConfig()
	conf.DataDir = t.TempDir()
	conf.Epoch.DurationMS = 1000
	conf.Timers.AgreeMS = 10_000
	conf.Timers.DecryptMS = 10_000
	conf.Timers.DispatchMS = 10_000
	conf.Threshold.T = 2
	conf.Threshold.N = 3

	boot, err := bootstrap.Deal(conf.Threshold.T, conf.Threshold.N)
	require.NoError(t, err)

	tc := &testCommittee{relay: memory.New()}

	hub := intranet.NewHub()
	for i := range boot.Members {
		node, err := buildMember(zerolog.Nop(), conf, hub, boot, i, noopCollectors(), tc.relay)
		require.NoError(t, err)
		tc.nodes = append(tc.nodes, node)
	}

	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	var all []module.ReadyDoneAware
	for _, node := range tc.nodes {
		for _, c := range node.components {
			c.Start(ctx)
			all = append(all, c)
		}
	}
	unittest.RequireReturnsBefore(t, func() { <-util.AllReady(all...) }, 10*time.Second)

	t.Cleanup(func() {
		cancel()
		unittest.RequireReturnsBefore(t, func() { <-util.AllDone(all...) }, 10*time.Second)
		for _, node := range tc.nodes {
			require.NoError(t, node.db.Close())
		}
	})
	return tc
}

// waitPublished polls the admission API until the commitment reaches a
// terminal outcome and asserts it published.
func waitPublished(t *testing.T, api admission.API, cid umbra.Identifier) *admission.StatusResponse {
	var resp *admission.StatusResponse
	require.Eventually(t, func() bool {
		r, err := api.Status(context.Background(), cid)
		if err != nil {
			return false
		}
		resp = r
		return r.Outcome != nil
	}, 30*time.Second, 50*time.Millisecond, "commitment %x never reached a terminal outcome", cid)

	require.Equal(t, umbra.OutcomePublished.String(), resp.State)
	return resp
}

// orderedFirstSeen returns the distinct CIDs of ordered-lane submissions
// in first-acceptance order. Every member dispatches the same sequence,
// so the first occurrences follow the canonical order.
func orderedFirstSeen(subs []*relay.Submission) umbra.IdentifierList {
	seen := make(map[umbra.Identifier]struct{})
	var cids umbra.IdentifierList
	for _, sub := range subs {
		if sub.Kind != relay.KindOrdered {
			continue
		}
		if _, ok := seen[sub.CID]; ok {
			continue
		}
		seen[sub.CID] = struct{}{}
		cids = append(cids, sub.CID)
	}
	return cids
}

// Full pipeline: intents submitted to one member are sealed, ordered by
// the committee, threshold-decrypted and published fee-descending.
func TestPipelinePublishesProtectedIntents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping committee end-to-end test in short mode")
	}

	tc := startCommittee(t)
	api := tc.nodes[0].api

	fees := []uint64{50, 300, 120}
	intents := make([]*umbra.Intent, 0, len(fees))
	receipts := make([]*admission.SubmitReceipt, 0, len(fees))
	for _, fee := range fees {
		intent := unittest.IntentFixture(unittest.WithFeeBid(fee))
		receipt, err := api.Submit(context.Background(), intent)
		require.NoError(t, err)
		intents = append(intents, intent)
		receipts = append(receipts, receipt)
	}

	// fast enough that all three land in the same commitment window
	epochID := receipts[0].EpochID
	for _, receipt := range receipts {
		require.Equal(t, epochID, receipt.EpochID, "intents straddled an epoch seal, shorten the submission loop")
	}

	for i, receipt := range receipts {
		resp := waitPublished(t, api, receipt.CID)
		assert.Equal(t, epochID, resp.EpochID)
		assert.Equal(t, umbra.MakeIDFromData(intents[i].Payload), resp.Outcome.PlaintextHash)
	}

	t.Run("relay receives plaintexts fee-descending", func(t *testing.T) {
		subs := tc.relay.Submissions()
		ordered := orderedFirstSeen(subs)
		require.Len(t, ordered, 3)
		assert.Equal(t, receipts[1].CID, ordered[0], "fee 300 publishes first")
		assert.Equal(t, receipts[2].CID, ordered[1], "fee 120 publishes second")
		assert.Equal(t, receipts[0].CID, ordered[2], "fee 50 publishes last")

		payloads := make(map[umbra.Identifier][]byte)
		for _, sub := range subs {
			if sub.Kind == relay.KindOrdered {
				payloads[sub.CID] = sub.Payload
			}
		}
		for i, receipt := range receipts {
			assert.Equal(t, intents[i].Payload, payloads[receipt.CID])
		}
	})

	t.Run("every member observes the same outcome", func(t *testing.T) {
		for _, node := range tc.nodes[1:] {
			resp, err := node.api.Status(context.Background(), receipts[0].CID)
			require.NoError(t, err)
			require.NotNil(t, resp.Outcome)
			assert.Equal(t, umbra.OutcomePublished.String(), resp.State)
		}
	})
}

func walletFixture(t *testing.T) *authsig.KeyPair {
	wallet, err := authsig.GenerateKey()
	require.NoError(t, err)
	return wallet
}

func signedCancel(t *testing.T, wallet *authsig.KeyPair, cid umbra.Identifier) *umbra.CancelRequest {
	req := &umbra.CancelRequest{CommitID: cid, SenderKey: wallet.Public}
	sig, err := authsig.Sign(wallet.Private, signature.IntentCancelTag, req.SignedPayload())
	require.NoError(t, err)
	req.Signature = sig
	return req
}

// A cancellation before the seal keeps the payload off the relay on
// every member.
func TestPipelineCancelsBeforeSeal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping committee end-to-end test in short mode")
	}

	tc := startCommittee(t)
	api := tc.nodes[0].api

	wallet := walletFixture(t)
	intent := unittest.IntentFixture()
	intent.SenderKey = wallet.Public

	receipt, err := api.Submit(context.Background(), intent)
	require.NoError(t, err)

	err = api.Cancel(context.Background(), signedCancel(t, wallet, receipt.CID))
	require.NoError(t, err)

	resp, err := api.Status(context.Background(), receipt.CID)
	require.NoError(t, err)
	require.Equal(t, admission.StateCancelled, resp.State)

	// outlive the epoch the intent targeted, then check nothing leaked
	keepalive := unittest.IntentFixture()
	keep, err := api.Submit(context.Background(), keepalive)
	require.NoError(t, err)
	waitPublished(t, api, keep.CID)

	for _, sub := range tc.relay.Submissions() {
		assert.NotEqual(t, receipt.CID, sub.CID, "cancelled commitment reached the relay")
	}
}
