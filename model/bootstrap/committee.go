// Package bootstrap defines the serialized committee artifacts the
// key dealing tool produces and the node consumes at startup.
package bootstrap

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/umbra-net/umbra-go/crypto/authsig"
	"github.com/umbra-net/umbra-go/crypto/thresholdenc"
	"github.com/umbra-net/umbra-go/crypto/thresholdsig"
	"github.com/umbra-net/umbra-go/model/umbra"
)

// Committee is the full output of a trusted-dealer key ceremony: the
// public committee view plus every member's private key material.
// Production deployments split the private sections out per member;
// the single-file form serves local and test committees.
type Committee struct {
	View    *umbra.CommitteeView `json:"view"`
	Members []MemberPrivateInfo  `json:"members"`
}

// MemberPrivateInfo is one member's private key material. It never
// travels the committee transport.
type MemberPrivateInfo struct {
	Index    int                   `json:"index"`
	NodeID   umbra.Identifier      `json:"node_id"`
	EncShare thresholdenc.KeyShare `json:"enc_share"`
	SigShare thresholdsig.KeyShare `json:"sig_share"`
	AuthKey  *authsig.KeyPair      `json:"auth_key"`
}

// Deal runs a trusted-dealer ceremony for a fresh (t, n) committee.
// Member transport identities derive from the members' authentication
// keys.
func Deal(t, n int) (*Committee, error) {
	encDeal, err := thresholdenc.Deal(t, n)
	if err != nil {
		return nil, fmt.Errorf("could not deal encryption shares: %w", err)
	}
	sigDeal, err := thresholdsig.Deal(t, n)
	if err != nil {
		return nil, fmt.Errorf("could not deal signing shares: %w", err)
	}

	view := &umbra.CommitteeView{
		Threshold:      t,
		EncryptionKey:  encDeal.PublicKey,
		SigCommitments: sigDeal.Commitments,
	}
	committee := &Committee{View: view}

	for i := 0; i < n; i++ {
		auth, err := authsig.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("could not generate auth key %d: %w", i, err)
		}
		nodeID := umbra.MakeIDFromData(auth.Public)

		view.Members = append(view.Members, umbra.Member{
			Index:       encDeal.Shares[i].Index,
			NodeID:      nodeID,
			AuthKey:     auth.Public,
			ShareCommit: encDeal.PublicShares[i],
		})
		committee.Members = append(committee.Members, MemberPrivateInfo{
			Index:    encDeal.Shares[i].Index,
			NodeID:   nodeID,
			EncShare: encDeal.Shares[i],
			SigShare: sigDeal.Shares[i],
			AuthKey:  auth,
		})
	}
	return committee, nil
}

// WriteFile serializes the committee to path. The file holds private
// keys; permissions are owner-only.
func (c *Committee) WriteFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal committee: %w", err)
	}
	err = os.WriteFile(path, data, 0600)
	if err != nil {
		return fmt.Errorf("could not write committee file: %w", err)
	}
	return nil
}

// ReadFile loads a committee file and sanity-checks it.
func ReadFile(path string) (*Committee, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read committee file: %w", err)
	}
	var committee Committee
	err = json.Unmarshal(data, &committee)
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal committee file: %w", err)
	}

	if committee.View == nil || committee.View.Size() == 0 {
		return nil, fmt.Errorf("committee file carries no members")
	}
	if len(committee.Members) != committee.View.Size() {
		return nil, fmt.Errorf("committee file carries %d key sets for %d members",
			len(committee.Members), committee.View.Size())
	}
	for i, m := range committee.Members {
		if m.AuthKey == nil {
			return nil, fmt.Errorf("member %d is missing its auth key", i)
		}
		if m.EncShare.Index != m.Index || m.SigShare.Index != m.Index {
			return nil, fmt.Errorf("member %d carries mismatched share indices", i)
		}
	}
	return &committee, nil
}
