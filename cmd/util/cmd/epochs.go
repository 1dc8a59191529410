package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dgraph-io/badger/v2"
	"github.com/spf13/cobra"

	"github.com/umbra-net/umbra-go/model/umbra"
	"github.com/umbra-net/umbra-go/storage"
	bstorage "github.com/umbra-net/umbra-go/storage/badger"
)

var epochsCmd = &cobra.Command{
	Use:   "epochs",
	Short: "Inspect persisted epoch lifecycle state",
}

var epochsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every persisted epoch with its lifecycle state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDB(func(db *badger.DB) error {
			epochs := bstorage.NewEpochs(db)
			latest, err := epochs.Latest()
			if errors.Is(err, storage.ErrNotFound) {
				fmt.Println("no epochs persisted")
				return nil
			}
			if err != nil {
				return err
			}

			for id := uint64(1); id <= latest; id++ {
				status, err := epochs.Status(id)
				if err != nil {
					return fmt.Errorf("could not read status of epoch %d: %w", id, err)
				}
				fmt.Printf("epoch %6d  %-10s  sealed=%-5d  entered=%s\n",
					id, status.State, status.SealedCount, status.EnteredAt.Format("2006-01-02T15:04:05.000Z07:00"))
			}
			return nil
		})
	},
}

var epochsShowCmd = &cobra.Command{
	Use:   "show <epoch-id>",
	Short: "Show one epoch's header, status, certificate and outcomes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		epochID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid epoch id %q: %w", args[0], err)
		}

		return withDB(func(db *badger.DB) error {
			report := make(map[string]interface{})

			epochs := bstorage.NewEpochs(db)
			header, err := epochs.ByID(epochID)
			if err != nil {
				return fmt.Errorf("could not read epoch %d: %w", epochID, err)
			}
			status, err := epochs.Status(epochID)
			if err != nil {
				return fmt.Errorf("could not read status of epoch %d: %w", epochID, err)
			}
			report["header"] = header
			report["state"] = status.State.String()
			report["sealed_count"] = status.SealedCount

			cert, err := bstorage.NewCertificates(db).ByEpoch(epochID)
			if err == nil {
				report["certificate"] = map[string]interface{}{
					"merkle_root": cert.MerkleRoot,
					"ordered":     cert.OrderedCIDs,
					"signers":     cert.SignerIndices,
				}
			} else if !errors.Is(err, storage.ErrNotFound) {
				return err
			}

			outcomes, err := bstorage.NewOutcomes(db).ByEpoch(epochID)
			if err != nil {
				return err
			}
			if len(outcomes) > 0 {
				summary := make([]map[string]interface{}, 0, len(outcomes))
				for _, outcome := range outcomes {
					entry := map[string]interface{}{
						"cid":     outcome.CommitID,
						"seq_idx": outcome.SeqIdx,
						"state":   outcome.State.String(),
					}
					if outcome.Reason != "" {
						entry["reason"] = outcome.Reason
					}
					if outcome.PlaintextHash != (umbra.Identifier{}) {
						entry["plaintext_hash"] = outcome.PlaintextHash
					}
					summary = append(summary, entry)
				}
				report["outcomes"] = summary
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		})
	},
}

// withDB opens the member's protocol database read-only for the
// duration of fn.
func withDB(fn func(db *badger.DB) error) error {
	if _, err := os.Stat(flagDataDir); err != nil {
		return fmt.Errorf("could not access datadir %s: %w", flagDataDir, err)
	}
	db, err := badger.Open(badger.DefaultOptions(flagDataDir).WithReadOnly(true).WithLogger(nil))
	if err != nil {
		return fmt.Errorf("could not open protocol database: %w", err)
	}
	defer db.Close()
	return fn(db)
}

func init() {
	epochsCmd.AddCommand(epochsListCmd)
	epochsCmd.AddCommand(epochsShowCmd)
	rootCmd.AddCommand(epochsCmd)
}
