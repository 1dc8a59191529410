// Command bootstrap runs the trusted-dealer key ceremony for a new
// pipeline committee and writes the resulting key file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/umbra-net/umbra-go/model/bootstrap"
)

var flagThreshold int
var flagSize int
var flagOutput string

var rootCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Bootstrapping tooling for a pipeline committee",
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Deal threshold key material for a fresh (t, n) committee",
	RunE: func(cmd *cobra.Command, args []string) error {
		committee, err := bootstrap.Deal(flagThreshold, flagSize)
		if err != nil {
			return fmt.Errorf("could not deal committee keys: %w", err)
		}
		err = committee.WriteFile(flagOutput)
		if err != nil {
			return err
		}
		fmt.Printf("dealt committee of %d members with threshold %d\n", flagSize, flagThreshold)
		fmt.Printf("wrote %s\n", flagOutput)
		return nil
	},
}

func init() {
	keygenCmd.Flags().IntVar(&flagThreshold, "t", 3, "decryption threshold")
	keygenCmd.Flags().IntVar(&flagSize, "n", 5, "committee size")
	keygenCmd.Flags().StringVarP(&flagOutput, "output", "o", "committee.json", "output key file")
	rootCmd.AddCommand(keygenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
