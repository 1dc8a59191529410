package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var flagDataDir string

var rootCmd = &cobra.Command{
	Use:   "util",
	Short: "Inspection tooling for persisted pipeline state",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "datadir", "",
		"member data directory holding the protocol database")
	_ = rootCmd.MarkPersistentFlagRequired("datadir")

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	viper.AutomaticEnv()
	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}
