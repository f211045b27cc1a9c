package main

import (
	"os"

	cmd "github.com/chainmesh/chainmesh/cmd/chainmesh/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.NewKeygenCmd(),
		cmd.NewRunCmd(),
		cmd.VersionCmd)

	//Do not print usage when error occurs
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
