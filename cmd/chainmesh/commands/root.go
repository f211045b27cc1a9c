package commands

import (
	"github.com/chainmesh/chainmesh/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for chainmesh
var RootCmd = &cobra.Command{
	Use:              "chainmesh",
	Short:            "tamper-evident gossip ledger",
	TraverseChildren: true,
}
