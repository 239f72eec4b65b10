package internal

import (
	"github.com/spf13/cobra"
)

func RegisterSubCommands(root *cobra.Command) {
	root.AddCommand(
		NewCheckCmd(),
		NewUpdateCmd(),
		NewBootCmd(),
		NewReadyCmd(),
		NewStatusCmd(),
	)
}
