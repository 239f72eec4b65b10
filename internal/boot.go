package internal

import (
	"fmt"

	"github.com/bundleup/bundleup/internal/guard"
	"github.com/bundleup/bundleup/internal/logger"
	"github.com/spf13/cobra"
)

func NewBootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Resolve which bundle the host should load (pre-boot guard)",
		Long: `Run the pre-boot rollback guard and print the path of the bundle to
load. Intended to be called by the host launcher before any updatable
code executes: a pending bundle is granted exactly one attempt, and a
second start while still pending rolls it back.

Examples:
  exec my-runtime "$(bundleup boot -q)"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd)
			if err != nil {
				return err
			}

			g := guard.NewBootGuard(app.pre, app.rt)
			decision, err := g.SelectBundle()
			if err != nil {
				return err
			}

			switch {
			case decision.RolledBack:
				logger.Warn("rolled back to %s", decision.Label)
			case decision.Pending:
				logger.Info("trying pending bundle %s", decision.Label)
			}

			// Path on stdout for the launcher to consume.
			fmt.Fprintln(cmd.OutOrStdout(), decision.BundlePath)
			return nil
		},
	}
	return cmd
}
