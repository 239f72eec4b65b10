package internal

import (
	"context"

	"github.com/bundleup/bundleup/internal/guard"
	"github.com/spf13/cobra"
)

func NewReadyCmd() *cobra.Command {
	var startupOnly bool

	cmd := &cobra.Command{
		Use:   "ready",
		Short: "Confirm the running bundle as healthy (post-boot guard)",
		Long: `Run the post-boot confirmation guard. With --startup-check the
elapsed-time guard is evaluated and nothing is confirmed; without it the
pending bundle is promoted to active in both stores.

The application should invoke the startup check right after boot and the
confirmation once it has run healthily for the confirmation window.

Examples:
  bundleup ready --startup-check   # at application start
  bundleup ready                   # after the confirmation delay`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd)
			if err != nil {
				return err
			}

			g := guard.NewConfirmGuard(app.post, app.pre, app.cfg.ConfirmWindow(),
				app.reporter, app.cfg.DeviceID)

			rolledBack, err := g.InitStartupGuard()
			if err != nil {
				return err
			}
			if startupOnly {
				return nil
			}
			if rolledBack {
				// The elapsed-time guard just cleared this bundle;
				// confirming it now would undo the rollback.
				return nil
			}
			return g.NotifyAppReady(context.Background())
		},
	}

	cmd.Flags().BoolVar(&startupOnly, "startup-check", false, "Only evaluate the elapsed-time guard")
	return cmd
}
