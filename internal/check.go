package internal

import (
	"context"

	"github.com/bundleup/bundleup/internal/logger"
	"github.com/bundleup/bundleup/internal/utils"
	"github.com/spf13/cobra"
)

func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Ask the update server whether a newer bundle exists",
		Long: `Check for an available update without downloading or installing anything.

Examples:
  bundleup check            # report whether an update is available`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd)
			if err != nil {
				return err
			}

			req := app.identity()
			req.Label, _ = app.pre.ActiveLabel()

			info, err := app.checker.Check(context.Background(), req)
			if err != nil {
				return err
			}

			if info == nil {
				logger.Info("👍 Already on the latest bundle")
				return nil
			}

			logger.Success("Update available: label=%s release=%s (%s)",
				info.Label, info.ReleaseID, utils.HumanSize(info.PackageSize))
			if info.PatchURL != "" {
				logger.Info("Patch delivery offered against %s (%s)",
					info.PatchBaseLabel, utils.HumanSize(info.PatchSize))
			}
			if info.Mandatory {
				logger.Warn("This update is marked mandatory")
			}
			return nil
		},
	}
	return cmd
}
