package internal

import (
	"context"

	"github.com/bundleup/bundleup/internal/logger"
	"github.com/bundleup/bundleup/internal/models"
	"github.com/bundleup/bundleup/internal/updater"
	"github.com/bundleup/bundleup/internal/utils"
	"github.com/spf13/cobra"
)

func NewUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Run one full update cycle",
		Long: `Check, download (incremental when worthwhile), verify and install a new
bundle. Installation writes the pending record to both guard stores; the
bundle is confirmed only after a healthy boot.

Examples:
  bundleup update           # run one check-to-install cycle`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd)
			if err != nil {
				return err
			}

			var lastPct int64 = -1
			hooks := updater.Hooks{
				CheckStart: func() { logger.Info("🔄 Checking for updates...") },
				CheckComplete: func(info *models.UpdateInfo) {
					if info == nil {
						logger.Info("👍 Already on the latest bundle")
					}
				},
				DownloadStart: func(info *models.UpdateInfo) {
					logger.Info("🔄 Fetching bundle %s (%s)", info.Label, utils.HumanSize(info.PackageSize))
				},
				DownloadProgress: func(received, total int64) {
					if total <= 0 {
						return
					}
					pct := received * 100 / total
					if pct/10 > lastPct/10 {
						lastPct = pct
						logger.Debug("downloaded %d%%", pct)
					}
				},
				InstallComplete: func(label string) {
					logger.Success("Bundle %s installed, will be tried on next boot", label)
				},
			}

			coord := updater.New(app.checker, app.rt, app.assets, app.pre, app.post,
				app.reporter, app.client, app.identity(), hooks)

			return coord.RunUpdateCycle(context.Background())
		},
	}
	return cmd
}
