package internal

import (
	"fmt"

	"github.com/bundleup/bundleup/internal/logger"

	"github.com/spf13/cobra"
)

var Version = "dev"

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundleup",
		Short: "Hot-update lifecycle engine for swappable code bundles",
		Long: `Bundleup lets a running application replace its interpreted code bundle
over the network without a store release, with a crash-resilient dual
rollback guard so a bad update can never permanently brick the app.`,
		Example: `bundleup update`,
		Run: func(cmd *cobra.Command, _ []string) {
			versionFlag, _ := cmd.Flags().GetBool("version")
			if versionFlag {
				fmt.Printf("Version: %s\n", Version)
				return
			}
			_ = cmd.Help()
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger.FlagVerbose, _ = cmd.Flags().GetBool("verbose")
			logger.FlagQuiet, _ = cmd.Flags().GetBool("quiet")
			logger.FlagJSON, _ = cmd.Flags().GetBool("json")
			logger.ConfigureFromFlags()
		},
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.Flags().BoolP("version", "v", false, "Print version information")
	cmd.PersistentFlags().String("config", "", "Path to config file")
	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable debug logging")
	cmd.PersistentFlags().BoolP("quiet", "q", false, "Errors only")
	cmd.PersistentFlags().Bool("json", false, "JSON log output (CI)")

	RegisterSubCommands(cmd)

	return cmd
}

func Execute() error {
	root := NewRootCmd()

	if err := root.Execute(); err != nil {
		logger.Debug("Failed to execute root command: %v", err)
		return err
	}
	return nil
}
