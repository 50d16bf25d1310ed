package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/winlog-collector/winlog/internal/config"
	"github.com/winlog-collector/winlog/internal/logging"
)

var (
	cfgFile string
	cfg     *config.CLIConfig
)

var rootCmd = &cobra.Command{
	Use:   "winlogctl",
	Short: "Winlog collector CLI",
	Long: `winlogctl reports workstation sessions to a Winlog collector and
administers the collector's event store.

Run logon and logout from the workstation's session scripts, and matos to
report the hardware inventory.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadCLI(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		if cmd.Flags().Changed("output") {
			cfg.Output, _ = cmd.Flags().GetString("output")
		}

		logging.SetDefault(logging.NewWithWriter(
			os.Stderr,
			logging.ParseLevel(cfg.Logging.Level),
			cfg.Logging.Format,
		))
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.winlog/config.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table, json, yaml")
}
