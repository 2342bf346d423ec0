package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emissionary/backend/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "receiptctl",
	Short: "Run the receipt emissions pipeline from the command line",
	Long: `receiptctl runs the Emissionary receipt pipeline locally.

It reads the same configuration as the server (.env, config.yaml and
EMISSIONARY_* environment variables) and prints results as JSON.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		cfg := logger.DefaultConfig()
		cfg.Level = level
		cfg.Output = "stderr"
		return logger.Setup(cfg)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log := logger.WithComponent("cmd")
		log.Error().Err(err).Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (trace, debug, info, warn, error)")
	rootCmd.AddCommand(processCmd, scoreCmd, matchCmd)
}
