package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	logLevel   string
	cmdTimeout time.Duration
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "hivegate",
	Short: "Admission pipeline for agent tasks",
	Long: "hivegate gates an agent task board. Proposals arrive as suggestions,\n" +
		"only vetted work reaches the backlog, and only evidenced work stays done.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default .hivegate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().DurationVar(&cmdTimeout, "timeout", 30*time.Second, "Timeout for store operations")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(intakeCmd)
	rootCmd.AddCommand(guardrailCmd)
	rootCmd.AddCommand(workCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(statusCmd)
}
