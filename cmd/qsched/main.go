package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/qsched/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "qsched",
	Short: "qsched - batch-job scheduler core",
	Long: `qsched is the core of a batch-job scheduler: it accepts job
submissions, matches them against a hierarchical pool of physical
resources, and drives each job through its lifecycle until completion.

"qsched serve" runs the scheduler with an embedded control endpoint; the
remaining subcommands are a thin probe that talks to a running serve
instance so an operator can submit, cancel, and inspect jobs from the
shell.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"qsched version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(excludeCmd)
	rootCmd.AddCommand(includeCmd)
	rootCmd.AddCommand(paramsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(triggerCmd)
}

func initLogging(cmd *cobra.Command) {
	levelStr, _ := cmd.Flags().GetString("log-level")
	jsonOutput, _ := cmd.Flags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(levelStr),
		JSONOutput: jsonOutput,
	})
}
