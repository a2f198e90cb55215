package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "council-orch",
		Short: "AI Council orchestrator - multi-agent TDD pipeline",
		Long: `AI Council orchestrates a team of model agents through a test-driven
pipeline: plan a feature, gather repository context, write the tests first,
write the code, run the suites per language, refine until green, then review
and publish the change-set for human approval.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
