package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "reviewiq",
	Short: "Scrape restaurant reviews into shareable reports",
	Long: `reviewiq queues review-scraping orders, runs them in a background worker
and publishes a report per order.

Run "reviewiq start" to serve the API and the worker in one process.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(scrapeCmd)
	rootCmd.AddCommand(orderCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(regenerateCmd)
	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		fmt.Fprintln(os.Stderr, "run 'reviewiq --help' for usage")
		os.Exit(1)
	}
}
