package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/credon/veridex/pkg/log"
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
	Use:   "veridex",
	Short: "Veridex - Verifiable credential issuer with compact status lists",
	Long: `Veridex is a verifiable credential issuer service. It assigns every
issued credential a unique position in a published status list, coordinating
concurrent workers through nothing but compare-and-swap on a document store,
and keeps index assignments compact across a small number of active lists.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Veridex version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-console", false, "Human-readable log output instead of JSON")

	// Initialize logging before command execution
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logConsole, _ := rootCmd.PersistentFlags().GetBool("log-console")

	log.Init(log.Config{
		Level:   logLevel,
		Console: logConsole,
	})
}
