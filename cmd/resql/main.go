// Command resql is the cobra CLI for a resql node: starting/stopping
// the replicated process, an interactive client shell, and cluster
// bootstrap helpers (SPEC_FULL.md §4 package layout, "cmd/resql").
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/resql/resql/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "resql",
	Short: "resql - a replicated SQL database",
	Long: `resql replicates an ordered log of SQL operations across a small
cluster via a Raft-style consensus core, applying them deterministically
to a local SQL engine with linearizable reads and exactly-once semantics.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("resql version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "", "override node.log-level for this invocation")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(clusterCmd)
}

// initLogging brings up a sensible default logger before any
// subcommand runs; node start re-initializes it once the resolved
// config's node.log-level is known.
func initLogging() {
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: logJSON})
}

func logLevelFromConfig(raw string) log.Level {
	switch raw {
	case "DEBUG":
		return log.DebugLevel
	case "WARN":
		return log.WarnLevel
	case "ERROR":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
