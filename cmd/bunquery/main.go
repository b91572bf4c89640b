// Command bunquery serves read-only Redis queries to dashboards and runs them
// from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "bunquery",
	Short:         "Read-only Redis query proxy for dashboards",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (yaml, json, toml or .env)")
	pf.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	pf.String("log-format", "json", "Log format (json, text)")
	pf.Duration("timeout", 0, "Batch timeout, e.g. 10s (default from config)")

	rootCmd.AddCommand(serveCmd, queryCmd, pingCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
