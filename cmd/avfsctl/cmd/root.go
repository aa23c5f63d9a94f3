package cmd

import (
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "avfsctl",
	Short: "avfsctl drives the avfs virtual filesystem",
	Long: `avfsctl builds the handler registry, resolver and dispatcher described
by the filesystem's design and exposes them either as a WebDAV server or
through one-shot inspection subcommands.`,
}

// Execute runs the root command, the cobra entry point cmd/avfsctl/main.go
// delegates to.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file (YAML)")
}
