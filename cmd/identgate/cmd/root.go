// Package cmd provides the CLI commands for Identgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Ident-Gate/Identgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "identgate",
	Short: "Identgate - identity and access microservice",
	Long: `Identgate is an identity and access microservice: an ABAC policy
decision point with a JWT token service and SCIM 2.0 provisioning.

Quick start:
  1. Export JWT_SECRET (or configure RS256 keys)
  2. Run: identgate serve

Configuration:
  All settings come from environment variables (JWT_SECRET, JWT_ALG,
  JWT_EXPIRE_MINUTES, POLICIES_PATH, DB_PATH, LOG_LEVEL, HTTP_PORT).
  An identgate.yaml in the current directory, $HOME/.identgate/, or
  /etc/identgate/ can provide the same keys for local development.

Commands:
  serve          Start the HTTP server
  hash-password  Generate a password verifier for seeding users
  version        Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./identgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
