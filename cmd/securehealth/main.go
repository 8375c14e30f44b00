package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	server  string
	output  string
	timeout time.Duration
}

func main() {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "securehealth",
		Short: "Patient records anchored on the Stacks PatientRecord contract",
		Long: `securehealth serves the record lifecycle API and talks to it.

Run "securehealth serve" next to a wallet signer (or with --devnet for a local
in-process chain), then use the other commands against it.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("SECUREHEALTH_SERVER", "http://localhost:8080"), "API base URL")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "plain", "Output format: plain|json|yaml")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 3*time.Minute, "Request timeout; mutations wait for settlement")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sessionCmd(opts))
	rootCmd.AddCommand(patientCmd(opts))
	rootCmd.AddCommand(recordCmd(opts))
	rootCmd.AddCommand(accessCmd(opts))
	rootCmd.AddCommand(txCmd(opts))
	rootCmd.AddCommand(dashboardCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
