// Command fleetctl is an operator CLI for fleetd: it logs in over HTTP
// and drives the host/command REST API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fleetctl",
		Short: "Operate a fleetd instance from the command line",
	}

	pf := root.PersistentFlags()
	pf.String("addr", envOrDefault("FLEETCTL_ADDR", "http://127.0.0.1:8080"), "fleetd HTTP API address")
	pf.String("password", os.Getenv("FLEETCTL_PASSWORD"), "operator password (or set FLEETCTL_PASSWORD)")
	pf.String("totp", "", "TOTP code, if two-factor login is enabled")

	root.AddCommand(
		newHostsCmd(),
		newDispatchCmd(),
		newStatusCmd(),
		newResultsCmd(),
		newBroadcastCmd(),
	)
	return root
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
