package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <command-id>",
		Short: "Show a dispatched command's current status and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var out map[string]any
			if err := client.do("GET", "/api/commands/"+args[0], nil, &out); err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func newResultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results <client-id>",
		Short: "Show recent completed command results for one fleet member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var out []map[string]any
			if err := client.do("GET", "/api/hosts/"+args[0]+"/commands", nil, &out); err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
