package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type hostRow struct {
	ClientID  string `json:"client_id"`
	Connected bool   `json:"connected"`
	LastSeen  string `json:"last_seen"`
}

func newHostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List known fleet members",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var hosts []hostRow
			if err := client.do("GET", "/api/hosts", nil, &hosts); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "CLIENT ID\tCONNECTED\tLAST SEEN")
			for _, h := range hosts {
				fmt.Fprintf(tw, "%s\t%v\t%s\n", h.ClientID, h.Connected, h.LastSeen)
			}
			return tw.Flush()
		},
	}
}
