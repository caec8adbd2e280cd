package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newDispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch <client-id> <command...>",
		Short: "Dispatch a command to one fleet member",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			clientID := args[0]
			command := strings.Join(args[1:], " ")

			var out struct {
				CommandID string `json:"command_id"`
			}
			if err := client.do("POST", "/api/hosts/"+clientID+"/command", map[string]string{"command": command}, &out); err != nil {
				return err
			}
			fmt.Println(out.CommandID)
			return nil
		},
	}
}
