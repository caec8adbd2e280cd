package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newBroadcastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "broadcast <text...>",
		Short: "Send a broadcast message to every connected fleet member",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			var out map[string]any
			if err := client.do("POST", "/api/broadcast", map[string]string{"text": text}, &out); err != nil {
				return err
			}
			if failed, ok := out["failed"].(map[string]any); ok && len(failed) > 0 {
				fmt.Printf("broadcast sent, %d client(s) failed: %v\n", len(failed), failed)
				return nil
			}
			fmt.Println("broadcast sent")
			return nil
		},
	}
}
