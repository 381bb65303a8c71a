package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sceneflow/internal/events"
	"sceneflow/internal/ipc"
)

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var since uint64
	var limit int
	var follow bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show buffered pipeline events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				stdout := cmd.OutOrStdout()
				cursor := since
				for {
					resp, err := client.Events(ipc.EventsRequest{
						Since:      cursor,
						Limit:      limit,
						Wait:       follow,
						WaitMillis: 1000,
					})
					if err != nil {
						return err
					}
					for _, evt := range resp.Events {
						fmt.Fprintln(stdout, formatEvent(evt))
					}
					cursor = resp.Next
					if !follow {
						return nil
					}
					if err := cmd.Context().Err(); err != nil {
						return err
					}
				}
			})
		},
	}
	cmd.Flags().Uint64Var(&since, "since", 0, "Start after this sequence number")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum events per fetch")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new events")
	return cmd
}

func formatEvent(evt events.Event) string {
	parts := []string{
		evt.Timestamp.Format("15:04:05"),
		fmt.Sprintf("%-24s", string(evt.Type)),
	}
	if evt.ProjectID != "" {
		parts = append(parts, evt.ProjectID)
	}
	if evt.SceneID != "" {
		parts = append(parts, evt.SceneID)
	}
	if evt.Message != "" {
		parts = append(parts, evt.Message)
	}
	return strings.Join(parts, "  ")
}
