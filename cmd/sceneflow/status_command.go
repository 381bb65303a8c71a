package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sceneflow/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and project status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				status := resp.Status

				for _, line := range renderSectionHeader("Daemon", colorize) {
					fmt.Fprintln(stdout, line)
				}
				runningKind := statusError
				if status.Running {
					runningKind = statusOK
				}
				fmt.Fprintln(stdout, renderStatusLine("Running", runningKind, yesNo(status.Running), colorize))
				fmt.Fprintln(stdout, renderStatusLine("PID", statusInfo, fmt.Sprintf("%d", status.PID), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Socket", statusInfo, status.SocketPath, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Lock", statusInfo, status.LockPath, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Jobs DB", statusInfo, status.JobsDBPath, colorize))
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Projects", colorize) {
					fmt.Fprintln(stdout, line)
				}
				if len(status.Projects) == 0 {
					fmt.Fprintln(stdout, "No projects yet")
					return nil
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"Project", "Title", "Phase", "Node", "Scenes", "Intervention"},
					buildProjectRows(status.Projects),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}
