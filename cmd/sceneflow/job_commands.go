package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"sceneflow/internal/ipc"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var stateFilter string

	jobsCmd := &cobra.Command{
		Use:   "jobs <project-id>",
		Short: "List a project's jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobList(args[0], stateFilter)
				if err != nil {
					return err
				}
				if len(resp.Jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				rows := make([][]string, 0, len(resp.Jobs))
				for _, job := range resp.Jobs {
					attempts := strconv.Itoa(job.Attempt)
					if job.MaxRetries > 0 {
						attempts = fmt.Sprintf("%d/%d", job.Attempt, job.MaxRetries)
					}
					rows = append(rows, []string{
						job.ID,
						displayLabel(job.Type),
						job.State,
						attempts,
						job.ErrorMessage,
						job.UpdatedAt,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Type", "State", "Attempts", "Error", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	jobsCmd.Flags().StringVar(&stateFilter, "state", "", "Filter by job state (created, running, completed, failed, cancelled)")

	jobsCmd.AddCommand(newJobCancelCommand(ctx))
	return jobsCmd
}

func newJobCancelCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Force-cancel one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobCancel(args[0], reason)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s is now %s\n", resp.Job.ID, resp.Job.State)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the cancelled job")
	return cmd
}
