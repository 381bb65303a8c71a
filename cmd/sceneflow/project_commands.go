package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sceneflow/internal/daemon"
	"sceneflow/internal/ipc"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Inspect projects",
	}

	projectCmd.AddCommand(newProjectListCommand(ctx))
	projectCmd.AddCommand(newProjectShowCommand(ctx))

	return projectCmd
}

func newProjectListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ProjectList()
				if err != nil {
					return err
				}
				if len(resp.Projects) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No projects yet")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Project", "Title", "Phase", "Node", "Scenes", "Intervention"},
					buildProjectRows(resp.Projects),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newProjectShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show one project's checkpointed state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ProjectDescribe(args[0])
				if err != nil {
					return err
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				detail := resp.Detail
				summary := detail.Summary

				for _, line := range renderSectionHeader("Project "+summary.ProjectID, colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Title", statusInfo, summary.Title, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Phase", phaseKind(summary.Phase), displayLabel(summary.Phase), colorize))
				if summary.CurrentNode != "" {
					fmt.Fprintln(stdout, renderStatusLine("Current node", statusInfo, displayLabel(summary.CurrentNode), colorize))
				}
				fmt.Fprintln(stdout, renderStatusLine("Checkpoint", statusInfo, fmt.Sprintf("version %d", detail.Version), colorize))
				scenes := fmt.Sprintf("%d/%d completed", summary.ScenesCompleted, summary.ScenesTotal)
				fmt.Fprintln(stdout, renderStatusLine("Scenes", statusInfo, scenes, colorize))
				if summary.FinalVideoURI != "" {
					fmt.Fprintln(stdout, renderStatusLine("Final video", statusOK, summary.FinalVideoURI, colorize))
				}

				state := detail.State
				if state == nil {
					return nil
				}
				if state.Interrupt != nil {
					fmt.Fprintln(stdout, renderStatusLine("Intervention", statusError,
						fmt.Sprintf("%s: %s", displayLabel(state.Interrupt.NodeName), state.Interrupt.Error), colorize))
				}
				if state.Storyboard == nil || len(state.Storyboard.Scenes) == 0 {
					return nil
				}

				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Scenes", colorize) {
					fmt.Fprintln(stdout, line)
				}
				rows := make([][]string, 0, len(state.Storyboard.Scenes))
				for _, scene := range state.Storyboard.Scenes {
					score := ""
					if scene.Score > 0 {
						score = strconv.FormatFloat(scene.Score, 'f', 2, 64)
					}
					rows = append(rows, []string{
						scene.ID,
						scene.Title,
						displayLabel(scene.Status),
						score,
						strconv.Itoa(scene.Attempts),
						yesNo(scene.Warning),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"Scene", "Title", "Status", "Score", "Attempts", "Warning"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func buildProjectRows(projects []daemon.ProjectSummary) [][]string {
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		rows = append(rows, []string{
			p.ProjectID,
			p.Title,
			displayLabel(p.Phase),
			displayLabel(p.CurrentNode),
			fmt.Sprintf("%d/%d", p.ScenesCompleted, p.ScenesTotal),
			yesNo(p.Intervention),
		})
	}
	return rows
}

// displayLabel turns a snake_case phase or node name into a readable label.
func displayLabel(value string) string {
	if value == "" {
		return ""
	}
	return cases.Title(language.Und).String(strings.ReplaceAll(value, "_", " "))
}

func phaseKind(phase string) statusKind {
	switch phase {
	case "complete":
		return statusOK
	case "paused":
		return statusWarn
	case "error":
		return statusError
	default:
		return statusInfo
	}
}
