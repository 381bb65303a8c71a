package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"sceneflow/internal/ipc"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var title string
	var audioPath string

	cmd := &cobra.Command{
		Use:   "start <project-id>",
		Short: "Start a project pipeline from an audio track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ProjectStart(ipc.ProjectStartRequest{
					ProjectID: args[0],
					Title:     title,
					AudioPath: audioPath,
				})
				if err != nil {
					return err
				}
				if !resp.Accepted {
					return fmt.Errorf("start rejected: %s", resp.Message)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pipeline started for %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Project title")
	cmd.Flags().StringVar(&audioPath, "audio", "", "Path or URI of the source audio track")
	return cmd
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <project-id>",
		Short: "Resume a checkpointed project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ProjectResume(args[0])
				if err != nil {
					return err
				}
				if !resp.Accepted {
					return fmt.Errorf("resume rejected: %s", resp.Message)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pipeline resumed for %s\n", args[0])
				return nil
			})
		},
	}
}

func newRegenerateCommand(ctx *commandContext) *cobra.Command {
	var force bool
	var prompt string

	cmd := &cobra.Command{
		Use:   "regenerate <project-id> <scene-id>",
		Short: "Re-generate one scene, optionally with a revised prompt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Regenerate(ipc.RegenerateRequest{
					ProjectID:          args[0],
					SceneID:            args[1],
					ForceRegenerate:    force,
					PromptModification: prompt,
				})
				if err != nil {
					return err
				}
				if !resp.Accepted {
					return fmt.Errorf("regenerate rejected")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Regeneration queued for scene %s\n", args[1])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Regenerate even when the scene already completed")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt modification applied to this scene")
	return cmd
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "resolve <project-id> <action>",
		Short: "Answer a pending intervention (retry, retry-with-revised-params, skip, abort)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			revised, err := parseParams(params)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Resolve(ipc.ResolveRequest{
					ProjectID:     args[0],
					Action:        args[1],
					RevisedParams: revised,
				})
				if err != nil {
					return err
				}
				if !resp.Accepted {
					return fmt.Errorf("resolution rejected")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Intervention resolved with %q\n", args[1])
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "Revised parameter as key=value (repeatable)")
	return cmd
}

func newSetAssetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set-asset <project-id> <scene-id> <asset-key> <version>",
		Short: "Promote an existing asset version to best for a scene",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("parse version %q: %w", args[3], err)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SetAsset(ipc.SetAssetRequest{
					ProjectID: args[0],
					SceneID:   args[1],
					AssetKey:  args[2],
					Version:   version,
				})
				if err != nil {
					return err
				}
				if !resp.Updated {
					return fmt.Errorf("asset not updated")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scene %s now uses %s version %d\n", args[1], args[2], version)
				return nil
			})
		},
	}
}

func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("parse param %q: expected key=value", pair)
		}
		params[strings.TrimSpace(key)] = value
	}
	return params, nil
}
