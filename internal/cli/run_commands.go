package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/fyreflow/engine/pkg/run"
)

func newRunCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start, inspect, and control pipeline runs",
	}
	cmd.AddCommand(
		newRunStartCommand(g),
		newRunListCommand(g),
		newRunGetCommand(g),
		newRunWatchCommand(g),
		newRunApproveCommand(g),
		newRunStopCommand(g),
		newRunPauseCommand(g),
		newRunResumeCommand(g),
	)
	return cmd
}

func newRunStartCommand(g *Globals) *cobra.Command {
	var (
		task     string
		scenario string
		inputs   []string
	)
	cmd := &cobra.Command{
		Use:   "start <pipeline-id>",
		Short: "Start a new run of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedInputs, err := parseInputFlags(inputs)
			if err != nil {
				return &ExitError{Code: ExitUsage, Message: "invalid --input", Cause: err}
			}
			c := clientFor(g)
			r, err := c.StartRun(cmd.Context(), args[0], StartRunRequest{
				Task:     task,
				Inputs:   parsedInputs,
				Scenario: scenario,
			})
			if err != nil {
				return NewServerError("failed to start run", err)
			}
			return printRun(cmd, g, r)
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "task description handed to the pipeline's entry step")
	cmd.Flags().StringVar(&scenario, "scenario", "", "optional scenario label")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "input key=value pair, repeatable")
	return cmd
}

func parseInputFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}

func newRunListCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs known to the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFor(g)
			runs, err := c.ListRuns(cmd.Context())
			if err != nil {
				return NewServerError("failed to list runs", err)
			}
			if g.JSON {
				return printJSON(cmd, runs)
			}
			for _, r := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s  %s\n", r.ID, r.Status, truncate(r.Task, 60))
			}
			return nil
		},
	}
}

func newRunGetCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one run's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFor(g)
			r, err := c.GetRun(cmd.Context(), args[0])
			if err != nil {
				return NewServerError("failed to get run", err)
			}
			return printRun(cmd, g, r)
		},
	}
}

func newRunWatchCommand(g *Globals) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Poll a run until it reaches a terminal state, rendering its timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFor(g)
			ctx := cmd.Context()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				r, err := c.GetRun(ctx, args[0])
				if err != nil {
					return NewServerError("failed to get run", err)
				}
				if !g.JSON {
					fmt.Fprint(cmd.OutOrStdout(), "\033[2J\033[H")
				}
				if err := printRun(cmd, g, r); err != nil {
					return err
				}
				if r.Status.Terminal() {
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}

func newRunApproveCommand(g *Globals) *cobra.Command {
	var (
		decision string
		note     string
	)
	cmd := &cobra.Command{
		Use:   "approve <run-id> <approval-id>",
		Short: "Resolve a pending approval gate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if decision == "" {
				answered, err := promptApprovalDecision()
				if err != nil {
					return &ExitError{Code: ExitUsage, Message: "approval prompt cancelled", Cause: err}
				}
				decision = answered
			}
			status := run.ApprovalStatus(decision)
			if status != run.ApprovalStatusApproved && status != run.ApprovalStatusRejected {
				return &ExitError{Code: ExitUsage, Message: "decision must be approved or rejected"}
			}
			if note == "" {
				_ = survey.AskOne(&survey.Input{Message: "Note (optional):"}, &note)
			}
			c := clientFor(g)
			if err := c.ResolveApproval(cmd.Context(), args[0], args[1], ResolveApprovalRequest{
				Decision: status,
				Note:     note,
			}); err != nil {
				return NewServerError("failed to resolve approval", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), RenderOK(fmt.Sprintf("approval %s %s", args[1], decision)))
			return nil
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approved or rejected (prompts interactively if omitted)")
	cmd.Flags().StringVar(&note, "note", "", "note to attach to the decision")
	return cmd
}

func promptApprovalDecision() (string, error) {
	var result string
	prompt := &survey.Select{
		Message: "Decision:",
		Options: []string{string(run.ApprovalStatusApproved), string(run.ApprovalStatusRejected)},
	}
	if err := survey.AskOne(prompt, &result); err != nil {
		return "", err
	}
	return result, nil
}

func newRunStopCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <run-id>",
		Short: "Cancel a live run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFor(g).StopRun(cmd.Context(), args[0]); err != nil {
				return NewServerError("failed to stop run", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), RenderOK("cancel requested"))
			return nil
		},
	}
}

func newRunPauseCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <run-id>",
		Short: "Pause a live run at its next safe checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFor(g).PauseRun(cmd.Context(), args[0]); err != nil {
				return NewServerError("failed to pause run", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), RenderOK("pause requested"))
			return nil
		},
	}
}

func newRunResumeCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a paused live run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFor(g).ResumeRun(cmd.Context(), args[0]); err != nil {
				return NewServerError("failed to resume run", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), RenderOK("resumed"))
			return nil
		},
	}
}

func printRun(cmd *cobra.Command, g *Globals, r *run.Run) error {
	if g.JSON {
		return printJSON(cmd, r)
	}
	fmt.Fprint(cmd.OutOrStdout(), RenderTimeline(r))
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
