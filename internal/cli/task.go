package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/imkarma/hivegate/internal/artifact"
	"github.com/imkarma/hivegate/internal/store"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list [status]",
	Short: "List tasks, optionally filtered by status",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show task details, events and execution record",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

func init() {
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
}

func runTaskList(cmd *cobra.Command, args []string) error {
	var status store.Status
	if len(args) > 0 {
		status = store.Status(args[0])
		if !status.Valid() {
			return fmt.Errorf("unknown status %q (suggested, backlog, in_progress, blocked, done)", args[0])
		}
	}

	s, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	var tasks []store.Task
	if status != "" {
		tasks, err = s.ListByStatus(ctx, status)
	} else {
		tasks, err = s.ListTasks(ctx)
	}
	if err != nil {
		return err
	}
	store.SortByAge(tasks)

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks found.")
		return nil
	}

	for _, t := range tasks {
		agent := ""
		if t.AssignedTo != "" {
			agent = fmt.Sprintf(" [%s]", t.AssignedTo)
		}
		extra := ""
		switch {
		case t.Status == store.StatusBlocked:
			extra = fmt.Sprintf(" BLOCKED: %q", t.BlockedReason)
		case t.ValidationStatus != store.ValidationNone:
			extra = fmt.Sprintf(" (%s)", t.ValidationStatus)
		}
		fmt.Fprintf(out, "%s  %-12s %s%s%s\n", shortID(t.ID), t.Status, t.Title, agent, extra)
	}
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	s, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	id := args[0]
	task, err := s.GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("task %s not found", id)
	}
	if err != nil {
		return err
	}
	events, err := s.GetEvents(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]any{"task": task, "events": events})
	}

	fmt.Fprintf(out, "Task %s\n", task.ID)
	fmt.Fprintf(out, "  Title:      %s\n", task.Title)
	fmt.Fprintf(out, "  Status:     %s\n", task.Status)
	fmt.Fprintf(out, "  Assignee:   %s\n", orDash(task.AssignedTo))
	if task.Owner != "" {
		fmt.Fprintf(out, "  Owner:      %s\n", task.Owner)
	}
	if task.LeaseUntil != nil {
		fmt.Fprintf(out, "  Lease:      %s\n", task.LeaseUntil.Format("2006-01-02 15:04:05"))
	}
	if task.ValidationStatus != store.ValidationNone {
		fmt.Fprintf(out, "  Validation: %s\n", task.ValidationStatus)
	}
	if task.ArtifactPath != "" {
		fmt.Fprintf(out, "  Artifact:   %s\n", task.ArtifactPath)
	}
	if task.SourceTaskID != "" {
		fmt.Fprintf(out, "  Verifies:   %s\n", task.SourceTaskID)
	}
	if task.BlockedReason != "" {
		fmt.Fprintf(out, "  Blocked:    %s\n", task.BlockedReason)
	}
	fmt.Fprintf(out, "  Created:    %s\n", task.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(out, "  Updated:    %s\n", task.UpdatedAt.Format("2006-01-02 15:04"))
	if task.Description != "" {
		fmt.Fprintf(out, "\n%s\n", task.Description)
	}

	if task.ArtifactPath != "" {
		arts := artifact.NewOsStore(appCfg.Artifacts.Dir, appCfg.Artifacts.SearchDirs)
		rec, _, err := arts.Read(task.ArtifactPath)
		switch {
		case err == nil:
			fmt.Fprintf(out, "\n  Execution: %s by %s at %s\n", rec.StatusFlow, rec.Worker,
				rec.CompletedAt.UTC().Format("2006-01-02 15:04:05"))
		case errors.Is(err, os.ErrNotExist):
			fmt.Fprintf(out, "\n  %sExecution record missing%s\n", colorRed, colorReset)
		default:
			fmt.Fprintf(out, "\n  %sExecution record unreadable: %v%s\n", colorRed, err, colorReset)
		}
	}

	if len(events) > 0 {
		fmt.Fprintln(out, "\n  Events:")
		for _, e := range events {
			actor := ""
			if e.Actor != "" {
				actor = fmt.Sprintf("[%s] ", e.Actor)
			}
			fmt.Fprintf(out, "    %s %s%s: %s\n", e.Timestamp.Format("15:04"), actor, e.Type, e.Content)
		}
	}
	return nil
}
