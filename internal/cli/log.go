package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:   "log [task-id]",
	Short: "Show event log for a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runLog,
}

func runLog(cmd *cobra.Command, args []string) error {
	s, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	id := args[0]
	events, err := s.GetEvents(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, events)
	}
	if len(events) == 0 {
		fmt.Fprintf(out, "No events for task %s\n", id)
		return nil
	}

	fmt.Fprintf(out, "Events for task %s:\n\n", id)
	for _, e := range events {
		actor := ""
		if e.Actor != "" {
			actor = fmt.Sprintf("[%s] ", e.Actor)
		}
		fmt.Fprintf(out, "  %s  %s%-14s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), actor, e.Type, e.Content)
	}
	return nil
}
