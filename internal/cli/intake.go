package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imkarma/hivegate/internal/intake"
)

var (
	intakeDescription string
	intakeAssign      string
	intakeStatus      string
	intakeWindow      string
)

var intakeCmd = &cobra.Command{
	Use:   "intake [title]",
	Short: "Submit a task proposal",
	Long: "Creates a suggested task, or returns the existing one when the same title was\n" +
		"submitted for the same assignee inside the current intent window.",
	Args: cobra.MinimumNArgs(1),
	RunE: runIntake,
}

func init() {
	intakeCmd.Flags().StringVarP(&intakeDescription, "desc", "d", "", "Task description")
	intakeCmd.Flags().StringVarP(&intakeAssign, "assign", "a", "", "Agent name or alias (default: roster fallback)")
	intakeCmd.Flags().StringVar(&intakeStatus, "status", "suggested", "Initial status: suggested or backlog")
	intakeCmd.Flags().StringVar(&intakeWindow, "window", "", "Intent window start (RFC 3339); default is the current bucket")
}

func runIntake(cmd *cobra.Command, args []string) error {
	p, err := mustPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	res, err := p.Intake.Submit(ctx, intake.Request{
		Title:        strings.Join(args, " "),
		Description:  intakeDescription,
		AssignedTo:   intakeAssign,
		Status:       intakeStatus,
		IntentWindow: intakeWindow,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, res)
	}
	if res.Deduped {
		fmt.Fprintf(out, "Deduplicated: task %s%s%s already covers this intent [%s] → %s\n",
			colorYellow, res.ID, colorReset, res.Status, res.AssignedTo)
	} else {
		fmt.Fprintf(out, "Created task %s%s%s [%s] → %s\n",
			colorYellow, res.ID, colorReset, res.Status, res.AssignedTo)
	}
	fmt.Fprintf(out, "  %sKey: %s%s\n", colorDim, res.IdempotencyKey, colorReset)
	return nil
}
