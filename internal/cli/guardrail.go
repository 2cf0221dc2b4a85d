package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var guardrailMax int

var guardrailCmd = &cobra.Command{
	Use:   "guardrail",
	Short: "Admit or reject the oldest suggested tasks",
	Long: "Evaluates up to --max suggested tasks (never more than 3) against the admission\n" +
		"rules. Accepted tasks move to backlog; rejected tasks are deleted.",
	Args: cobra.NoArgs,
	RunE: runGuardrail,
}

func init() {
	guardrailCmd.Flags().IntVar(&guardrailMax, "max", 0, "Tasks to evaluate (default: guardrail.max_per_run)")
}

func runGuardrail(cmd *cobra.Command, args []string) error {
	p, err := mustPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	res, err := p.Guardrail.Run(ctx, guardrailMax)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, res)
	}
	if res.Processed == 0 {
		fmt.Fprintln(out, "No suggested tasks.")
		return nil
	}
	for _, id := range res.Accepted {
		fmt.Fprintf(out, "  %s✓%s %s accepted → backlog\n", colorGreen, colorReset, id)
	}
	for _, r := range res.Rejected {
		fmt.Fprintf(out, "  %s✗%s %s rejected: %s\n", colorRed, colorReset, r.ID, r.Reason)
	}
	fmt.Fprintf(out, "\nProcessed %d: %d accepted, %d rejected\n", res.Processed, len(res.Accepted), len(res.Rejected))
	return nil
}
