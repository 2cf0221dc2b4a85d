package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imkarma/hivegate/internal/worker"
)

var (
	workAssignee string
	workAll      bool
	workParallel int
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Claim and complete one backlog task",
	Long: "Claims the oldest unowned backlog task for an assignee, writes its execution\n" +
		"artifact, marks it done and queues a verification task. With --all, runs one\n" +
		"pass per roster agent.",
	Args: cobra.NoArgs,
	RunE: runWork,
}

func init() {
	workCmd.Flags().StringVarP(&workAssignee, "assignee", "a", "", "Agent whose queue to work (default: roster fallback)")
	workCmd.Flags().BoolVar(&workAll, "all", false, "Run one pass for every roster agent")
	workCmd.Flags().IntVar(&workParallel, "parallel", 1, "Passes to run concurrently with --all")
}

type workPass struct {
	Assignee string         `json:"assignee"`
	Result   *worker.Result `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func runWork(cmd *cobra.Command, args []string) error {
	p, err := mustPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()
	out := cmd.OutOrStdout()

	if !workAll {
		res, err := p.Worker.Run(ctx, worker.Request{Assignee: workAssignee})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, res)
		}
		printWorkResult(cmd, res)
		return nil
	}

	var assignees []string
	for _, code := range p.Roster.Codes() {
		assignees = append(assignees, string(code))
	}
	results := worker.NewPool(p.Worker, workParallel).Run(ctx, assignees)
	if jsonOutput {
		passes := make([]workPass, 0, len(results))
		for _, r := range results {
			wp := workPass{Assignee: r.Assignee, Result: r.Result}
			if r.Err != nil {
				wp.Error = r.Err.Error()
			}
			passes = append(passes, wp)
		}
		return printJSON(out, passes)
	}

	completed, failed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(out, "  %s✗%s %s: %v\n", colorRed, colorReset, r.Assignee, r.Err)
			continue
		}
		completed += r.Result.Processed
		printWorkResult(cmd, r.Result)
	}
	fmt.Fprintf(out, "\nCompleted %s across %s", plural(completed, "task"), plural(len(results), "queue"))
	if failed > 0 {
		fmt.Fprintf(out, ", %s%d failed%s", colorRed, failed, colorReset)
	}
	fmt.Fprintln(out)
	if failed > 0 {
		return fmt.Errorf("%d worker passes failed", failed)
	}
	return nil
}

func printWorkResult(cmd *cobra.Command, res *worker.Result) {
	out := cmd.OutOrStdout()
	if res.Processed == 0 {
		fmt.Fprintf(out, "  %s·%s %s: %s\n", colorDim, colorReset, res.Assignee, res.Reason)
		return
	}
	fmt.Fprintf(out, "  %s✓%s %s: %s%s%s %s\n", colorGreen, colorReset, res.Assignee, colorYellow, res.TaskID, colorReset, res.Title)
	fmt.Fprintf(out, "    %sArtifact: %s%s\n", colorDim, res.ArtifactPath, colorReset)
	if res.VerificationTaskID != "" {
		fmt.Fprintf(out, "    %sVerification: %s%s\n", colorDim, res.VerificationTaskID, colorReset)
	}
}
