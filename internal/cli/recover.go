package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Block in-progress tasks whose claim lease expired",
	Long:  "Moves in_progress tasks with an expired lease to blocked (reason lease_expired) so they can be triaged.",
	Args:  cobra.NoArgs,
	RunE:  runRecover,
}

func runRecover(cmd *cobra.Command, args []string) error {
	p, err := mustPipeline()
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	n, err := p.Store.BlockExpiredLeases(ctx, time.Now().UTC())
	p.Metrics.LeasesExpired(n)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, map[string]int{"blocked": n})
	}
	if n == 0 {
		fmt.Fprintln(out, "No expired leases.")
		return nil
	}
	fmt.Fprintf(out, "Blocked %s with expired leases. Run: hivegate status\n", plural(n, "task"))
	return nil
}
