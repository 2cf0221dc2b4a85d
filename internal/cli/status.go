package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/imkarma/hivegate/internal/store"
	"github.com/imkarma/hivegate/internal/worker"
)

var (
	clrSubtle    = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#666666"}
	clrHighlight = lipgloss.AdaptiveColor{Light: "#0F766E", Dark: "#2DD4BF"}
	clrGreen     = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	clrYellow    = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"}
	clrRed       = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	clrBlue      = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
	clrWhite     = lipgloss.AdaptiveColor{Light: "#333333", Dark: "#DDDDDD"}
	clrDim       = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#555555"}
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(clrHighlight)
	labelStyle = lipgloss.NewStyle().Foreground(clrSubtle).Width(14)
	dimStyle   = lipgloss.NewStyle().Foreground(clrDim)
	errorStyle = lipgloss.NewStyle().Foreground(clrRed).Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(clrSubtle).
			Padding(0, 1)

	statusColors = map[store.Status]lipgloss.AdaptiveColor{
		store.StatusSuggested:  clrYellow,
		store.StatusBacklog:    clrWhite,
		store.StatusInProgress: clrBlue,
		store.StatusBlocked:    clrRed,
		store.StatusDone:       clrGreen,
	}
)

var statusOrder = []store.Status{
	store.StatusSuggested,
	store.StatusBacklog,
	store.StatusInProgress,
	store.StatusBlocked,
	store.StatusDone,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Quick status overview",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

// boardSummary counts tasks the way the status panel shows them.
type boardSummary struct {
	Total        int                  `json:"total"`
	ByStatus     map[store.Status]int `json:"by_status"`
	Pending      int                  `json:"validation_pending"`
	Passed       int                  `json:"validation_pass"`
	Failed       int                  `json:"validation_fail"`
	Verification int                  `json:"verification_queue"`
	Blocked      []store.Task         `json:"blocked,omitempty"`
	Escalated    []store.Task         `json:"escalated,omitempty"`
}

func summarize(tasks []store.Task) boardSummary {
	sum := boardSummary{Total: len(tasks), ByStatus: map[store.Status]int{}}
	for _, t := range tasks {
		sum.ByStatus[t.Status]++
		switch t.ValidationStatus {
		case store.ValidationPending:
			sum.Pending++
		case store.ValidationPass:
			sum.Passed++
		case store.ValidationFail:
			sum.Failed++
		}
		if t.Status == store.StatusBacklog && worker.IsVerification(t.Title) {
			sum.Verification++
		}
		if t.Status == store.StatusBlocked {
			sum.Blocked = append(sum.Blocked, t)
		}
		if t.Status == store.StatusBacklog && t.ValidationStatus == store.ValidationFail && t.BlockedReason != "" {
			sum.Escalated = append(sum.Escalated, t)
		}
	}
	store.SortByAge(sum.Blocked)
	store.SortByAge(sum.Escalated)
	return sum
}

func renderStatus(sum boardSummary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Tasks: %d total", sum.Total)))
	b.WriteString("\n")
	for _, st := range statusOrder {
		count := lipgloss.NewStyle().Foreground(statusColors[st]).Render(fmt.Sprint(sum.ByStatus[st]))
		b.WriteString(labelStyle.Render(string(st)+":") + count + "\n")
	}
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("evidence:"))
	b.WriteString(fmt.Sprintf("%d pending, %d pass, %d fail", sum.Pending, sum.Passed, sum.Failed))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("to verify:"))
	b.WriteString(fmt.Sprint(sum.Verification))

	panel := panelStyle.Render(b.String())

	var notes []string
	if len(sum.Blocked) > 0 {
		notes = append(notes, "", errorStyle.Render("Blockers:"))
		for _, t := range sum.Blocked {
			notes = append(notes, fmt.Sprintf("  %s %s %s", shortID(t.ID), t.Title, dimStyle.Render("("+t.BlockedReason+")")))
		}
	}
	if len(sum.Escalated) > 0 {
		notes = append(notes, "", errorStyle.Render("Reopened for missing evidence:"))
		for _, t := range sum.Escalated {
			notes = append(notes, fmt.Sprintf("  %s %s %s", shortID(t.ID), t.Title, dimStyle.Render("["+orDash(t.AssignedTo)+"]")))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, append([]string{panel}, notes...)...)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := mustStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	tasks, err := s.ListTasks(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	sum := summarize(tasks)
	if jsonOutput {
		return printJSON(out, sum)
	}
	if sum.Total == 0 {
		fmt.Fprintf(out, "No tasks. Run: %shivegate intake \"title\"%s\n", colorCyan, colorReset)
		return nil
	}
	fmt.Fprintln(out, renderStatus(sum))
	return nil
}
