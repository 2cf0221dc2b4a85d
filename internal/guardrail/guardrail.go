// Package guardrail promotes suggested tasks into the backlog, deleting the
// ones that are duplicates, too vague or too risky to act on.
package guardrail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/imkarma/hivegate/internal/audit"
	"github.com/imkarma/hivegate/internal/config"
	"github.com/imkarma/hivegate/internal/metrics"
	"github.com/imkarma/hivegate/internal/store"
)

// MaxPerRun is the hard cap on tasks processed per run.
const MaxPerRun = 3

const actor = "guardrail"

// TaskStore is the subset of the task store the filter needs.
type TaskStore interface {
	ListTasks(ctx context.Context) ([]store.Task, error)
	UpdateStatus(ctx context.Context, id string, status store.Status) error
	DeleteTask(ctx context.Context, id string) error
	AddEvent(ctx context.Context, taskID, actor, eventType, content string) error
}

// Rejection records why a task was removed.
type Rejection struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Result summarizes one run.
type Result struct {
	Processed int         `json:"processed"`
	Accepted  []string    `json:"accepted"`
	Rejected  []Rejection `json:"rejected"`
}

// Filter evaluates suggested tasks against an ordered rule list.
type Filter struct {
	Store TaskStore
	Rules []Rule

	// Max is the batch size used when Run is called without a limit.
	Max int

	Now     func() time.Time
	Log     zerolog.Logger
	Metrics *metrics.Metrics
}

// New creates a filter with the rules described by cfg.
func New(st TaskStore, cfg config.GuardrailConfig) *Filter {
	return &Filter{Store: st, Rules: DefaultRules(cfg), Max: cfg.MaxPerRun, Now: time.Now, Log: zerolog.Nop()}
}

// ClampMax maps a requested batch size onto 1..MaxPerRun, defaulting to MaxPerRun.
func ClampMax(n int) int {
	if n <= 0 || n > MaxPerRun {
		return MaxPerRun
	}
	return n
}

// Run processes up to limit of the oldest suggested tasks; a limit of zero
// or less means f.Max. Accepted tasks move
// to backlog; rejected tasks are deleted. A failed store mutation stops the
// run and is returned together with the partial result.
func (f *Filter) Run(ctx context.Context, limit int) (*Result, error) {
	if f.Store == nil {
		return nil, fmt.Errorf("%w: guardrail has no task store", config.ErrConfiguration)
	}
	if limit <= 0 {
		limit = f.Max
	}
	limit = ClampMax(limit)

	tasks, err := f.Store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	blocklist := make(map[string]bool)
	var suggested []store.Task
	for _, t := range tasks {
		switch t.Status {
		case store.StatusBacklog, store.StatusInProgress, store.StatusDone:
			blocklist[Normalize(t.Title)] = true
		case store.StatusSuggested:
			suggested = append(suggested, t)
		}
	}
	store.SortByAge(suggested)
	if len(suggested) > limit {
		suggested = suggested[:limit]
	}

	res := &Result{Accepted: []string{}, Rejected: []Rejection{}}
	for _, t := range suggested {
		c := candidate(t, blocklist)

		if reason := f.evaluate(c); reason != "" {
			if err := f.reject(ctx, t, reason); err != nil {
				return res, err
			}
			res.Processed++
			res.Rejected = append(res.Rejected, Rejection{ID: t.ID, Reason: reason})
			continue
		}

		if err := f.Store.UpdateStatus(ctx, t.ID, store.StatusBacklog); err != nil {
			return res, fmt.Errorf("promote task %s: %w", t.ID, err)
		}
		blocklist[c.Title] = true
		res.Processed++
		res.Accepted = append(res.Accepted, t.ID)
		f.Metrics.GuardrailDecision("promoted")
		f.Log.Debug().Str("task_id", t.ID).Str("title", t.Title).Msg("promoted to backlog")
	}

	f.Log.Info().
		Int("processed", res.Processed).
		Int("accepted", len(res.Accepted)).
		Int("rejected", len(res.Rejected)).
		Msg("guardrail run complete")
	return res, nil
}

func candidate(t store.Task, blocklist map[string]bool) Candidate {
	title := Normalize(t.Title)
	raw := t.Title + " " + audit.StripKeys(t.Description)
	return Candidate{
		Task:      t,
		Title:     title,
		Text:      Normalize(raw),
		Words:     len(strings.Fields(raw)),
		Duplicate: blocklist[title],
	}
}

func (f *Filter) evaluate(c Candidate) string {
	for _, rule := range f.Rules {
		if reason := rule(c); reason != "" {
			return reason
		}
	}
	return ""
}

// reject records the decision in the event log, which outlives the task,
// then deletes the task.
func (f *Filter) reject(ctx context.Context, t store.Task, reason string) error {
	note := audit.Note{At: f.now(), Actor: actor, Message: fmt.Sprintf("rejected %q: %s", t.Title, reason)}
	if err := f.Store.AddEvent(ctx, t.ID, actor, "rejected", note.String()); err != nil {
		f.Log.Warn().Err(err).Str("task_id", t.ID).Msg("record rejection event")
	}
	if err := f.Store.DeleteTask(ctx, t.ID); err != nil {
		return fmt.Errorf("delete rejected task %s: %w", t.ID, err)
	}
	f.Metrics.GuardrailDecision("rejected")
	f.Log.Info().Str("task_id", t.ID).Str("title", t.Title).Str("reason", reason).Msg("rejected suggested task")
	return nil
}

func (f *Filter) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}
