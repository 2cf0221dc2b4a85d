// Package intake implements idempotent task creation: repeated submissions
// of the same intent inside one time bucket resolve to the same task.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/imkarma/hivegate/internal/agent"
	"github.com/imkarma/hivegate/internal/audit"
	"github.com/imkarma/hivegate/internal/config"
	"github.com/imkarma/hivegate/internal/metrics"
	"github.com/imkarma/hivegate/internal/store"
)

// ErrInvalidInput is returned for requests that fail validation.
var ErrInvalidInput = errors.New("invalid input")

// DefaultWindow is the width of an intent bucket.
const DefaultWindow = 3 * time.Hour

// TaskStore is the subset of the task store intake needs.
type TaskStore interface {
	ListTasks(ctx context.Context) ([]store.Task, error)
	CreateTask(ctx context.Context, nt store.NewTask) (*store.Task, error)
}

// Request is an external creation request.
type Request struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	AssignedTo   string `json:"assigned_to,omitempty"`
	Status       string `json:"status,omitempty"`
	IntentWindow string `json:"intent_window,omitempty"` // RFC 3339
}

// Result describes the task a request resolved to.
type Result struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	AssignedTo     string `json:"assigned_to"`
	IdempotencyKey string `json:"idempotency_key"`
	IntentWindow   string `json:"intent_window"`
	Deduped        bool   `json:"deduped"`
}

// Service handles intake requests.
type Service struct {
	Store   TaskStore
	Roster  *agent.Roster
	Window  time.Duration
	Now     func() time.Time
	Log     zerolog.Logger
	Metrics *metrics.Metrics
}

// New creates an intake service with the default window and clock.
func New(st TaskStore, roster *agent.Roster) *Service {
	return &Service{
		Store:  st,
		Roster: roster,
		Window: DefaultWindow,
		Now:    time.Now,
		Log:    zerolog.Nop(),
	}
}

// Bucket returns the start of the UTC bucket of the given width containing t.
func Bucket(t time.Time, width time.Duration) time.Time {
	if width <= 0 {
		width = DefaultWindow
	}
	return t.UTC().Truncate(width)
}

// Key renders the idempotency key for a submission.
func Key(title string, assignee agent.Code, window time.Time) string {
	return normalizeTitle(title) + "|" + string(assignee) + "|" + window.UTC().Format(time.RFC3339)
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// Submit resolves req to an existing matching task or creates a new one.
// At most one task is created per call.
func (s *Service) Submit(ctx context.Context, req Request) (*Result, error) {
	if s == nil || s.Store == nil {
		return nil, fmt.Errorf("%w: intake has no task store", config.ErrConfiguration)
	}
	if s.Roster == nil {
		return nil, fmt.Errorf("%w: intake has no agent roster", config.ErrConfiguration)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	assignee := s.Roster.Resolve(req.AssignedTo)

	status := store.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	if status != store.StatusBacklog {
		status = store.StatusSuggested
	}

	window, err := s.window(req.IntentWindow)
	if err != nil {
		return nil, err
	}
	key := Key(title, assignee, window)

	tasks, err := s.Store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	if existing := findMatch(tasks, normalizeTitle(title), string(assignee), window); existing != nil {
		s.Metrics.Intake("duplicate")
		s.Log.Debug().Str("task_id", existing.ID).Str("key", key).Msg("intake deduplicated")
		return &Result{
			ID:             existing.ID,
			Status:         string(existing.Status),
			AssignedTo:     existing.AssignedTo,
			IdempotencyKey: key,
			IntentWindow:   window.Format(time.RFC3339),
			Deduped:        true,
		}, nil
	}

	task, err := s.Store.CreateTask(ctx, store.NewTask{
		Title:          title,
		Description:    audit.AppendLine(req.Description, audit.KeyPrefix+" "+key),
		Status:         status,
		AssignedTo:     string(assignee),
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.Metrics.Intake("created")
	s.Log.Info().Str("task_id", task.ID).Str("assignee", string(assignee)).Str("status", string(task.Status)).Msg("intake created task")
	return &Result{
		ID:             task.ID,
		Status:         string(task.Status),
		AssignedTo:     task.AssignedTo,
		IdempotencyKey: key,
		IntentWindow:   window.Format(time.RFC3339),
	}, nil
}

func (s *Service) window(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		return Bucket(now(), s.Window), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: intent_window must be RFC 3339: %v", ErrInvalidInput, err)
	}
	return Bucket(t, s.Window), nil
}

// findMatch returns the oldest task created inside the window with the same
// normalized title and assignee that is still waiting to be worked.
func findMatch(tasks []store.Task, title, assignee string, window time.Time) *store.Task {
	var matches []store.Task
	for _, t := range tasks {
		if t.Status != store.StatusSuggested && t.Status != store.StatusBacklog {
			continue
		}
		if t.CreatedAt.Before(window) {
			continue
		}
		if t.AssignedTo != assignee || normalizeTitle(t.Title) != title {
			continue
		}
		matches = append(matches, t)
	}
	if len(matches) == 0 {
		return nil
	}
	store.SortByAge(matches)
	return &matches[0]
}
