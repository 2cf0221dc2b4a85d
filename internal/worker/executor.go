// Package worker claims backlog tasks, runs the placeholder execution
// workflow and records proof-of-work artifacts.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/imkarma/hivegate/internal/agent"
	"github.com/imkarma/hivegate/internal/artifact"
	"github.com/imkarma/hivegate/internal/audit"
	"github.com/imkarma/hivegate/internal/config"
	"github.com/imkarma/hivegate/internal/metrics"
	"github.com/imkarma/hivegate/internal/store"
)

// VerificationPrefix starts the title of every verification task.
const VerificationPrefix = "Verify artifact evidence:"

// ReasonNoTask is reported when the assignee has nothing to claim.
const ReasonNoTask = "no_matching_backlog_task"

// DefaultLease is how long a claim is held.
const DefaultLease = 15 * time.Minute

// TaskStore is the subset of the task store the executor needs.
type TaskStore interface {
	ListTasks(ctx context.Context) ([]store.Task, error)
	ClaimTask(ctx context.Context, id, owner string, leaseUntil time.Time) (bool, error)
	UpdateFields(ctx context.Context, id string, p store.Patch) error
	UpdateStatus(ctx context.Context, id string, status store.Status) error
	CreateTask(ctx context.Context, nt store.NewTask) (*store.Task, error)
	AddEvent(ctx context.Context, taskID, actor, eventType, content string) error
}

// ArtifactWriter persists execution records.
type ArtifactWriter interface {
	Write(ctx context.Context, rec artifact.Record) (string, error)
}

// Request selects whose queue to work. Max is accepted for compatibility
// and clamped to 1: a call never completes more than one task.
type Request struct {
	Assignee string `json:"assignee,omitempty"`
	Max      int    `json:"max,omitempty"`
}

// Result summarizes one executor call.
type Result struct {
	Processed          int    `json:"processed"`
	TaskID             string `json:"task_id,omitempty"`
	Title              string `json:"title,omitempty"`
	Assignee           string `json:"assignee"`
	ArtifactPath       string `json:"artifact_path,omitempty"`
	VerificationTaskID string `json:"verification_task_id,omitempty"`
	Reason             string `json:"reason,omitempty"`
}

// Executor claims and completes a single task per call.
type Executor struct {
	Store     TaskStore
	Artifacts ArtifactWriter
	Roster    *agent.Roster
	WorkerID  string
	Lease     time.Duration

	// SpawnVerification queues a verification task for each completion.
	SpawnVerification bool

	Now     func() time.Time
	Log     zerolog.Logger
	Metrics *metrics.Metrics
}

// New creates an executor with default lease and verification spawning on.
func New(st TaskStore, artifacts ArtifactWriter, roster *agent.Roster, workerID string) *Executor {
	return &Executor{
		Store:             st,
		Artifacts:         artifacts,
		Roster:            roster,
		WorkerID:          workerID,
		Lease:             DefaultLease,
		SpawnVerification: true,
		Now:               time.Now,
		Log:               zerolog.Nop(),
	}
}

// IsVerification reports whether title names a verification task.
func IsVerification(title string) bool {
	return strings.HasPrefix(strings.TrimSpace(title), VerificationPrefix)
}

// Run claims the oldest backlog task of the requested assignee and completes
// it. An empty queue is a normal result with Processed == 0.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	if e.Store == nil || e.Artifacts == nil || e.Roster == nil {
		return nil, fmt.Errorf("%w: worker is missing its store, artifact tree or roster", config.ErrConfiguration)
	}
	assignee := e.Roster.Resolve(req.Assignee)

	tasks, err := e.Store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	queues := []string{string(assignee)}
	if legacy := e.Roster.Legacy(); e.Roster.IsLead(assignee) && legacy != "" && legacy != string(assignee) {
		queues = append(queues, legacy)
	}

	for _, queue := range queues {
		for _, t := range candidates(tasks, queue) {
			won, err := e.Store.ClaimTask(ctx, t.ID, e.WorkerID, e.now().Add(e.lease()))
			if err != nil {
				return nil, fmt.Errorf("claim task %s: %w", t.ID, err)
			}
			if !won {
				e.Metrics.ClaimConflict()
				e.Log.Debug().Str("task_id", t.ID).Msg("claim lost to another worker")
				continue
			}
			return e.complete(ctx, t, assignee)
		}
	}

	e.Metrics.WorkerRun("idle")
	e.Log.Debug().Str("assignee", string(assignee)).Msg("no matching backlog task")
	return &Result{Assignee: string(assignee), Reason: ReasonNoTask}, nil
}

func candidates(tasks []store.Task, assignee string) []store.Task {
	var out []store.Task
	for _, t := range tasks {
		if t.Status != store.StatusBacklog || t.AssignedTo != assignee || t.Owner != "" {
			continue
		}
		if IsVerification(t.Title) {
			continue
		}
		out = append(out, t)
	}
	store.SortByAge(out)
	return out
}

// complete runs the placeholder workflow for a claimed task. A failed
// artifact write leaves the task in_progress for lease recovery.
func (e *Executor) complete(ctx context.Context, t store.Task, assignee agent.Code) (*Result, error) {
	now := e.now()
	path, err := e.Artifacts.Write(ctx, artifact.Record{
		TaskID:      t.ID,
		Title:       t.Title,
		Description: audit.StripKeys(t.Description),
		Worker:      e.WorkerID,
		Assignee:    t.AssignedTo,
		CompletedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("write artifact for task %s: %w", t.ID, err)
	}

	note := audit.Note{At: now, Actor: e.WorkerID, Message: audit.ArtifactPrefix + " " + path}
	desc := audit.Append(t.Description, note)
	err = e.Store.UpdateFields(ctx, t.ID, store.Patch{
		Description:      &desc,
		ArtifactPath:     &path,
		ValidationStatus: store.Ptr(store.ValidationPending),
		ClearClaim:       true,
	})
	if err != nil {
		return nil, fmt.Errorf("record artifact for task %s: %w", t.ID, err)
	}
	if err := e.Store.AddEvent(ctx, t.ID, e.WorkerID, "note", note.String()); err != nil {
		e.Log.Warn().Err(err).Str("task_id", t.ID).Msg("record artifact note")
	}
	if err := e.Store.UpdateStatus(ctx, t.ID, store.StatusDone); err != nil {
		return nil, fmt.Errorf("complete task %s: %w", t.ID, err)
	}

	res := &Result{
		Processed:    1,
		TaskID:       t.ID,
		Title:        t.Title,
		Assignee:     string(assignee),
		ArtifactPath: path,
	}
	e.Metrics.WorkerRun("completed")
	e.Log.Info().Str("task_id", t.ID).Str("artifact", path).Msg("task completed")

	if !e.SpawnVerification {
		return res, nil
	}
	v, err := e.Store.CreateTask(ctx, store.NewTask{
		Title:        VerificationPrefix + " " + t.Title,
		Description:  audit.SourceLine(t.ID),
		Status:       store.StatusBacklog,
		AssignedTo:   t.AssignedTo,
		SourceTaskID: t.ID,
	})
	if err != nil {
		return res, fmt.Errorf("queue verification for task %s: %w", t.ID, err)
	}
	res.VerificationTaskID = v.ID
	return res, nil
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Executor) lease() time.Duration {
	if e.Lease > 0 {
		return e.Lease
	}
	return DefaultLease
}
