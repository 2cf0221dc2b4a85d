// Package sweeper re-examines completed work through its verification tasks
// and either confirms the evidence or reopens the source task.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/imkarma/hivegate/internal/audit"
	"github.com/imkarma/hivegate/internal/config"
	"github.com/imkarma/hivegate/internal/metrics"
	"github.com/imkarma/hivegate/internal/store"
	"github.com/imkarma/hivegate/internal/worker"
)

// Actor stamps every note the sweeper appends.
const Actor = "evidence-sweeper"

// Escalation reasons.
const (
	ReasonSourceMissing   = "source_task_not_found"
	ReasonEvidenceMissing = "artifact_evidence_missing"
)

// Outcomes, one per checked verification task.
const (
	OutcomeVerified      = "verified"
	OutcomeEscalated     = "escalated"
	OutcomeSourceMissing = "source_missing"
	OutcomeError         = "error"
)

// TaskStore is the subset of the task store the sweeper needs.
type TaskStore interface {
	ListTasks(ctx context.Context) ([]store.Task, error)
	UpdateFields(ctx context.Context, id string, p store.Patch) error
	UpdateStatus(ctx context.Context, id string, status store.Status) error
	AddEvent(ctx context.Context, taskID, actor, eventType, content string) error
}

// ArtifactLocator finds evidence on the artifact tree.
type ArtifactLocator interface {
	Candidates(title, taskID string) []string
	FirstExisting(paths ...string) (string, bool)
}

// Result counts what a sweep did. Checked is the number of verification
// tasks examined; each lands in exactly one of the other counters.
type Result struct {
	Checked       int `json:"checked"`
	Verified      int `json:"verified"`
	Escalated     int `json:"escalated"`
	SourceMissing int `json:"source_missing"`
	Errors        int `json:"errors"`
}

// String renders the summary line printed by the sweeper command.
func (r Result) String() string {
	return fmt.Sprintf("evidence_sweeper checked=%d verified=%d escalated=%d source_missing=%d",
		r.Checked, r.Verified, r.Escalated, r.SourceMissing)
}

// Sweeper checks verification tasks against the artifact tree.
type Sweeper struct {
	Store     TaskStore
	Artifacts ArtifactLocator
	Now       func() time.Time
	Log       zerolog.Logger
	Metrics   *metrics.Metrics
}

// New creates a sweeper.
func New(st TaskStore, arts ArtifactLocator) *Sweeper {
	return &Sweeper{Store: st, Artifacts: arts, Now: time.Now, Log: zerolog.Nop()}
}

// Run sweeps every backlog verification task. Failing to load the task
// snapshot aborts the run; a failure on one verification task is logged and
// counted in Errors and the sweep moves on.
func (s *Sweeper) Run(ctx context.Context) (*Result, error) {
	if s.Store == nil || s.Artifacts == nil {
		return nil, fmt.Errorf("%w: sweeper is missing its store or artifact tree", config.ErrConfiguration)
	}

	tasks, err := s.Store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load task snapshot: %w", err)
	}

	byID := make(map[string]store.Task, len(tasks))
	var pending []store.Task
	for _, t := range tasks {
		byID[t.ID] = t
		if t.Status == store.StatusBacklog && worker.IsVerification(t.Title) {
			pending = append(pending, t)
		}
	}
	store.SortByAge(pending)

	res := &Result{}
	for _, v := range pending {
		res.Checked++
		outcome, err := s.check(ctx, v, byID)
		if err != nil {
			res.Errors++
			s.Metrics.SweeperTask(OutcomeError, 1)
			s.Log.Error().Err(err).Str("task_id", v.ID).Msg("verification failed")
			continue
		}
		switch outcome {
		case OutcomeVerified:
			res.Verified++
		case OutcomeEscalated:
			res.Escalated++
		case OutcomeSourceMissing:
			res.SourceMissing++
		}
		s.Metrics.SweeperTask(outcome, 1)
	}

	s.Log.Info().
		Int("checked", res.Checked).
		Int("verified", res.Verified).
		Int("escalated", res.Escalated).
		Int("source_missing", res.SourceMissing).
		Int("errors", res.Errors).
		Msg("evidence sweep complete")
	return res, nil
}

// check settles one verification task. byID is updated with the run's own
// writes so later notes append to the latest description.
func (s *Sweeper) check(ctx context.Context, v store.Task, byID map[string]store.Task) (string, error) {
	sourceID := v.SourceTaskID
	if sourceID == "" {
		sourceID, _ = audit.SourceRef(v.Description)
	}
	src, ok := byID[sourceID]
	if sourceID == "" || !ok {
		msg := "escalation reason=" + ReasonSourceMissing
		if sourceID != "" {
			msg += " source=" + sourceID
		}
		if err := s.close(ctx, v, store.ValidationFail, msg, OutcomeSourceMissing); err != nil {
			return "", err
		}
		return OutcomeSourceMissing, nil
	}

	if path, found := s.resolve(src); found {
		msg := fmt.Sprintf("evidence verified artifact=%s", path)
		desc := audit.Append(src.Description, s.note(msg))
		err := s.Store.UpdateFields(ctx, src.ID, store.Patch{
			Description:      &desc,
			ArtifactPath:     &path,
			ValidationStatus: store.Ptr(store.ValidationPass),
		})
		if err != nil {
			return "", fmt.Errorf("mark source %s verified: %w", src.ID, err)
		}
		src.Description, src.ArtifactPath, src.ValidationStatus = desc, path, store.ValidationPass
		byID[src.ID] = src
		s.record(ctx, src.ID, OutcomeVerified, msg)

		if err := s.close(ctx, v, store.ValidationPass, msg+" source="+src.ID, OutcomeVerified); err != nil {
			return "", err
		}
		return OutcomeVerified, nil
	}

	msg := fmt.Sprintf("escalation reason=%s; reopened to backlog", ReasonEvidenceMissing)
	desc := audit.Append(src.Description, s.note(msg))
	err := s.Store.UpdateFields(ctx, src.ID, store.Patch{
		Description:      &desc,
		ValidationStatus: store.Ptr(store.ValidationFail),
		BlockedReason:    store.Ptr(ReasonEvidenceMissing),
		ClearClaim:       true,
	})
	if err != nil {
		return "", fmt.Errorf("escalate source %s: %w", src.ID, err)
	}
	if err := s.Store.UpdateStatus(ctx, src.ID, store.StatusBacklog); err != nil {
		return "", fmt.Errorf("reopen source %s: %w", src.ID, err)
	}
	src.Description, src.ValidationStatus, src.BlockedReason = desc, store.ValidationFail, ReasonEvidenceMissing
	src.Status, src.Owner, src.LeaseUntil, src.HeartbeatAt = store.StatusBacklog, "", nil, nil
	byID[src.ID] = src
	s.record(ctx, src.ID, OutcomeEscalated, msg)

	if err := s.close(ctx, v, store.ValidationFail, msg+" source="+src.ID, OutcomeEscalated); err != nil {
		return "", err
	}
	return OutcomeEscalated, nil
}

// resolve finds the source task's evidence: its recorded artifact path, then
// the latest Artifact: line, then paths derived from its title and id.
func (s *Sweeper) resolve(src store.Task) (string, bool) {
	paths := []string{src.ArtifactPath}
	if ref, ok := audit.ArtifactRef(src.Description); ok {
		paths = append(paths, ref)
	}
	paths = append(paths, s.Artifacts.Candidates(src.Title, src.ID)...)
	return s.Artifacts.FirstExisting(paths...)
}

// close stamps the verification task with its verdict and moves it to done.
func (s *Sweeper) close(ctx context.Context, v store.Task, verdict store.ValidationStatus, msg, eventType string) error {
	desc := audit.Append(v.Description, s.note(msg))
	if err := s.Store.UpdateFields(ctx, v.ID, store.Patch{Description: &desc, ValidationStatus: &verdict}); err != nil {
		return fmt.Errorf("stamp verification task %s: %w", v.ID, err)
	}
	if err := s.Store.UpdateStatus(ctx, v.ID, store.StatusDone); err != nil {
		return fmt.Errorf("close verification task %s: %w", v.ID, err)
	}
	s.record(ctx, v.ID, eventType, msg)
	s.Log.Debug().Str("task_id", v.ID).Str("outcome", eventType).Msg(msg)
	return nil
}

func (s *Sweeper) note(msg string) audit.Note {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return audit.Note{At: now(), Actor: Actor, Message: msg}
}

func (s *Sweeper) record(ctx context.Context, taskID, eventType, msg string) {
	if err := s.Store.AddEvent(ctx, taskID, Actor, eventType, msg); err != nil {
		s.Log.Warn().Err(err).Str("task_id", taskID).Msg("record sweep event")
	}
}
