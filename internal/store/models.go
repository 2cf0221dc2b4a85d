package store

import (
	"sort"
	"time"
)

// Status represents the current state of a task in the pipeline.
type Status string

const (
	StatusSuggested  Status = "suggested"
	StatusBacklog    Status = "backlog"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuggested, StatusBacklog, StatusInProgress, StatusBlocked, StatusDone:
		return true
	}
	return false
}

// ValidationStatus is the verdict the evidence sweeper attaches to a task.
type ValidationStatus string

const (
	ValidationNone    ValidationStatus = ""
	ValidationPending ValidationStatus = "pending"
	ValidationPass    ValidationStatus = "pass"
	ValidationFail    ValidationStatus = "fail"
)

// Task is the single work item flowing through the pipeline.
//
// Description doubles as an append-only audit trail: notes are only ever
// appended, separated by a blank line. Verification tasks point at the task
// they verify through SourceTaskID (and, for older records, a
// "Source completed task: <id>" line in the description).
type Task struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Description      string           `json:"description,omitempty"`
	Status           Status           `json:"status"`
	AssignedTo       string           `json:"assigned_to,omitempty"`
	Owner            string           `json:"owner,omitempty"`
	LeaseUntil       *time.Time       `json:"lease_until,omitempty"`
	HeartbeatAt      *time.Time       `json:"heartbeat_at,omitempty"`
	ValidationStatus ValidationStatus `json:"validation_status,omitempty"`
	ArtifactPath     string           `json:"artifact_path,omitempty"`
	BlockedReason    string           `json:"blocked_reason,omitempty"`
	IdempotencyKey   string           `json:"idempotency_key,omitempty"`
	SourceTaskID     string           `json:"source_task_id,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// NewTask holds the fields accepted when creating a task.
type NewTask struct {
	Title          string
	Description    string
	Status         Status // Defaults to suggested.
	AssignedTo     string
	IdempotencyKey string
	SourceTaskID   string
}

// Patch is a partial update. Nil fields are left untouched; the claim
// (owner, lease, heartbeat) is only cleared when ClearClaim is set.
type Patch struct {
	Description      *string
	ValidationStatus *ValidationStatus
	ArtifactPath     *string
	BlockedReason    *string
	ClearClaim       bool
}

// Empty reports whether the patch would change nothing.
func (p Patch) Empty() bool {
	return p.Description == nil && p.ValidationStatus == nil &&
		p.ArtifactPath == nil && p.BlockedReason == nil && !p.ClearClaim
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// SortByAge orders tasks oldest first, breaking ties by ID.
func SortByAge(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// Event is one entry of a task's audit log.
type Event struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Actor     string    `json:"actor,omitempty"`
	Type      string    `json:"event_type"` // created, status_changed, claimed, note, rejected, lease_expired
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
