package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a task id does not resolve.
var ErrNotFound = errors.New("task not found")

// Store provides access to the task database.
type Store struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// Options selects the database backend.
type Options struct {
	Driver        string // sqlite (default) or postgres
	DSN           string // file path for sqlite, connection string for postgres
	BusyTimeoutMs int    // sqlite only
}

// New opens (or creates) the SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	return Open(Options{Driver: "sqlite", DSN: dbPath})
}

// Open connects to the configured backend and runs migrations.
func Open(opts Options) (*Store, error) {
	d, ok := dialectFor(opts.Driver)
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if opts.DSN == "" {
		return nil, fmt.Errorf("open %s database: empty location", d.name)
	}

	dsn := opts.DSN
	if d.name == "sqlite" {
		dsn = sqliteDSN(dsn, opts.BusyTimeoutMs)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if d.name == "sqlite" {
		// One connection serializes writers; pragmas in the DSN apply to it.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func sqliteDSN(path string, busyTimeoutMs int) string {
	if busyTimeoutMs <= 0 {
		busyTimeoutMs = 5000
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, sep, busyTimeoutMs)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock overrides the clock used for timestamps. Tests use it to pin
// created_at and updated_at.
func (s *Store) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(s.dialect.schema()); err != nil {
		return err
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := withRetry(ctx, defaultRetryAttempts, defaultRetryBackoff, func() error {
		var err error
		res, err = s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
		return err
	})
	return res, err
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

// CreateTask inserts a new task and returns it with the generated ID.
func (s *Store) CreateTask(ctx context.Context, nt NewTask) (*Task, error) {
	title := strings.TrimSpace(nt.Title)
	if title == "" {
		return nil, fmt.Errorf("insert task: title is required")
	}
	status := nt.Status
	if status == "" {
		status = StatusSuggested
	}
	if !status.Valid() {
		return nil, fmt.Errorf("insert task: invalid status %q", status)
	}

	now := s.now()
	t := &Task{
		ID:             uuid.New().String(),
		Title:          title,
		Description:    nt.Description,
		Status:         status,
		AssignedTo:     nt.AssignedTo,
		IdempotencyKey: nt.IdempotencyKey,
		SourceTaskID:   nt.SourceTaskID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := s.exec(ctx,
		`INSERT INTO tasks (id, title, description, status, assigned_to, idempotency_key, source_task_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), t.AssignedTo, t.IdempotencyKey, t.SourceTaskID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	_ = s.AddEvent(ctx, t.ID, "", "created", fmt.Sprintf("Task created: %s", title))
	return t, nil
}

// taskColumns is the standard column list for task queries.
const taskColumns = `id, title, description, status, assigned_to, owner, lease_until, heartbeat_at,
	validation_status, artifact_path, blocked_reason, idempotency_key, source_task_id, created_at, updated_at`

// GetTask returns a single task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	tasks, err := s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("get task %s: %w", id, ErrNotFound)
	}
	return &tasks[0], nil
}

// ListTasks returns every task, oldest first.
func (s *Store) ListTasks(ctx context.Context) ([]Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
}

// ListByStatus returns tasks with the given status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at, id`, string(status))
}

// queryTasks is a shared helper for running task-list queries.
func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// UpdateStatus changes the status of a task.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("update task status: invalid status %q", status)
	}
	res, err := s.exec(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	_ = s.AddEvent(ctx, id, "", "status_changed", fmt.Sprintf("Status changed to %s", status))
	return nil
}

// UpdateFields applies a partial update. Fields left nil in the patch are
// never touched.
func (s *Store) UpdateFields(ctx context.Context, id string, p Patch) error {
	if p.Empty() {
		return nil
	}

	var sets []string
	var args []any
	if p.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *p.Description)
	}
	if p.ValidationStatus != nil {
		sets = append(sets, "validation_status = ?")
		args = append(args, string(*p.ValidationStatus))
	}
	if p.ArtifactPath != nil {
		sets = append(sets, "artifact_path = ?")
		args = append(args, *p.ArtifactPath)
	}
	if p.BlockedReason != nil {
		sets = append(sets, "blocked_reason = ?")
		args = append(args, *p.BlockedReason)
	}
	if p.ClearClaim {
		sets = append(sets, "owner = ''", "lease_until = NULL", "heartbeat_at = NULL")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now(), id)

	res, err := s.exec(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update task fields: %w", err)
	}
	return requireRow(res, id)
}

// ClaimTask moves a backlog task to in_progress for owner, but only if it is
// still in backlog and nobody else owns it. It reports whether the claim won.
func (s *Store) ClaimTask(ctx context.Context, id, owner string, leaseUntil time.Time) (bool, error) {
	now := s.now()
	res, err := s.exec(ctx,
		`UPDATE tasks SET status = ?, owner = ?, lease_until = ?, heartbeat_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND owner = ''`,
		string(StatusInProgress), owner, leaseUntil.UTC(), now, now,
		id, string(StatusBacklog),
	)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	_ = s.AddEvent(ctx, id, owner, "claimed", fmt.Sprintf("Claimed until %s", leaseUntil.UTC().Format(time.RFC3339)))
	return true, nil
}

// DeleteTask removes a task. Its audit events are kept.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireRow(res, id)
}

// BlockExpiredLeases moves in_progress tasks whose lease ran out before now
// to blocked. It returns how many tasks were blocked.
func (s *Store) BlockExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	tasks, err := s.ListByStatus(ctx, StatusInProgress)
	if err != nil {
		return 0, err
	}

	blocked := 0
	for _, t := range tasks {
		if t.LeaseUntil == nil || !t.LeaseUntil.Before(now) {
			continue
		}
		res, err := s.exec(ctx,
			`UPDATE tasks SET status = ?, blocked_reason = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(StatusBlocked), "lease_expired", s.now(), t.ID, string(StatusInProgress),
		)
		if err != nil {
			return blocked, fmt.Errorf("block expired lease: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		blocked++
		_ = s.AddEvent(ctx, t.ID, t.Owner, "lease_expired",
			fmt.Sprintf("Lease expired at %s", t.LeaseUntil.UTC().Format(time.RFC3339)))
	}
	return blocked, nil
}

// AddEvent records an audit event for a task.
func (s *Store) AddEvent(ctx context.Context, taskID, actor, eventType, content string) error {
	_, err := s.exec(ctx,
		`INSERT INTO events (id, task_id, actor, event_type, content, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), taskID, actor, eventType, content, s.now(),
	)
	if err != nil {
		return fmt.Errorf("add event: %w", err)
	}
	return nil
}

// GetEvents returns all events for a task in the order they were recorded.
func (s *Store) GetEvents(ctx context.Context, taskID string) ([]Event, error) {
	rows, err := s.query(ctx,
		`SELECT id, task_id, actor, event_type, content, timestamp FROM events WHERE task_id = ? ORDER BY timestamp, id`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Actor, &e.Type, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanTask scans a single task from *sql.Rows.
func scanTask(rows *sql.Rows) (*Task, error) {
	var t Task
	var leaseUntil, heartbeatAt sql.NullTime
	err := rows.Scan(
		&t.ID, &t.Title, &t.Description, &t.Status, &t.AssignedTo, &t.Owner,
		&leaseUntil, &heartbeatAt, &t.ValidationStatus, &t.ArtifactPath,
		&t.BlockedReason, &t.IdempotencyKey, &t.SourceTaskID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if leaseUntil.Valid {
		v := leaseUntil.Time.UTC()
		t.LeaseUntil = &v
	}
	if heartbeatAt.Valid {
		v := heartbeatAt.Time.UTC()
		t.HeartbeatAt = &v
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
