package store

import (
	"strconv"
	"strings"
)

// dialect captures the few places where SQLite and Postgres disagree.
type dialect struct {
	name          string
	driver        string
	timestampType string
	positional    bool // $1, $2 ... instead of ?
}

var (
	sqliteDialect   = dialect{name: "sqlite", driver: "sqlite", timestampType: "DATETIME"}
	postgresDialect = dialect{name: "postgres", driver: "postgres", timestampType: "TIMESTAMPTZ", positional: true}
)

func dialectFor(name string) (dialect, bool) {
	switch strings.ToLower(name) {
	case "", "sqlite", "sqlite3":
		return sqliteDialect, true
	case "postgres", "postgresql", "pg":
		return postgresDialect, true
	}
	return dialect{}, false
}

// rebind rewrites ? placeholders for drivers that want positional ones.
func (d dialect) rebind(query string) string {
	if !d.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) schema() string {
	return strings.ReplaceAll(schemaTemplate, "{{ts}}", d.timestampType)
}

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS tasks (
	id                 TEXT PRIMARY KEY,
	title              TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'suggested',
	assigned_to        TEXT NOT NULL DEFAULT '',
	owner              TEXT NOT NULL DEFAULT '',
	lease_until        {{ts}},
	heartbeat_at       {{ts}},
	validation_status  TEXT NOT NULL DEFAULT '',
	artifact_path      TEXT NOT NULL DEFAULT '',
	blocked_reason     TEXT NOT NULL DEFAULT '',
	idempotency_key    TEXT NOT NULL DEFAULT '',
	source_task_id     TEXT NOT NULL DEFAULT '',
	created_at         {{ts}} NOT NULL,
	updated_at         {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	task_id     TEXT NOT NULL,
	actor       TEXT NOT NULL DEFAULT '',
	event_type  TEXT NOT NULL,
	content     TEXT NOT NULL DEFAULT '',
	timestamp   {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id);
`
