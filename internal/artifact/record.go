// Package artifact renders, persists and locates the execution records
// workers leave behind as proof of work.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("artifact: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("artifact: malformed frontmatter")
)

// StatusFlow is the transition a completed execution records.
const StatusFlow = "backlog -> in_progress -> done"

// DefaultChecklist is the placeholder workflow every execution reports.
var DefaultChecklist = []string{
	"Claimed task from backlog",
	"Executed placeholder workflow",
	"Persisted execution artifact",
	"Queued for evidence verification",
}

// Record is the content of one execution artifact.
type Record struct {
	TaskID      string
	Title       string
	Description string
	Worker      string
	Assignee    string
	StatusFlow  string
	CompletedAt time.Time
	Checklist   []string
}

type envelope struct {
	Execution execution `yaml:"execution"`
}

type execution struct {
	Task       string `yaml:"task"`
	Title      string `yaml:"title"`
	Worker     string `yaml:"worker"`
	Assignee   string `yaml:"assignee"`
	StatusFlow string `yaml:"status_flow"`
	Completed  string `yaml:"completed"`
}

// Render produces the artifact document: YAML front matter followed by a
// markdown body.
func Render(rec Record) ([]byte, error) {
	if rec.TaskID == "" {
		return nil, fmt.Errorf("artifact: record missing task id")
	}
	flow := rec.StatusFlow
	if flow == "" {
		flow = StatusFlow
	}
	completed := rec.CompletedAt.UTC().Format(time.RFC3339)

	meta, err := yaml.Marshal(envelope{Execution: execution{
		Task:       rec.TaskID,
		Title:      rec.Title,
		Worker:     rec.Worker,
		Assignee:   rec.Assignee,
		StatusFlow: flow,
		Completed:  completed,
	}})
	if err != nil {
		return nil, fmt.Errorf("artifact: encode frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(meta, "\n"))
	buf.WriteString("\n---\n\n")

	fmt.Fprintf(&buf, "# Execution: %s\n\n", rec.Title)
	fmt.Fprintf(&buf, "- Task: %s\n", rec.TaskID)
	fmt.Fprintf(&buf, "- Worker: %s\n", rec.Worker)
	fmt.Fprintf(&buf, "- Assignee: %s\n", rec.Assignee)
	fmt.Fprintf(&buf, "- Status flow: %s\n", flow)
	fmt.Fprintf(&buf, "- Completed (UTC): %s\n\n", completed)

	buf.WriteString("## Description\n\n")
	if desc := strings.TrimSpace(rec.Description); desc != "" {
		buf.WriteString(desc)
	} else {
		buf.WriteString("(none)")
	}
	buf.WriteString("\n\n## Checklist\n\n")
	checklist := rec.Checklist
	if len(checklist) == 0 {
		checklist = DefaultChecklist
	}
	for _, item := range checklist {
		fmt.Fprintf(&buf, "- [x] %s\n", item)
	}
	return buf.Bytes(), nil
}

// Parse reads the front matter of an artifact document back into a Record
// and returns the markdown body.
func Parse(content []byte) (Record, []byte, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Record{}, nil, ErrMissingFrontMatter
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Record{}, nil, ErrMalformedFrontMatter
	}

	var env envelope
	if err := yaml.Unmarshal(parts[0], &env); err != nil {
		return Record{}, nil, fmt.Errorf("artifact: parse frontmatter: %w", err)
	}
	if env.Execution.Task == "" {
		return Record{}, nil, ErrMalformedFrontMatter
	}
	completed, err := time.Parse(time.RFC3339, env.Execution.Completed)
	if err != nil {
		return Record{}, nil, fmt.Errorf("artifact: parse completed timestamp: %w", err)
	}

	return Record{
		TaskID:      env.Execution.Task,
		Title:       env.Execution.Title,
		Worker:      env.Execution.Worker,
		Assignee:    env.Execution.Assignee,
		StatusFlow:  env.Execution.StatusFlow,
		CompletedAt: completed,
	}, bytes.TrimLeft(parts[1], "\n"), nil
}
