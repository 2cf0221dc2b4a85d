// Package audit formats the stamped notes appended to task descriptions and
// parses the cross-references other stages embed there.
package audit

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// SourcePrefix introduces the id of the task a verification task checks.
	SourcePrefix = "Source completed task:"
	// ArtifactPrefix introduces the path of an execution artifact.
	ArtifactPrefix = "Artifact:"
	// KeyPrefix introduces an intake idempotency key.
	KeyPrefix = "Idempotency key:"
)

var (
	sourceRe   = regexp.MustCompile(`Source completed task:[ \t]*([A-Za-z0-9][A-Za-z0-9_-]*)`)
	artifactRe = regexp.MustCompile(`Artifact:[ \t]*(\S+)`)
)

// Note is one stamped audit entry.
type Note struct {
	At      time.Time
	Actor   string
	Message string
}

// String renders the note as it appears in a description.
func (n Note) String() string {
	stamp := n.At.UTC().Format(time.RFC3339)
	if n.Actor == "" {
		return fmt.Sprintf("[%s] %s", stamp, n.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", stamp, n.Actor, n.Message)
}

// Append adds a note to the end of description, separated by a blank line.
// Existing content is never rewritten.
func Append(description string, n Note) string {
	return AppendLine(description, n.String())
}

// AppendLine adds a raw line to description, separated by a blank line.
func AppendLine(description, line string) string {
	if strings.TrimSpace(description) == "" {
		return line
	}
	return strings.TrimRight(description, "\n") + "\n\n" + line
}

// SourceRefs returns the distinct source task ids referenced in text, in
// order of first appearance.
func SourceRefs(text string) []string {
	var refs []string
	seen := map[string]bool{}
	for _, m := range sourceRe.FindAllStringSubmatch(text, -1) {
		id := m[1]
		if seen[id] {
			continue
		}
		seen[id] = true
		refs = append(refs, id)
	}
	return refs
}

// SourceRef returns the single source task id referenced in text. It reports
// false when there is no reference or more than one distinct reference.
func SourceRef(text string) (string, bool) {
	refs := SourceRefs(text)
	if len(refs) != 1 {
		return "", false
	}
	return refs[0], true
}

// ArtifactRef returns the most recent artifact path mentioned in text.
func ArtifactRef(text string) (string, bool) {
	matches := artifactRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1][1], true
}

// StripKeys returns text without its idempotency key lines, leaving the
// human-written content.
func StripKeys(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), KeyPrefix) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// SourceLine renders the reference line for a verification task.
func SourceLine(taskID string) string {
	return SourcePrefix + " " + taskID
}
