package artifact

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

// ExecutionsDir is the subdirectory of the artifact root holding execution records.
const ExecutionsDir = "executions"

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Store reads and writes the artifact tree.
type Store struct {
	fs         afero.Fs
	root       string
	searchDirs []string
}

// NewStore creates a store rooted at root on fs. Relative search dirs are
// resolved against root.
func NewStore(fs afero.Fs, root string, searchDirs []string) *Store {
	dirs := make([]string, 0, len(searchDirs))
	for _, d := range searchDirs {
		if d == "" {
			continue
		}
		if !filepath.IsAbs(d) {
			d = filepath.Join(root, d)
		}
		dirs = append(dirs, d)
	}
	return &Store{fs: fs, root: root, searchDirs: dirs}
}

// NewOsStore creates a store on the real filesystem.
func NewOsStore(root string, searchDirs []string) *Store {
	return NewStore(afero.NewOsFs(), root, searchDirs)
}

// Root returns the artifact root directory.
func (s *Store) Root() string { return s.root }

// ExecutionPath is the deterministic artifact location for a task.
func (s *Store) ExecutionPath(taskID string) string {
	return filepath.Join(s.root, ExecutionsDir, taskID+".md")
}

// Write renders rec and writes it to its execution path.
func (s *Store) Write(ctx context.Context, rec Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := Render(rec)
	if err != nil {
		return "", err
	}
	path := s.ExecutionPath(rec.TaskID)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", path, err)
	}
	return path, nil
}

// Read loads and parses the artifact at path.
func (s *Store) Read(path string) (Record, []byte, error) {
	data, err := afero.ReadFile(s.fs, s.abs(path))
	if err != nil {
		return Record{}, nil, err
	}
	return Parse(data)
}

// Exists reports whether path names an existing file or directory. Relative
// paths that are missing as given are also tried under the artifact root.
func (s *Store) Exists(path string) bool {
	path = strings.TrimSpace(path)
	if path == "" {
		return false
	}
	if ok, _ := afero.Exists(s.fs, path); ok {
		return true
	}
	if filepath.IsAbs(path) {
		return false
	}
	ok, _ := afero.Exists(s.fs, filepath.Join(s.root, path))
	return ok
}

func (s *Store) abs(path string) string {
	if ok, _ := afero.Exists(s.fs, path); ok || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.root, path)
}

// Candidates lists the derived locations probed for a task's evidence:
// <dir>/<slug>.md then <dir>/<slug> for every search dir, then the
// execution path keyed by task id.
func (s *Store) Candidates(title, taskID string) []string {
	var out []string
	if slug := Slugify(title); slug != "" {
		for _, dir := range s.searchDirs {
			out = append(out, filepath.Join(dir, slug+".md"), filepath.Join(dir, slug))
		}
	}
	if taskID != "" {
		out = append(out, s.ExecutionPath(taskID))
	}
	return out
}

// FirstExisting returns the first path in paths that exists.
func (s *Store) FirstExisting(paths ...string) (string, bool) {
	for _, p := range paths {
		if s.Exists(p) {
			return p, true
		}
	}
	return "", false
}

// Slugify lowercases title and joins its alphanumeric runs with dashes.
func Slugify(title string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(title), "-"), "-")
}
