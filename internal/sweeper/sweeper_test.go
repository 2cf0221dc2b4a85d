package sweeper

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imkarma/hivegate/internal/artifact"
	"github.com/imkarma/hivegate/internal/audit"
	"github.com/imkarma/hivegate/internal/store"
)

var sweepTime = time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC)

type fixture struct {
	store *store.Store
	fs    afero.Fs
	arts  *artifact.Store
	sw    *Sweeper
}

func setup(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	now := time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	})

	fs := afero.NewMemMapFs()
	arts := artifact.NewStore(fs, "/art", []string{"plugins"})
	sw := New(s, arts)
	sw.Now = func() time.Time { return sweepTime }
	return &fixture{store: s, fs: fs, arts: arts, sw: sw}
}

func (f *fixture) create(t *testing.T, nt store.NewTask) *store.Task {
	t.Helper()
	task, err := f.store.CreateTask(context.Background(), nt)
	require.NoError(t, err)
	return task
}

// completed creates a done source task and its verification task.
func (f *fixture) completed(t *testing.T, title, desc, artifactPath string) (src, v *store.Task) {
	t.Helper()
	ctx := context.Background()
	src = f.create(t, store.NewTask{Title: title, Description: desc, Status: store.StatusBacklog, AssignedTo: "sam"})
	if artifactPath != "" {
		require.NoError(t, f.store.UpdateFields(ctx, src.ID, store.Patch{ArtifactPath: &artifactPath}))
	}
	require.NoError(t, f.store.UpdateStatus(ctx, src.ID, store.StatusDone))
	v = f.create(t, store.NewTask{
		Title:        "Verify artifact evidence: " + title,
		Description:  audit.SourceLine(src.ID),
		Status:       store.StatusBacklog,
		AssignedTo:   "sam",
		SourceTaskID: src.ID,
	})
	return src, v
}

func (f *fixture) get(t *testing.T, id string) *store.Task {
	t.Helper()
	task, err := f.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (f *fixture) touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(f.fs, path, []byte("evidence"), 0o644))
}

func TestRun_VerifiesRecordedArtifact(t *testing.T) {
	f := setup(t)
	f.touch(t, "/art/executions/x.md")
	src, v := f.completed(t, "Clean up log rotation", "Keep 7 days.", "/art/executions/x.md")

	res, err := f.sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Result{Checked: 1, Verified: 1}, res)

	gotSrc := f.get(t, src.ID)
	assert.Equal(t, store.ValidationPass, gotSrc.ValidationStatus)
	assert.Equal(t, store.StatusDone, gotSrc.Status)
	assert.True(t, strings.HasPrefix(gotSrc.Description, "Keep 7 days.\n\n"))
	assert.Contains(t, gotSrc.Description, "[2026-10-17T15:00:00Z] evidence-sweeper: evidence verified artifact=/art/executions/x.md")

	gotV := f.get(t, v.ID)
	assert.Equal(t, store.StatusDone, gotV.Status)
	assert.Equal(t, store.ValidationPass, gotV.ValidationStatus)
}

func TestRun_ResolutionOrder(t *testing.T) {
	tests := []struct {
		name     string
		desc     string
		recorded string
		files    []string
		want     string
	}{
		{
			name:  "artifact line in description",
			desc:  "[2026-10-17T09:00:00Z] worker: Artifact: /runs/a.md",
			files: []string{"/runs/a.md"},
			want:  "/runs/a.md",
		},
		{
			name:     "recorded path beats description",
			desc:     "Artifact: /runs/a.md",
			recorded: "/runs/b.md",
			files:    []string{"/runs/a.md", "/runs/b.md"},
			want:     "/runs/b.md",
		},
		{
			name:     "missing recorded path falls through",
			recorded: "/runs/gone.md",
			files:    []string{"/art/plugins/clean-up-log-rotation.md"},
			want:     "/art/plugins/clean-up-log-rotation.md",
		},
		{
			name:  "slug directory",
			files: []string{"/art/plugins/clean-up-log-rotation/README.md"},
			want:  "/art/plugins/clean-up-log-rotation",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			for _, p := range tt.files {
				f.touch(t, p)
			}
			src, _ := f.completed(t, "Clean up log rotation", tt.desc, tt.recorded)

			res, err := f.sw.Run(context.Background())
			require.NoError(t, err)
			require.Equal(t, 1, res.Verified)
			assert.Equal(t, tt.want, f.get(t, src.ID).ArtifactPath)
		})
	}
}

func TestRun_ExecutionPathByID(t *testing.T) {
	f := setup(t)
	src, _ := f.completed(t, "Clean up log rotation", "", "")
	f.touch(t, f.arts.ExecutionPath(src.ID))

	res, err := f.sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Verified)
	assert.Equal(t, f.arts.ExecutionPath(src.ID), f.get(t, src.ID).ArtifactPath)
}

func TestRun_EscalatesMissingEvidence(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	src, v := f.completed(t, "Clean up log rotation", "Keep 7 days.", "/art/executions/gone.md")
	res, err := f.sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Result{Checked: 1, Escalated: 1}, res)

	gotSrc := f.get(t, src.ID)
	assert.Equal(t, store.StatusBacklog, gotSrc.Status)
	assert.Equal(t, store.ValidationFail, gotSrc.ValidationStatus)
	assert.Equal(t, ReasonEvidenceMissing, gotSrc.BlockedReason)
	assert.True(t, strings.HasPrefix(gotSrc.Description, "Keep 7 days.\n\n"))
	assert.Contains(t, gotSrc.Description, "escalation reason=artifact_evidence_missing")

	gotV := f.get(t, v.ID)
	assert.Equal(t, store.StatusDone, gotV.Status)
	assert.Equal(t, store.ValidationFail, gotV.ValidationStatus)
	assert.True(t, strings.HasPrefix(gotV.Description, "Source completed task: "+src.ID+"\n\n"))
}

func TestRun_SourceMissing(t *testing.T) {
	f := setup(t)
	orphan := f.create(t, store.NewTask{
		Title:       "Verify artifact evidence: gone",
		Description: "Source completed task: does-not-exist",
		Status:      store.StatusBacklog,
	})
	noRef := f.create(t, store.NewTask{
		Title:       "Verify artifact evidence: no ref",
		Description: "nothing to see",
		Status:      store.StatusBacklog,
	})
	ambiguous := f.create(t, store.NewTask{
		Title:       "Verify artifact evidence: two refs",
		Description: "Source completed task: a1\nSource completed task: b2",
		Status:      store.StatusBacklog,
	})

	res, err := f.sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Result{Checked: 3, SourceMissing: 3}, res)

	for _, id := range []string{orphan.ID, noRef.ID, ambiguous.ID} {
		got := f.get(t, id)
		assert.Equal(t, store.StatusDone, got.Status)
		assert.Equal(t, store.ValidationFail, got.ValidationStatus)
		assert.Contains(t, got.Description, "reason=source_task_not_found")
	}
	assert.Contains(t, f.get(t, orphan.ID).Description, "source=does-not-exist")
}

func TestRun_DescriptionRefWithoutStructuredField(t *testing.T) {
	f := setup(t)
	src := f.create(t, store.NewTask{Title: "Clean up log rotation", Status: store.StatusDone})
	f.touch(t, f.arts.ExecutionPath(src.ID))
	f.create(t, store.NewTask{
		Title:       "Verify artifact evidence: Clean up log rotation",
		Description: "Please check.\n\n" + audit.SourceLine(src.ID),
		Status:      store.StatusBacklog,
	})

	res, err := f.sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Verified)
}

func TestRun_IgnoresNonVerificationAndClosedTasks(t *testing.T) {
	f := setup(t)
	f.create(t, store.NewTask{Title: "Clean up log rotation", Status: store.StatusBacklog})
	f.create(t, store.NewTask{Title: "Verify artifact evidence: old", Status: store.StatusDone})

	res, err := f.sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Result{}, res)
}

func TestRun_TwoVerificationsForOneSourceKeepBothNotes(t *testing.T) {
	f := setup(t)
	src, _ := f.completed(t, "Clean up log rotation", "Keep 7 days.", "")
	f.create(t, store.NewTask{
		Title:        "Verify artifact evidence: Clean up log rotation (again)",
		Status:       store.StatusBacklog,
		SourceTaskID: src.ID,
	})

	res, err := f.sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Escalated)

	desc := f.get(t, src.ID).Description
	assert.Equal(t, 2, strings.Count(desc, "artifact_evidence_missing"))
}

func TestRun_SecondSweepIsNoOp(t *testing.T) {
	f := setup(t)
	f.completed(t, "Clean up log rotation", "", "")

	_, err := f.sw.Run(context.Background())
	require.NoError(t, err)
	res, err := f.sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Checked)
}

// flakyStore fails every mutation of one task.
type flakyStore struct {
	*store.Store
	failID string
}

func (f *flakyStore) UpdateFields(ctx context.Context, id string, p store.Patch) error {
	if id == f.failID {
		return errors.New("write timeout")
	}
	return f.Store.UpdateFields(ctx, id, p)
}

func TestRun_PerTaskFailureDoesNotAbort(t *testing.T) {
	f := setup(t)
	_, bad := f.completed(t, "Clean up log rotation", "", "")
	_, good := f.completed(t, "Document the backup schedule", "", "")

	sw := New(&flakyStore{Store: f.store, failID: bad.ID}, f.arts)
	res, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.Escalated)

	assert.Equal(t, store.StatusDone, f.get(t, good.ID).Status)
}

type brokenStore struct{ TaskStore }

func (brokenStore) ListTasks(context.Context) ([]store.Task, error) {
	return nil, errors.New("connection refused")
}

func TestRun_SnapshotFailureIsFatal(t *testing.T) {
	sw := New(brokenStore{}, artifact.NewStore(afero.NewMemMapFs(), "/art", nil))
	_, err := sw.Run(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestResultString(t *testing.T) {
	r := Result{Checked: 3, Verified: 1, Escalated: 1, SourceMissing: 1, Errors: 4}
	assert.Equal(t, "evidence_sweeper checked=3 verified=1 escalated=1 source_missing=1", r.String())
}
