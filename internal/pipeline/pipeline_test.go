package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imkarma/hivegate/internal/config"
	"github.com/imkarma/hivegate/internal/intake"
	"github.com/imkarma/hivegate/internal/store"
	"github.com/imkarma/hivegate/internal/worker"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "hivegate.db")
	cfg.Artifacts.Dir = "/art"
	cfg.Worker.ID = "worker-test"
	return cfg
}

func TestBuild_EndToEnd(t *testing.T) {
	p, err := Build(testConfig(t), Options{Fs: afero.NewMemMapFs()})
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()

	in, err := p.Intake.Submit(ctx, intake.Request{Title: "Clean up log rotation", AssignedTo: "sam"})
	require.NoError(t, err)

	g, err := p.Guardrail.Run(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{in.ID}, g.Accepted)

	w, err := p.Worker.Run(ctx, worker.Request{Assignee: "sam"})
	require.NoError(t, err)
	assert.Equal(t, in.ID, w.TaskID)
	assert.Equal(t, "/art/executions/"+in.ID+".md", w.ArtifactPath)

	sw, err := p.Sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sw.Checked)
	assert.Equal(t, 1, sw.Verified)

	task, err := p.Store.GetTask(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDone, task.Status)
	assert.Equal(t, store.ValidationPass, task.ValidationStatus)
}

func TestBuild_MissingEvidenceReopens(t *testing.T) {
	fs := afero.NewMemMapFs()
	p, err := Build(testConfig(t), Options{Fs: fs})
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()

	in, err := p.Intake.Submit(ctx, intake.Request{Title: "Clean up log rotation", AssignedTo: "sam", Status: "backlog"})
	require.NoError(t, err)
	w, err := p.Worker.Run(ctx, worker.Request{Assignee: "sam"})
	require.NoError(t, err)
	require.NoError(t, fs.Remove(w.ArtifactPath))

	sw, err := p.Sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sw.Escalated)

	task, err := p.Store.GetTask(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusBacklog, task.Status)
	assert.Equal(t, store.ValidationFail, task.ValidationStatus)

	// The reopened task is claimable again.
	w, err = p.Worker.Run(ctx, worker.Request{Assignee: "sam"})
	require.NoError(t, err)
	assert.Equal(t, in.ID, w.TaskID)
}

func TestBuild_RequireExisting(t *testing.T) {
	_, err := Build(testConfig(t), Options{RequireExisting: true})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestBuild_NilConfig(t *testing.T) {
	_, err := Build(nil, Options{})
	assert.ErrorIs(t, err, config.ErrConfiguration)
}
