package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3*time.Hour, cfg.Intake.Window)
	assert.Equal(t, 3, cfg.Guardrail.MaxPerRun)
	assert.True(t, cfg.Worker.SpawnVerification)
	assert.Equal(t, []string{"alex", "lead", "nova", "sam"}, cfg.AgentNames())
}

func TestDefaultConfig_ReturnsFreshSlices(t *testing.T) {
	a := DefaultConfig()
	a.Guardrail.RiskyKeywords[0] = "mutated"
	b := DefaultConfig()
	assert.Equal(t, "delete", b.Guardrail.RiskyKeywords[0])
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/tasks.db
intake:
  window: 30m
guardrail:
  max_per_run: 2
  risky_keywords: [launch]
agents:
  ops:
    role: lead
  kai:
    role: worker
roster:
  fallback: ops
  lead: ops
  legacy: agent
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/tasks.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Minute, cfg.Intake.Window)
	assert.Equal(t, 2, cfg.Guardrail.MaxPerRun)
	assert.Equal(t, []string{"launch"}, cfg.Guardrail.RiskyKeywords)
	assert.Equal(t, DefaultVagueKeywords, cfg.Guardrail.VagueKeywords)
	assert.Equal(t, []string{"kai", "ops"}, cfg.AgentNames())
	// Untouched sections keep their defaults.
	assert.Equal(t, 15*time.Minute, cfg.Worker.Lease)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "database:\n  path: /tmp/from-file.db\n")
	t.Setenv("HIVEGATE_DATABASE_PATH", "/tmp/from-env.db")
	t.Setenv("HIVEGATE_WORKER_SPAWN_VERIFICATION", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.db", cfg.Database.Path)
	assert.False(t, cfg.Worker.SpawnVerification)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestLoad_InvalidConfigIsConfigurationError(t *testing.T) {
	path := writeConfig(t, "roster:\n  fallback: ghost\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "roster.fallback")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "database.dsn"},
		{"no artifacts dir", func(c *Config) { c.Artifacts.Dir = "" }, "artifacts.dir"},
		{"no agents", func(c *Config) { c.Agents = nil }, "at least one agent"},
		{"agent without role", func(c *Config) { c.Agents["sam"] = Agent{} }, `agent "sam"`},
		{"unknown lead", func(c *Config) { c.Roster.Lead = "ghost" }, "roster.lead"},
		{"zero window", func(c *Config) { c.Intake.Window = 0 }, "intake.window"},
		{"negative max", func(c *Config) { c.Guardrail.MaxPerRun = -1 }, "max_per_run"},
		{"zero lease", func(c *Config) { c.Worker.Lease = 0 }, "worker.lease"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), DirName, "config.yaml")
	cfg := DefaultConfig()
	cfg.Server.Listen = "0.0.0.0:9000"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", loaded.Server.Listen)
	assert.Equal(t, cfg.Agents["lead"].Aliases, loaded.Agents["lead"].Aliases)
}

func TestWorkerID(t *testing.T) {
	assert.Equal(t, "w-1", WorkerConfig{ID: "w-1"}.WorkerID())
	assert.NotEmpty(t, WorkerConfig{}.WorkerID())
}
