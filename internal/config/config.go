// Package config handles hivegate configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks a missing or invalid setting. Callers treat it as
// fatal for the current invocation.
var ErrConfiguration = errors.New("configuration error")

// DirName is the project-local directory holding config, database and artifacts.
const DirName = ".hivegate"

// Config is the root configuration for a hivegate project.
type Config struct {
	Version   int              `yaml:"version" mapstructure:"version"`
	Database  DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Artifacts ArtifactsConfig  `yaml:"artifacts" mapstructure:"artifacts"`
	Logging   LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Server    ServerConfig     `yaml:"server" mapstructure:"server"`
	Agents    map[string]Agent `yaml:"agents" mapstructure:"agents"`
	Roster    RosterConfig     `yaml:"roster" mapstructure:"roster"`
	Intake    IntakeConfig     `yaml:"intake" mapstructure:"intake"`
	Guardrail GuardrailConfig  `yaml:"guardrail" mapstructure:"guardrail"`
	Worker    WorkerConfig     `yaml:"worker" mapstructure:"worker"`
}

// DatabaseConfig selects the task store.
type DatabaseConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`                   // sqlite or postgres
	Path          string `yaml:"path,omitempty" mapstructure:"path"`             // sqlite file
	DSN           string `yaml:"dsn,omitempty" mapstructure:"dsn"`               // postgres connection string
	BusyTimeoutMs int    `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"` // sqlite lock wait
}

// Location returns the path or DSN the configured driver connects to.
func (d DatabaseConfig) Location() string {
	if d.Driver == "postgres" {
		return d.DSN
	}
	return d.Path
}

// ArtifactsConfig describes the artifact tree written by workers.
type ArtifactsConfig struct {
	// Dir is the root of the artifact tree. Executions live under Dir/executions.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// SearchDirs are extra directories (relative to Dir unless absolute) the
	// evidence sweeper probes for <slug>.md when a task has no recorded artifact.
	SearchDirs []string `yaml:"search_dirs" mapstructure:"search_dirs"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // auto, console, json
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Listen         string        `yaml:"listen" mapstructure:"listen"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// Agent describes one member of the agent roster.
type Agent struct {
	Role    string   `yaml:"role" mapstructure:"role"`                 // lead, worker, ...
	Aliases []string `yaml:"aliases,omitempty" mapstructure:"aliases"` // extra names resolving to this agent
}

// RosterConfig names the special roster members.
type RosterConfig struct {
	Fallback string `yaml:"fallback" mapstructure:"fallback"` // used for unknown or missing assignees
	Lead     string `yaml:"lead" mapstructure:"lead"`         // falls back to legacy-assigned work
	Legacy   string `yaml:"legacy" mapstructure:"legacy"`     // generic code found on older tasks
}

// IntakeConfig configures idempotent intake.
type IntakeConfig struct {
	// Window is the width of the UTC bucket inside which repeated submissions
	// count as the same intent.
	Window time.Duration `yaml:"window" mapstructure:"window"`
}

// GuardrailConfig configures the admission filter.
type GuardrailConfig struct {
	MaxPerRun      int      `yaml:"max_per_run" mapstructure:"max_per_run"`
	MinTitleLength int      `yaml:"min_title_length" mapstructure:"min_title_length"`
	MinWords       int      `yaml:"min_words" mapstructure:"min_words"`
	RiskyKeywords  []string `yaml:"risky_keywords" mapstructure:"risky_keywords"`
	VagueKeywords  []string `yaml:"vague_keywords" mapstructure:"vague_keywords"`
}

// WorkerConfig configures the claim executor.
type WorkerConfig struct {
	// ID identifies this worker as claim owner. Empty means hostname-pid.
	ID string `yaml:"id,omitempty" mapstructure:"id"`

	// Lease is how long a claim is held before recovery may block the task.
	Lease time.Duration `yaml:"lease" mapstructure:"lease"`

	// SpawnVerification creates a verification task for every completed task.
	SpawnVerification bool `yaml:"spawn_verification" mapstructure:"spawn_verification"`
}

// WorkerID returns the configured worker id or a hostname-pid default.
func (w WorkerConfig) WorkerID() string {
	if w.ID != "" {
		return w.ID
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// DefaultRiskyKeywords are destructive, financial, credential and
// production-impacting terms. Order matters: the first match names the reason.
var DefaultRiskyKeywords = []string{
	"delete", "drop table", "drop database", "truncate", "rm rf", "wipe", "destroy", "format disk",
	"production", "prod", "deploy", "force push",
	"payment", "transfer funds", "wire", "withdraw", "buy", "sell", "trade",
	"password", "credential", "secret", "api key", "private key", "token",
}

// DefaultVagueKeywords flag proposals too fuzzy to act on.
var DefaultVagueKeywords = []string{
	"something", "stuff", "things", "misc", "etc", "whatever", "tbd",
	"figure out", "look into", "maybe", "somehow",
}

// DefaultConfig returns a starter config with a small agent roster.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Database: DatabaseConfig{
			Driver:        "sqlite",
			Path:          filepath.Join(DirName, "hivegate.db"),
			BusyTimeoutMs: 5000,
		},
		Artifacts: ArtifactsConfig{
			Dir:        filepath.Join(DirName, "artifacts"),
			SearchDirs: []string{"plugins", "executions"},
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
		Server:  ServerConfig{Listen: "127.0.0.1:8787", RequestTimeout: 30 * time.Second},
		Agents: map[string]Agent{
			"lead": {Role: "lead", Aliases: []string{"main", "agent"}},
			"sam":  {Role: "worker"},
			"alex": {Role: "worker"},
			"nova": {Role: "worker"},
		},
		Roster: RosterConfig{Fallback: "lead", Lead: "lead", Legacy: "agent"},
		Intake: IntakeConfig{Window: 3 * time.Hour},
		Guardrail: GuardrailConfig{
			MaxPerRun:      3,
			MinTitleLength: 6,
			MinWords:       3,
			RiskyKeywords:  append([]string(nil), DefaultRiskyKeywords...),
			VagueKeywords:  append([]string(nil), DefaultVagueKeywords...),
		},
		Worker: WorkerConfig{Lease: 15 * time.Minute, SpawnVerification: true},
	}
}

// Load reads and validates the config file at the given path, applying
// HIVEGATE_* environment overrides.
func Load(path string) (*Config, error) {
	l := NewLoader()
	l.SetConfigFile(path)
	return l.Load()
}

// Save writes the config to the given path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the config for missing or inconsistent settings.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("%w: database.path is required for sqlite", ErrConfiguration)
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn is required for postgres", ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: database.driver must be sqlite or postgres, got %q", ErrConfiguration, c.Database.Driver)
	}

	if c.Artifacts.Dir == "" {
		return fmt.Errorf("%w: artifacts.dir is required", ErrConfiguration)
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("%w: at least one agent is required", ErrConfiguration)
	}
	for _, name := range c.AgentNames() {
		if c.Agents[name].Role == "" {
			return fmt.Errorf("%w: agent %q: role is required", ErrConfiguration, name)
		}
	}
	if _, ok := c.Agents[c.Roster.Fallback]; !ok {
		return fmt.Errorf("%w: roster.fallback %q is not a configured agent", ErrConfiguration, c.Roster.Fallback)
	}
	if c.Roster.Lead != "" {
		if _, ok := c.Agents[c.Roster.Lead]; !ok {
			return fmt.Errorf("%w: roster.lead %q is not a configured agent", ErrConfiguration, c.Roster.Lead)
		}
	}

	if c.Intake.Window <= 0 {
		return fmt.Errorf("%w: intake.window must be positive", ErrConfiguration)
	}
	if c.Guardrail.MaxPerRun < 0 {
		return fmt.Errorf("%w: guardrail.max_per_run must not be negative", ErrConfiguration)
	}
	if c.Worker.Lease <= 0 {
		return fmt.Errorf("%w: worker.lease must be positive", ErrConfiguration)
	}
	return nil
}

// AgentNames returns the configured agent codes in sorted order.
func (c *Config) AgentNames() []string {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
