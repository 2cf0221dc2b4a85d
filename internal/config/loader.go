package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. HIVEGATE_DATABASE_PATH.
const EnvPrefix = "HIVEGATE"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with precedence defaults < config file < env vars.
// CLI flags are applied by the caller on the returned struct.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional unless explicitly specified.
		if l.configFile != "" {
			return nil, fmt.Errorf("%w: load config file: %v", ErrConfiguration, err)
		}
	}

	// Lists and maps from the file replace the defaults instead of merging.
	if l.v.InConfig("agents") {
		cfg.Agents = nil
	}
	if l.v.IsSet("artifacts.search_dirs") {
		cfg.Artifacts.SearchDirs = nil
	}
	if l.v.IsSet("guardrail.risky_keywords") {
		cfg.Guardrail.RiskyKeywords = nil
	}
	if l.v.IsSet("guardrail.vague_keywords") {
		cfg.Guardrail.VagueKeywords = nil
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config: %v", ErrConfiguration, err)
	}

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFileUsed returns the file viper read, or "" when none was found.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(DirName)
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)
	bindEnvVars(v)
	v.AutomaticEnv()
}

// setDefaults registers scalar defaults so environment overrides resolve
// even when the key is absent from the config file.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	v.SetDefault("database.driver", cfg.Database.Driver)
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.dsn", cfg.Database.DSN)
	v.SetDefault("database.busy_timeout_ms", cfg.Database.BusyTimeoutMs)

	v.SetDefault("artifacts.dir", cfg.Artifacts.Dir)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("server.listen", cfg.Server.Listen)
	v.SetDefault("server.request_timeout", cfg.Server.RequestTimeout)

	v.SetDefault("roster.fallback", cfg.Roster.Fallback)
	v.SetDefault("roster.lead", cfg.Roster.Lead)
	v.SetDefault("roster.legacy", cfg.Roster.Legacy)

	v.SetDefault("intake.window", cfg.Intake.Window)

	v.SetDefault("guardrail.max_per_run", cfg.Guardrail.MaxPerRun)
	v.SetDefault("guardrail.min_title_length", cfg.Guardrail.MinTitleLength)
	v.SetDefault("guardrail.min_words", cfg.Guardrail.MinWords)

	v.SetDefault("worker.id", cfg.Worker.ID)
	v.SetDefault("worker.lease", cfg.Worker.Lease)
	v.SetDefault("worker.spawn_verification", cfg.Worker.SpawnVerification)
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

func bindEnvVars(v *viper.Viper) {
	keys := []string{
		"database.driver",
		"database.path",
		"database.dsn",
		"database.busy_timeout_ms",
		"artifacts.dir",
		"logging.level",
		"logging.format",
		"server.listen",
		"server.request_timeout",
		"intake.window",
		"guardrail.max_per_run",
		"worker.id",
		"worker.lease",
		"worker.spawn_verification",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

func expandTilde(path string) string {
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func expandPaths(cfg *Config) {
	cfg.Database.Path = expandTilde(cfg.Database.Path)
	cfg.Artifacts.Dir = expandTilde(cfg.Artifacts.Dir)
	for i, dir := range cfg.Artifacts.SearchDirs {
		cfg.Artifacts.SearchDirs[i] = expandTilde(dir)
	}
}
