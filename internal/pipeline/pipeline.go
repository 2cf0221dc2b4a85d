// Package pipeline assembles the task store, artifact tree and the four
// pipeline stages from a loaded configuration.
package pipeline

import (
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/imkarma/hivegate/internal/agent"
	"github.com/imkarma/hivegate/internal/artifact"
	"github.com/imkarma/hivegate/internal/config"
	"github.com/imkarma/hivegate/internal/guardrail"
	"github.com/imkarma/hivegate/internal/intake"
	"github.com/imkarma/hivegate/internal/logging"
	"github.com/imkarma/hivegate/internal/metrics"
	"github.com/imkarma/hivegate/internal/store"
	"github.com/imkarma/hivegate/internal/sweeper"
	"github.com/imkarma/hivegate/internal/worker"
)

// Pipeline holds the wired components. Close releases the store.
type Pipeline struct {
	Config    *config.Config
	Store     *store.Store
	Roster    *agent.Roster
	Artifacts *artifact.Store
	Metrics   *metrics.Metrics

	Intake    *intake.Service
	Guardrail *guardrail.Filter
	Worker    *worker.Executor
	Sweeper   *sweeper.Sweeper
}

// Options tweak how the pipeline is built.
type Options struct {
	// Fs backs the artifact tree. Defaults to the OS filesystem.
	Fs afero.Fs

	// RequireExisting fails when a sqlite database file does not exist yet
	// instead of creating it.
	RequireExisting bool
}

// ErrNotInitialized is returned when RequireExisting is set and the sqlite
// database is missing.
var ErrNotInitialized = fmt.Errorf("%w: hivegate is not initialized (run: hivegate init)", config.ErrConfiguration)

// OpenStore opens the configured task store.
func OpenStore(cfg *config.Config, requireExisting bool) (*store.Store, error) {
	db := cfg.Database
	if requireExisting && db.Driver == "sqlite" {
		if _, err := os.Stat(db.Path); os.IsNotExist(err) {
			return nil, ErrNotInitialized
		}
	}
	return store.Open(store.Options{Driver: db.Driver, DSN: db.Location(), BusyTimeoutMs: db.BusyTimeoutMs})
}

// Build opens the store and wires every stage with its component logger.
func Build(cfg *config.Config, opts Options) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no configuration", config.ErrConfiguration)
	}
	roster, err := agent.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	st, err := OpenStore(cfg, opts.RequireExisting)
	if err != nil {
		return nil, err
	}

	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	arts := artifact.NewStore(fs, cfg.Artifacts.Dir, cfg.Artifacts.SearchDirs)
	m := metrics.New()

	p := &Pipeline{
		Config:    cfg,
		Store:     st,
		Roster:    roster,
		Artifacts: arts,
		Metrics:   m,
	}

	p.Intake = intake.New(st, roster)
	p.Intake.Window = cfg.Intake.Window
	p.Intake.Log = logging.Component("intake")
	p.Intake.Metrics = m

	p.Guardrail = guardrail.New(st, cfg.Guardrail)
	p.Guardrail.Log = logging.Component("guardrail")
	p.Guardrail.Metrics = m

	p.Worker = worker.New(st, arts, roster, cfg.Worker.WorkerID())
	p.Worker.Lease = cfg.Worker.Lease
	p.Worker.SpawnVerification = cfg.Worker.SpawnVerification
	p.Worker.Log = logging.Component("worker")
	p.Worker.Metrics = m

	p.Sweeper = sweeper.New(st, arts)
	p.Sweeper.Log = logging.Component("sweeper")
	p.Sweeper.Metrics = m

	return p, nil
}

// Close releases the task store.
func (p *Pipeline) Close() error {
	if p == nil || p.Store == nil {
		return nil
	}
	return p.Store.Close()
}
