// Command evidence-sweeper runs one evidence sweep over the task store named
// by HIVEGATE_DATABASE_PATH (or HIVEGATE_DATABASE_DSN for postgres) and
// prints a one-line summary. It is meant to be run from cron.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/imkarma/hivegate/internal/config"
	"github.com/imkarma/hivegate/internal/logging"
	"github.com/imkarma/hivegate/internal/pipeline"
)

var locationEnv = []string{
	config.EnvPrefix + "_DATABASE_PATH",
	config.EnvPrefix + "_DATABASE_DSN",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, stdout, stderr io.Writer) int {
	if err := sweep(ctx, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "evidence_sweeper_error %v\n", err)
		return 1
	}
	return 0
}

func sweep(ctx context.Context, stdout, stderr io.Writer) error {
	l := config.NewLoader()
	cfg, err := l.Load()
	if err != nil {
		return err
	}
	if !locationSet() && l.ConfigFileUsed() == "" {
		return fmt.Errorf("%w: %s is not set", config.ErrConfiguration, locationEnv[0])
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: stderr,
	})

	p, err := pipeline.Build(cfg, pipeline.Options{RequireExisting: true})
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.Sweeper.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, res.String())
	return nil
}

func locationSet() bool {
	for _, key := range locationEnv {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}
