package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/imkarma/hivegate/internal/config"
	"github.com/imkarma/hivegate/internal/logging"
	"github.com/imkarma/hivegate/internal/pipeline"
	"github.com/imkarma/hivegate/internal/store"
)

// ANSI color codes.
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// appCfg is the configuration loaded for the running command.
var appCfg *config.Config

// hivegatePath returns the path to a file inside .hivegate/.
func hivegatePath(parts ...string) string {
	elems := append([]string{config.DirName}, parts...)
	return filepath.Join(elems...)
}

// loadConfig resolves defaults < file < env < flags and sets up logging.
func loadConfig(cmd *cobra.Command, args []string) error {
	l := config.NewLoader()
	if cfgFile != "" {
		l.SetConfigFile(cfgFile)
	}
	cfg, err := l.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	appCfg = cfg

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	if used := l.ConfigFileUsed(); used != "" {
		logging.Logger.Debug().Str("file", used).Msg("config loaded")
	}
	return nil
}

// mustStore opens the store, returning an error if hivegate is not initialized.
func mustStore() (*store.Store, error) {
	return pipeline.OpenStore(appCfg, true)
}

// mustPipeline wires every stage over an existing store.
func mustPipeline() (*pipeline.Pipeline, error) {
	return pipeline.Build(appCfg, pipeline.Options{RequireExisting: true})
}

// commandContext bounds a command's store work by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cmdTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cmdTimeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
