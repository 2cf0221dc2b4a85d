package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/imkarma/hivegate/internal/artifact"
	"github.com/imkarma/hivegate/internal/config"
	"github.com/imkarma/hivegate/internal/pipeline"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize hivegate in the current directory",
	Long:  "Creates a .hivegate/ directory with default config, database and artifact tree.",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := hivegatePath("config.yaml")

	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("hivegate already initialized in this directory (%s exists)", cfgPath)
	}

	executions := filepath.Join(appCfg.Artifacts.Dir, artifact.ExecutionsDir)
	if err := os.MkdirAll(executions, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", executions, err)
	}

	if err := config.Save(cfgPath, config.DefaultConfig()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	// Opening the store runs migrations.
	st, err := pipeline.OpenStore(appCfg, false)
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	st.Close()

	fmt.Fprintf(out, "Initialized hivegate in %s/\n", config.DirName)
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  1. Edit %s to configure your agents\n", cfgPath)
	fmt.Fprintln(out, "  2. Run: hivegate intake \"your task title\" --assign sam")
	fmt.Fprintln(out, "  3. Run: hivegate guardrail && hivegate work --all && hivegate sweep")
	return nil
}
