package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigger/internal/docker"
	"github.com/cameronsjo/rigger/internal/preflight"
	"github.com/cameronsjo/rigger/internal/ui"
)

// dockerPingTimeout bounds the docker daemon check.
const dockerPingTimeout = 5 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the tools a deploy needs are available",
	Long: `Run pre-flight checks for the current project:

  - rigger.yaml loads and validates
  - Binaries used by the configured steps are installed
  - The docker daemon answers when an image build is configured`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ui.Blue.Fprintln(ui.Output, "Running pre-flight checks...")

	cfg, err := loadConfig()
	if err != nil {
		ui.Error("Configuration: %v", err)
		return fmt.Errorf("doctor found problems")
	}
	ui.Success("Project root found: %s", cfg.Root)

	failed := 0
	checks := preflight.Binaries(cfg)
	warnings, errors := preflight.Check(checks)
	for _, e := range errors {
		ui.Error("Missing %s", e)
		failed++
	}
	for _, w := range warnings {
		ui.Warning("Missing %s", w)
	}
	if found := len(checks) - len(errors) - len(warnings); found > 0 {
		ui.Success("%d of %d tool(s) installed", found, len(checks))
	}

	if cfg.Build.Image != "" && preflight.IsBinaryAvailable("docker") {
		if err := pingDocker(cmd.Context()); err != nil {
			ui.Error("Docker daemon: %v", err)
			failed++
		} else {
			ui.Success("Docker daemon is running")
		}
	}

	if failed > 0 {
		return fmt.Errorf("doctor found %d problem(s)", failed)
	}
	ui.Success("Ready to deploy")
	return nil
}

func pingDocker(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dockerPingTimeout)
	defer cancel()

	client, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Ping(ctx)
}
