package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigger/internal/order"
	"github.com/cameronsjo/rigger/internal/ui"
)

// validateCmd represents the validate command.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration and resolve every layer",
	Long: `Validate the project without deploying.

This command performs validation checks:
  1. rigger.yaml parses and is consistent
  2. The layer graph has no unknown bases and no cycles
  3. Every layer resolves and its documents can be ordered

Use this before deploying to catch configuration issues early.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ui.Header("=== Rigger Validation ===")

	p, err := loadProject()
	if err != nil {
		ui.Error("Configuration: %v", err)
		return fmt.Errorf("validation failed")
	}
	ui.Success("Configuration: %s", p.cfg.Root)

	if err := p.engine.Validate(); err != nil {
		ui.Error("Layer graph: %v", err)
		return fmt.Errorf("validation failed")
	}
	names := p.tree.Names()
	ui.Success("Layer graph: %d layer(s)", len(names))

	results, err := p.engine.ResolveAll(cmd.Context(), names...)
	if err != nil {
		ui.Error("Resolve: %v", err)
		return fmt.Errorf("validation failed")
	}

	var errors, warnings int
	for _, name := range names {
		result := results[name]
		if _, err := order.Resolve(result.Documents); err != nil {
			ui.Error("%s: %v", name, err)
			errors++
			continue
		}
		for _, w := range result.Warnings {
			ui.Warning("%s: %v", name, w)
			warnings++
		}
		ui.Success("%s: %d document(s)", name, result.Documents.Len())
	}

	if errors > 0 {
		return fmt.Errorf("validation failed: %d layer(s) cannot be ordered", errors)
	}
	if warnings > 0 {
		ui.Warning("Validation passed with %d warning(s).", warnings)
		return nil
	}
	ui.Success("Project is valid!")
	return nil
}
