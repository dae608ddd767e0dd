package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigger/internal/ui"
	"github.com/cameronsjo/rigger/internal/update"
)

var updateCmd = &cobra.Command{
	Use:     "update",
	Aliases: []string{"upgrade", "selfupdate"},
	Short:   "Update rigger to the latest version",
	Long: `Update rigger to the latest version from GitHub releases.

This command will:
1. Check for a newer version on GitHub
2. Download the appropriate binary for your platform
3. Replace the current binary with the new version

Examples:
  rigger update           # Update to latest version
  rigger update --check   # Check for updates without installing`,
	Args: cobra.NoArgs,
	RunE: runUpdate,
}

var (
	checkOnly bool
)

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().BoolVar(&checkOnly, "check", false, "Only check for updates, don't install")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ui.Info("Current version: %s (%s)", version, update.PlatformInfo())
	ui.Info("Checking for updates...")

	if checkOnly {
		release, available, err := update.CheckForUpdate(cmd.Context(), version)
		if err != nil {
			return fmt.Errorf("check for updates: %w", err)
		}
		if !available {
			ui.Success("You're running the latest version!")
			return nil
		}
		ui.Success("New version available: %s (released %s)", release.Version, release.PublishedAt)
		ui.Info("To update, run: rigger update")
		printChangelog(release.Changelog)
		return nil
	}

	release, err := update.Update(cmd.Context(), version)
	if err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	if release == nil {
		ui.Success("You're already running the latest version!")
		return nil
	}

	ui.Success("Successfully updated to version %s!", release.Version)
	printChangelog(release.Changelog)
	return nil
}

// maxChangelogLines caps the release notes printed.
const maxChangelogLines = 10

func printChangelog(changelog string) {
	if changelog == "" {
		return
	}
	ui.Yellow.Fprintln(ui.Output, "What's new:")
	lines := strings.Split(changelog, "\n")
	for i, line := range lines {
		if i == maxChangelogLines {
			fmt.Fprintf(ui.Output, "  ... (%d more lines)\n", len(lines)-maxChangelogLines)
			break
		}
		fmt.Fprintf(ui.Output, "  %s\n", line)
	}
}
