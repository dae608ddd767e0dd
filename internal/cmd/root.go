// Package cmd provides the CLI commands for rigger.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigger/internal/config"
	"github.com/cameronsjo/rigger/internal/manifest"
	"github.com/cameronsjo/rigger/internal/overlay"
	"github.com/cameronsjo/rigger/internal/ui"
)

const version = "0.1.0"

var (
	rootDir    string
	configPath string
	logLevel   string
)

// logger is built from --log-level before every command.
var logger = slog.New(slog.DiscardHandler)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rigger",
	Short: "Layered manifests, ordered deploys",
	Long: `rigger - layered configuration and deploy orchestration

Resolves a tree of configuration layers (bases, strategic merge and JSON
patches, generators, transformers) into Kubernetes documents, orders them
by their references, and drives a build, push and apply pipeline with
per-step retry policies.

LAYERS
  build [layer]         Print the resolved documents of a layer
    --output, -o <file> Write them to a file instead
  order [layer]         Show the apply order and dependencies
  diff <from> <to>      Compare two resolved layers
  validate              Check configuration and resolve every layer

DEPLOY
  deploy [layer]        Run the deploy pipeline
    --plan              Resolve and order only
  reports               List archived run reports

MAINTENANCE
  doctor                Check required tools
  update                Update rigger to the latest release`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := config.InitLogging(logLevel, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.Error("%v", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "Project root (default: nearest directory with "+config.FileName+")")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to "+config.FileName)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate("rigger version {{.Version}}\n")
}

// loadConfig loads the project configuration named by the persistent flags.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" && rootDir != "" {
		path = filepath.Join(rootDir, config.FileName)
	}
	return config.Load(path)
}

// project is a loaded configuration with its layer engine.
type project struct {
	cfg    *config.Config
	tree   *manifest.Tree
	engine *overlay.Engine
}

func loadProject() (*project, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tree, err := manifest.LoadTree(cfg.LayersDir())
	if err != nil {
		return nil, err
	}

	engine := overlay.NewEngine(tree,
		overlay.WithLogger(logger),
		overlay.WithMergeKeys(cfg.MergeKeys),
		overlay.WithTransformers(cfg.GlobalTransformers()...),
	)
	return &project{cfg: cfg, tree: tree, engine: engine}, nil
}

// layer returns the layer named on the command line, or the configured
// default.
func (p *project) layer(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if p.cfg.Layer == "" {
		return "", fmt.Errorf("no layer given and no default layer in %s", config.FileName)
	}
	return p.cfg.Layer, nil
}

// completeLayers completes layer names from the project tree.
func completeLayers(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	p, err := loadProject()
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return p.tree.Names(), cobra.ShellCompDirectiveNoFileComp
}
