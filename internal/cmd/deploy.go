package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigger/internal/alert"
	"github.com/cameronsjo/rigger/internal/config"
	"github.com/cameronsjo/rigger/internal/credentials"
	"github.com/cameronsjo/rigger/internal/docker"
	"github.com/cameronsjo/rigger/internal/kube"
	"github.com/cameronsjo/rigger/internal/lock"
	"github.com/cameronsjo/rigger/internal/order"
	"github.com/cameronsjo/rigger/internal/pipeline"
	"github.com/cameronsjo/rigger/internal/report"
	"github.com/cameronsjo/rigger/internal/ui"
	"github.com/cameronsjo/rigger/internal/vcs"
)

// publishTimeout bounds report upload, alerts and metrics push after a run.
const publishTimeout = 30 * time.Second

var deployPlan bool

var deployCmd = &cobra.Command{
	Use:   "deploy [layer]",
	Short: "Run the deploy pipeline",
	Long: `Run the deploy pipeline for a layer:

  resolve      Resolve the layer into documents
  order        Order documents by their references
  credentials  Fetch cluster credentials (when cluster.credentials is set)
  build        Build the image (when build.image is set)
  push         Push the image to its registry
  reachable    Check the cluster answers
  apply        Server-side apply every document in order
  verify       Wait for workloads to become ready

Each step has a policy (abort, retry(n), continue) set in rigger.yaml.
Every run writes a report to the reports directory.

Examples:
  rigger deploy prod          # Deploy the prod layer
  rigger deploy prod --plan   # Resolve and order only`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeLayers,
	RunE:              runDeploy,
}

func init() {
	deployCmd.Flags().BoolVar(&deployPlan, "plan", false, "Resolve and order only, touch nothing")

	rootCmd.AddCommand(deployCmd)
}

// connectCluster is replaced in tests.
var connectCluster pipeline.Connector = func(kubeconfig, kubeContext string) (pipeline.Cluster, error) {
	c, err := kube.Connect(kubeconfig, kubeContext, kube.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func runDeploy(cmd *cobra.Command, args []string) error {
	p, err := loadProject()
	if err != nil {
		return err
	}
	layer, err := p.layer(args)
	if err != nil {
		return err
	}
	cfg := p.cfg

	if deployPlan {
		return planDeploy(cmd, p, layer)
	}

	l := lock.New(cfg.LockPath())
	if err := l.Acquire(); err != nil {
		return err
	}
	defer l.Release()

	tag, err := imageTag(cfg)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{Resolver: p.engine, Connect: connectCluster}
	if len(cfg.Cluster.Credentials) > 0 {
		fetcher, err := credentials.New(cfg.Cluster.Credentials, credentials.WithLogger(logger))
		if err != nil {
			return err
		}
		deps.Credentials = fetcher
	}
	if cfg.Build.Image != "" {
		deps.Builder = docker.NewBuilder()
	}
	if cfg.PushEnabled() {
		client, err := docker.NewClient()
		if err != nil {
			return fmt.Errorf("connect to docker: %w", err)
		}
		defer client.Close()
		client.SetProgress(cmd.ErrOrStderr())
		deps.Pusher = client
	}

	metrics := pipeline.NewMetrics()
	pl := pipeline.New(
		pipeline.Standard(cfg.PipelineSettings(layer, tag), deps),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
		pipeline.WithLayer(layer),
		pipeline.WithObserver(stepPrinter()),
	)

	ui.Header("Deploying %s (run %s)", layer, pl.RunID())
	rep := pl.Run(cmd.Context())
	printOutcome(cmd.OutOrStdout(), rep)

	// The run context may be cancelled already; publishing still happens.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), publishTimeout)
	defer cancel()
	publish(ctx, cfg, rep, metrics)

	if rep.Outcome == pipeline.OutcomeFailed {
		return fmt.Errorf("deploy failed at step %s: %w", rep.FailedStep, rep.Err)
	}
	return nil
}

// imageTag returns the configured tag, or the HEAD commit when a build is
// configured without one.
func imageTag(cfg *config.Config) (string, error) {
	if cfg.Build.Image == "" || cfg.Build.Tag != "" {
		return cfg.Build.Tag, nil
	}
	tag, err := vcs.HeadTag(cfg.Root)
	if err != nil {
		return "", fmt.Errorf("derive image tag (set build.tag to skip): %w", err)
	}
	return tag, nil
}

func planDeploy(cmd *cobra.Command, p *project, layer string) error {
	settings := p.cfg.PipelineSettings(layer, "")
	settings.PlanOnly = true

	rep := pipeline.New(
		pipeline.Standard(settings, pipeline.Deps{Resolver: p.engine}),
		pipeline.WithLogger(logger),
		pipeline.WithLayer(layer),
		pipeline.WithObserver(stepPrinter()),
	).Run(cmd.Context())
	if rep.Outcome == pipeline.OutcomeFailed {
		return fmt.Errorf("plan failed at step %s: %w", rep.FailedStep, rep.Err)
	}

	// Resolution is memoized, so this costs no second walk of the tree.
	result, err := p.engine.Resolve(cmd.Context(), layer)
	if err != nil {
		return err
	}
	plan, err := order.Resolve(result.Documents)
	if err != nil {
		return err
	}
	printWarnings(cmd.ErrOrStderr(), result.Warnings)
	printPlan(cmd.OutOrStdout(), plan)
	return nil
}

// stepPrinter prints step transitions as they happen.
func stepPrinter() func(pipeline.StepResult) {
	n := 0
	return func(res pipeline.StepResult) {
		switch res.State {
		case pipeline.StateRunning:
			if res.Attempts <= 1 {
				n++
				ui.Step(n, "%s", res.Name)
			}
		case pipeline.StateRetrying:
			ui.Warning("%s attempt %d failed, retrying", res.Name, res.Attempts)
		case pipeline.StateSucceeded:
			ui.Success("%s (%s)", res.Name, res.Duration.Round(time.Millisecond))
		case pipeline.StateFailed:
			ui.Error("%s: %s", res.Name, res.Error)
		case pipeline.StateSkipped:
			ui.Info("  %s skipped", res.Name)
		}
	}
}

func printOutcome(w io.Writer, rep *pipeline.Report) {
	for _, d := range rep.Documents {
		switch d.Status {
		case pipeline.ApplyRejected:
			ui.Red.Fprintf(w, "  rejected %s: %s\n", d.ID, d.Reason)
		case pipeline.ApplySkipped:
			ui.Yellow.Fprintf(w, "  skipped %s: %s\n", d.ID, d.Reason)
		}
	}
	for _, warning := range rep.Warnings {
		ui.Warning("%s", warning)
	}

	switch rep.Outcome {
	case pipeline.OutcomeFailed:
		ui.Mayday("%s", rep.Summary())
	case pipeline.OutcomeSucceededWithWarnings:
		ui.Warning("%s", rep.Summary())
	default:
		ui.Ship("%s in %s", rep.Summary(), rep.Finished.Sub(rep.Started).Round(time.Millisecond))
	}
}

// publish stores the report, sends alerts and pushes metrics. Failures
// are printed but never change the outcome of the run.
func publish(ctx context.Context, cfg *config.Config, rep *pipeline.Report, metrics *pipeline.Metrics) {
	sinks := []report.Sink{report.NewArchive(cfg.ReportsDir(), cfg.Reports.Keep)}
	if s3 := cfg.Reports.S3; s3.Bucket != "" {
		bucket, err := report.NewBucket(ctx, s3.Bucket, s3.Prefix, s3.Region)
		if err != nil {
			ui.Warning("Report upload disabled: %v", err)
		} else {
			sinks = append(sinks, bucket)
		}
	}

	locations, err := report.Publish(ctx, rep, sinks...)
	for _, loc := range locations {
		ui.Info("Report: %s", loc)
	}
	if err != nil {
		ui.Warning("Report: %v", err)
	}

	alerts := alert.NewManager()
	alerts.AddProvider(alert.NewDiscordProvider(cfg.DiscordWebhook()))
	if err := alerts.SendRun(ctx, rep, cfg.Notify.OnSuccess); err != nil {
		ui.Warning("Alert: %v", err)
	}

	if cfg.Metrics.Pushgateway != "" {
		if err := metrics.Push(ctx, cfg.Metrics.Pushgateway, cfg.Metrics.Job); err != nil {
			ui.Warning("Metrics: %v", err)
		}
	}
}
