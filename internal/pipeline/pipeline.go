package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cameronsjo/rigger/internal/manifest"
	"github.com/cameronsjo/rigger/internal/order"
	"github.com/cameronsjo/rigger/internal/overlay"
)

// Outcome is the result of a whole run.
type Outcome string

const (
	OutcomeSucceeded             Outcome = "Succeeded"
	OutcomeFailed                Outcome = "Failed"
	OutcomeSucceededWithWarnings Outcome = "SucceededWithWarnings"
)

// Default backoff between retry attempts.
const (
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// Run is the state steps share during one run.
type Run struct {
	ID    string
	Layer string

	Result     *overlay.Result
	Plan       *order.Plan
	Kubeconfig string
	Artifact   string
	Cluster    Cluster
	Documents  []DocumentResult

	warnings []error
}

// Warn records a non-fatal problem. The run can still succeed, with
// warnings.
func (r *Run) Warn(err error) {
	r.warnings = append(r.warnings, err)
}

// Warnings returns the recorded warnings.
func (r *Run) Warnings() []error {
	return r.warnings
}

// ApplyStatus is the result of applying one document.
type ApplyStatus string

const (
	ApplyApplied  ApplyStatus = "Applied"
	ApplyRejected ApplyStatus = "Rejected"
	ApplySkipped  ApplyStatus = "Skipped"
)

// DocumentResult is the apply result of one document.
type DocumentResult struct {
	ID     manifest.ID `yaml:"id"`
	Status ApplyStatus `yaml:"status"`
	Reason string      `yaml:"reason,omitempty"`
}

// Report describes a finished run.
type Report struct {
	RunID      string           `yaml:"runId"`
	Layer      string           `yaml:"layer"`
	Outcome    Outcome          `yaml:"outcome"`
	FailedStep string           `yaml:"failedStep,omitempty"`
	Reason     string           `yaml:"reason,omitempty"`
	Warnings   []string         `yaml:"warnings,omitempty"`
	Artifact   string           `yaml:"artifact,omitempty"`
	Steps      []StepResult     `yaml:"steps"`
	Documents  []DocumentResult `yaml:"documents,omitempty"`
	Started    time.Time        `yaml:"started"`
	Finished   time.Time        `yaml:"finished"`

	// Err is the error that failed the run, if any.
	Err error `yaml:"-"`
}

// Step returns the result of the named step.
func (r *Report) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// Summary is a one-line description of the outcome.
func (r *Report) Summary() string {
	switch r.Outcome {
	case OutcomeFailed:
		return fmt.Sprintf("%s at step %s: %s", r.Outcome, r.FailedStep, r.Reason)
	case OutcomeSucceededWithWarnings:
		return fmt.Sprintf("%s (%d warning(s))", r.Outcome, len(r.Warnings))
	default:
		return string(r.Outcome)
	}
}

// Pipeline runs steps in order.
type Pipeline struct {
	steps          []Step
	logger         *slog.Logger
	metrics        *Metrics
	observer       func(StepResult)
	runID          string
	layer          string
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option is a functional option for configuring the Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger for step transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics records step and run metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithObserver calls fn on every step state change.
func WithObserver(fn func(StepResult)) Option {
	return func(p *Pipeline) {
		p.observer = fn
	}
}

// WithRunID sets the run ID instead of a random one.
func WithRunID(id string) Option {
	return func(p *Pipeline) {
		p.runID = id
	}
}

// WithLayer names the layer being deployed.
func WithLayer(layer string) Option {
	return func(p *Pipeline) {
		p.layer = layer
	}
}

// WithBackoff sets the initial and maximum wait between retries.
func WithBackoff(initial, max time.Duration) Option {
	return func(p *Pipeline) {
		p.initialBackoff = initial
		p.maxBackoff = max
	}
}

// New creates a Pipeline running steps in order.
func New(steps []Step, opts ...Option) *Pipeline {
	p := &Pipeline{
		steps:          steps,
		logger:         slog.New(slog.DiscardHandler),
		runID:          uuid.NewString(),
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// RunID returns the ID the next report carries.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Run executes every step and reports the outcome. Cancelling ctx stops
// the run once the in-flight call returns; remaining steps are Skipped.
// Documents already applied stay applied.
func (p *Pipeline) Run(ctx context.Context) *Report {
	run := &Run{ID: p.runID, Layer: p.layer}
	report := &Report{RunID: p.runID, Layer: p.layer, Started: time.Now()}

	p.logger.Info("run started", "run", p.runID, "layer", p.layer, "steps", len(p.steps))

	halted := false
	for _, step := range p.steps {
		if !halted {
			if err := ctx.Err(); err != nil {
				halted = true
				report.fail(step.Name, fmt.Errorf("cancelled before start: %w", err))
			}
		}
		if halted {
			skipped := StepResult{Name: step.Name, State: StateSkipped, Policy: step.Policy.String()}
			report.Steps = append(report.Steps, skipped)
			p.transition(&skipped, StateSkipped, nil)
			continue
		}

		res := p.execute(ctx, step, run)
		report.Steps = append(report.Steps, res)
		if res.State != StateFailed {
			continue
		}

		if step.Policy.Mode == PolicyContinue && ctx.Err() == nil {
			p.logger.Warn("step failed, continuing", "step", step.Name, "error", res.Err)
			run.Warn(fmt.Errorf("step %s: %w", step.Name, res.Err))
			continue
		}

		halted = true
		report.fail(step.Name, res.Err)
	}

	report.Artifact = run.Artifact
	report.Documents = run.Documents
	for _, w := range run.warnings {
		report.Warnings = append(report.Warnings, w.Error())
	}

	switch {
	case report.FailedStep != "":
		report.Outcome = OutcomeFailed
	case len(report.Warnings) > 0:
		report.Outcome = OutcomeSucceededWithWarnings
	default:
		report.Outcome = OutcomeSucceeded
	}
	report.Finished = time.Now()

	p.metrics.observeRun(report)
	p.logger.Info("run finished",
		"run", p.runID,
		"outcome", string(report.Outcome),
		"duration", report.Finished.Sub(report.Started),
	)
	return report
}

func (r *Report) fail(step string, err error) {
	r.FailedStep = step
	r.Reason = err.Error()
	r.Err = err
}
