package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/yaml.v3"
)

// State is the state of one step in one run.
type State string

const (
	StatePending   State = "Pending"
	StateRunning   State = "Running"
	StateRetrying  State = "Retrying"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
	StateSkipped   State = "Skipped"
)

// PolicyMode is what a final step failure means for the run.
type PolicyMode string

const (
	PolicyAbort    PolicyMode = "abort"
	PolicyRetry    PolicyMode = "retry"
	PolicyContinue PolicyMode = "continue"
)

// Policy is the failure policy of a step.
type Policy struct {
	Mode PolicyMode
	// Retries is the number of attempts after the first, for PolicyRetry.
	Retries int
}

// Abort halts the run on failure.
func Abort() Policy { return Policy{Mode: PolicyAbort} }

// Retry retries a failed step n more times before aborting.
func Retry(n int) Policy { return Policy{Mode: PolicyRetry, Retries: n} }

// Continue records a failure as a warning.
func Continue() Policy { return Policy{Mode: PolicyContinue} }

func (p Policy) String() string {
	if p.Mode == PolicyRetry {
		return fmt.Sprintf("retry(%d)", p.Retries)
	}
	return string(p.Mode)
}

var retryPattern = regexp.MustCompile(`^retry\((\d+)\)$`)

// ParsePolicy parses "abort", "continue" or "retry(n)". An empty string
// is abort.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", string(PolicyAbort):
		return Abort(), nil
	case string(PolicyContinue):
		return Continue(), nil
	}
	m := retryPattern.FindStringSubmatch(s)
	if m == nil {
		return Policy{}, fmt.Errorf("invalid policy %q (expected abort, continue or retry(n))", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return Policy{}, fmt.Errorf("invalid policy %q: retry count must be at least 1", s)
	}
	return Retry(n), nil
}

// MarshalYAML writes the policy in its string form.
func (p Policy) MarshalYAML() (any, error) {
	return p.String(), nil
}

// UnmarshalYAML reads the string form.
func (p *Policy) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParsePolicy(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Step is one unit of a pipeline.
type Step struct {
	Name string
	// Timeout bounds each attempt. Zero means no bound.
	Timeout time.Duration
	Policy  Policy
	Action  func(ctx context.Context, run *Run) error
	// Retryable classifies a failed attempt. Nil means IsRetryable.
	Retryable func(error) bool
}

// StepResult is the terminal state of a step in one run.
type StepResult struct {
	Name     string        `yaml:"name"`
	State    State         `yaml:"state"`
	Policy   string        `yaml:"policy"`
	Attempts int           `yaml:"attempts"`
	Duration time.Duration `yaml:"duration"`
	Error    string        `yaml:"error,omitempty"`

	Err error `yaml:"-"`
}

// execute runs one step to a terminal state.
func (p *Pipeline) execute(ctx context.Context, step Step, run *Run) StepResult {
	res := StepResult{Name: step.Name, State: StatePending, Policy: step.Policy.String()}
	start := time.Now()

	retryable := step.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if step.Policy.Mode == PolicyRetry && step.Policy.Retries > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.initialBackoff
		exp.MaxInterval = p.maxBackoff
		exp.MaxElapsedTime = 0
		b = backoff.WithMaxRetries(exp, uint64(step.Policy.Retries))
	}
	b = backoff.WithContext(b, ctx)

	operation := func() error {
		res.Attempts++
		p.transition(&res, StateRunning, nil)

		attemptCtx := ctx
		if step.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, step.Timeout)
			defer cancel()
		}

		err := step.Action(attemptCtx, run)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", step.Timeout, err)
		}
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		p.transition(&res, StateRetrying, err)
		p.logger.Warn("step attempt failed, retrying",
			"step", step.Name,
			"attempt", res.Attempts,
			"wait", wait,
			"error", err,
		)
	}

	err := backoff.RetryNotify(operation, b, notify)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		p.transition(&res, StateFailed, err)
	} else {
		p.transition(&res, StateSucceeded, nil)
	}

	p.metrics.observeStep(res)
	return res
}

// transition records a state change and tells the observer.
func (p *Pipeline) transition(res *StepResult, state State, err error) {
	res.State = state
	attrs := []any{"step", res.Name, "state", string(state), "attempt", res.Attempts}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	p.logger.Debug("step transition", attrs...)
	if p.observer != nil {
		p.observer(*res)
	}
}
