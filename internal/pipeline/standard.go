package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/cameronsjo/rigger/internal/manifest"
	"github.com/cameronsjo/rigger/internal/order"
	"github.com/cameronsjo/rigger/internal/overlay"
)

// Step names of the standard pipeline, in order.
const (
	StepResolve     = "resolve"
	StepOrder       = "order"
	StepCredentials = "credentials"
	StepBuild       = "build"
	StepPush        = "push"
	StepReachable   = "reachable"
	StepApply       = "apply"
	StepVerify      = "verify"
)

// StepNames lists the standard steps in run order.
var StepNames = []string{
	StepResolve, StepOrder, StepCredentials, StepBuild, StepPush, StepReachable, StepApply, StepVerify,
}

// DefaultTimeouts bounds each attempt of the standard steps.
var DefaultTimeouts = map[string]time.Duration{
	StepResolve:     time.Minute,
	StepOrder:       time.Minute,
	StepCredentials: 2 * time.Minute,
	StepBuild:       30 * time.Minute,
	StepPush:        10 * time.Minute,
	StepReachable:   30 * time.Second,
	StepApply:       5 * time.Minute,
	StepVerify:      10 * time.Minute,
}

// Verify defaults.
const (
	DefaultVerifyTimeout  = 5 * time.Minute
	DefaultVerifyInterval = 5 * time.Second

	// verifyMargin keeps the verify step timeout above the polling timeout.
	verifyMargin = 30 * time.Second
)

// StepSettings overrides the policy or timeout of one step.
type StepSettings struct {
	Policy  Policy
	Timeout time.Duration
}

// Settings configures the standard pipeline.
type Settings struct {
	Layer       string
	KubeContext string
	// Kubeconfig is used when no credentials step runs.
	Kubeconfig string

	ClusterName   string
	ClusterRegion string

	// Build is skipped when Build.Image is empty.
	Build BuildRequest
	Auth  RegistryAuth

	Steps map[string]StepSettings

	VerifyTimeout  time.Duration
	VerifyInterval time.Duration

	// PlanOnly stops after resolve and order.
	PlanOnly bool
}

// Deps are the collaborators of the standard pipeline. Builder, Pusher and
// Credentials may be nil when the matching steps are not configured.
type Deps struct {
	Resolver    Resolver
	Credentials CredentialFetcher
	Builder     Builder
	Pusher      Pusher
	Connect     Connector
}

// Standard returns the standard step list. Resolution and ordering run
// first, so that a broken layer fails before any external call.
func Standard(s Settings, deps Deps) []Step {
	steps := []Step{
		s.step(StepResolve, func(ctx context.Context, run *Run) error {
			result, err := deps.Resolver.Resolve(ctx, s.Layer)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrResolution, err)
			}
			run.Result = result
			for _, w := range result.Warnings {
				run.Warn(w)
			}
			return nil
		}),
		s.step(StepOrder, func(ctx context.Context, run *Run) error {
			plan, err := order.Resolve(run.Result.Documents)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrResolution, err)
			}
			run.Plan = plan
			return nil
		}),
	}
	// Resolution failures are never worth a retry or a warning.
	steps[0].Policy, steps[1].Policy = Abort(), Abort()

	if s.PlanOnly {
		return steps
	}

	if s.ClusterName != "" && deps.Credentials != nil {
		steps = append(steps, s.step(StepCredentials, func(ctx context.Context, run *Run) error {
			path, err := deps.Credentials.Fetch(ctx, s.ClusterName, s.ClusterRegion)
			if err != nil {
				return err
			}
			run.Kubeconfig = path
			return nil
		}))
	}

	if s.Build.Image != "" && deps.Builder != nil {
		build := s.step(StepBuild, func(ctx context.Context, run *Run) error {
			ref, err := deps.Builder.Build(ctx, s.Build)
			if err != nil {
				return err
			}
			run.Artifact = ref
			return nil
		})
		// A non-zero exit is deterministic; only timeouts are retried.
		build.Retryable = func(err error) bool {
			return IsRetryable(err) && !errors.Is(err, ErrBuildFailed)
		}
		steps = append(steps, build)

		if deps.Pusher != nil {
			steps = append(steps, s.step(StepPush, func(ctx context.Context, run *Run) error {
				return deps.Pusher.Push(ctx, run.Artifact, s.Auth)
			}))
		}
	}

	verify := s.step(StepVerify, func(ctx context.Context, run *Run) error {
		return verifyRollout(ctx, run, s.VerifyTimeout, s.VerifyInterval)
	})
	if minimum := s.VerifyTimeout + verifyMargin; verify.Timeout < minimum {
		verify.Timeout = minimum
	}

	return append(steps,
		s.step(StepReachable, func(ctx context.Context, run *Run) error {
			kubeconfig := run.Kubeconfig
			if kubeconfig == "" {
				kubeconfig = s.Kubeconfig
			}
			cluster, err := deps.Connect(kubeconfig, s.KubeContext)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrClusterUnreachable, err)
			}
			if err := cluster.Ping(ctx); err != nil {
				return err
			}
			run.Cluster = cluster
			return nil
		}),
		s.step(StepApply, func(ctx context.Context, run *Run) error {
			return applyDocuments(ctx, run, s.imageOverride(run))
		}),
		verify,
	)
}

func (s Settings) step(name string, action func(context.Context, *Run) error) Step {
	step := Step{
		Name:    name,
		Timeout: DefaultTimeouts[name],
		Policy:  Abort(),
		Action:  action,
	}
	if override, ok := s.Steps[name]; ok {
		if override.Policy.Mode != "" {
			step.Policy = override.Policy
		}
		if override.Timeout > 0 {
			step.Timeout = override.Timeout
		}
	}
	return step
}

// imageOverride points the built image at the pushed tag.
func (s Settings) imageOverride(run *Run) *manifest.Transformer {
	if run.Artifact == "" || s.Build.Image == "" {
		return nil
	}
	return &manifest.Transformer{Images: []manifest.ImageOverride{{Name: s.Build.Image, NewTag: s.Build.Tag}}}
}

// applyDocuments applies the resolved set in plan order. A rejected
// document does not stop the others, but documents depending on it are
// skipped.
func applyDocuments(ctx context.Context, run *Run, override *manifest.Transformer) error {
	if run.Result == nil || run.Plan == nil {
		return errors.New("nothing to apply: resolve and order did not run")
	}
	if run.Cluster == nil {
		return fmt.Errorf("%w: no cluster connection", ErrClusterUnreachable)
	}

	set := run.Result.Documents.Clone()
	if override != nil {
		if err := overlay.Transform(set, *override); err != nil {
			return fmt.Errorf("override image: %w", err)
		}
	}

	results := make([]DocumentResult, 0, len(run.Plan.Order))
	failed := make(map[manifest.ID]bool)
	defer func() { run.Documents = results }()

	rejected := &ApplyRejectedError{}
	for _, id := range run.Plan.Order {
		if dep, blocked := firstFailed(run.Plan.DependsOn(id), failed); blocked {
			failed[id] = true
			rejected.Skipped++
			results = append(results, DocumentResult{ID: id, Status: ApplySkipped, Reason: "dependency " + dep.String() + " not applied"})
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		doc, ok := set.Get(id)
		if !ok {
			return fmt.Errorf("plan names %s, which is not in the resolved set", id)
		}
		if err := run.Cluster.Apply(ctx, doc); err != nil {
			if ctx.Err() != nil {
				return err
			}
			failed[id] = true
			r := DocumentResult{ID: id, Status: ApplyRejected, Reason: err.Error()}
			rejected.Rejected = append(rejected.Rejected, r)
			results = append(results, r)
			continue
		}
		results = append(results, DocumentResult{ID: id, Status: ApplyApplied})
	}

	if len(rejected.Rejected) > 0 {
		return rejected
	}
	return nil
}

func firstFailed(deps []manifest.ID, failed map[manifest.ID]bool) (manifest.ID, bool) {
	for _, dep := range deps {
		if failed[dep] {
			return dep, true
		}
	}
	return manifest.ID{}, false
}

// verifyRollout polls applied workloads until they are ready. Running out
// of time is a warning, not a failure.
func verifyRollout(ctx context.Context, run *Run, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	if interval <= 0 {
		interval = DefaultVerifyInterval
	}

	var pending []manifest.ID
	for _, d := range run.Documents {
		if d.Status == ApplyApplied && IsWorkload(d.ID.Kind) {
			pending = append(pending, d.ID)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if run.Cluster == nil {
		return fmt.Errorf("%w: no cluster connection", ErrClusterUnreachable)
	}

	causes := make(map[manifest.ID]error)
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		var still []manifest.ID
		for _, id := range pending {
			status, err := run.Cluster.Status(ctx, id)
			switch {
			case err != nil:
				if ctx.Err() == nil {
					causes[id] = err
				}
				still = append(still, id)
			case !status.Done():
				delete(causes, id)
				still = append(still, id)
			}
		}
		pending = still
		return len(pending) == 0, nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	for id := range causes {
		if !slices.Contains(pending, id) {
			delete(causes, id)
		}
	}
	run.Warn(&VerificationTimeoutError{Pending: pending, Timeout: timeout, Causes: causes})
	return nil
}
