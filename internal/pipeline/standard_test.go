package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cameronsjo/rigger/internal/manifest"
	"github.com/cameronsjo/rigger/internal/order"
	"github.com/cameronsjo/rigger/internal/overlay"
)

const appDocuments = `apiVersion: v1
kind: ConfigMap
metadata: {name: web-config}
data: {LEVEL: info}
---
apiVersion: apps/v1
kind: Deployment
metadata: {name: web}
spec:
  replicas: 2
  template:
    spec:
      containers:
        - name: web
          image: registry.example.com/web:latest
          envFrom:
            - configMapRef: {name: web-config}
---
apiVersion: v1
kind: Service
metadata: {name: web}
spec:
  ports: [{port: 80}]
`

// staticResolver resolves every layer to the same documents.
type staticResolver struct {
	docs  string
	err   error
	calls int
}

func (r *staticResolver) Resolve(_ context.Context, layer string) (*overlay.Result, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	docs, err := manifest.ParseDocuments([]byte(r.docs))
	if err != nil {
		return nil, err
	}
	set := manifest.NewSet()
	for _, d := range docs {
		if err := set.Add(d); err != nil {
			return nil, err
		}
	}
	return &overlay.Result{Layer: layer, Documents: set}, nil
}

// fakeCluster records applies and reports canned rollout status.
type fakeCluster struct {
	mu      sync.Mutex
	pingErr error
	reject    map[string]error
	ready     bool
	statusErr error
	applied   []*manifest.Document
}

func (c *fakeCluster) Ping(context.Context) error {
	return c.pingErr
}

func (c *fakeCluster) Apply(_ context.Context, doc *manifest.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.reject[doc.ID().String()]; ok {
		return err
	}
	c.applied = append(c.applied, doc)
	return nil
}

func (c *fakeCluster) Status(context.Context, manifest.ID) (WorkloadStatus, error) {
	if c.statusErr != nil {
		return WorkloadStatus{}, c.statusErr
	}
	if c.ready {
		return WorkloadStatus{Desired: 2, Ready: 2, Updated: 2}, nil
	}
	return WorkloadStatus{Desired: 2, Ready: 1, Updated: 2}, nil
}

func (c *fakeCluster) appliedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.applied))
	for i, d := range c.applied {
		ids[i] = d.ID().String()
	}
	return ids
}

type fakeBuilder struct {
	err   error
	calls int
}

func (b *fakeBuilder) Build(_ context.Context, req BuildRequest) (string, error) {
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	return req.Reference(), nil
}

type fakePusher struct {
	err    error
	calls  int
	pushed []string
}

func (p *fakePusher) Push(_ context.Context, ref string, _ RegistryAuth) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.pushed = append(p.pushed, ref)
	return nil
}

type fakeCredentials struct {
	path string
	err  error
}

func (f *fakeCredentials) Fetch(context.Context, string, string) (string, error) {
	return f.path, f.err
}

// connectTo returns a Connector handing out cluster, recording the
// kubeconfig it was asked for.
func connectTo(cluster *fakeCluster, kubeconfig *string) Connector {
	return func(path, _ string) (Cluster, error) {
		if kubeconfig != nil {
			*kubeconfig = path
		}
		return cluster, nil
	}
}

func runStandard(t *testing.T, s Settings, deps Deps) *Report {
	t.Helper()
	if s.Layer == "" {
		s.Layer = "prod"
	}
	if s.VerifyInterval == 0 {
		s.VerifyInterval = time.Millisecond
	}
	return newTestPipeline(Standard(s, deps), WithLayer(s.Layer)).Run(context.Background())
}

func stepNames(r *Report) []string {
	names := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		names[i] = s.Name
	}
	return names
}

func TestStandardHappyPath(t *testing.T) {
	cluster := &fakeCluster{ready: true}
	report := runStandard(t, Settings{}, Deps{
		Resolver: &staticResolver{docs: appDocuments},
		Connect:  connectTo(cluster, nil),
	})

	require.Equal(t, OutcomeSucceeded, report.Outcome, report.Reason)
	assert.Equal(t, []string{StepResolve, StepOrder, StepReachable, StepApply, StepVerify}, stepNames(report))
	assert.Equal(t, []string{"ConfigMap/web-config", "Service/web", "Deployment/web"}, cluster.appliedIDs())

	require.Len(t, report.Documents, 3)
	for _, d := range report.Documents {
		assert.Equal(t, ApplyApplied, d.Status)
	}
}

func TestStandardPlanOnly(t *testing.T) {
	steps := Standard(Settings{PlanOnly: true}, Deps{Resolver: &staticResolver{docs: appDocuments}})
	require.Len(t, steps, 2)
	assert.Equal(t, StepResolve, steps[0].Name)
	assert.Equal(t, StepOrder, steps[1].Name)
}

func TestStandardMissingPatchTargetStopsBeforeExternalCalls(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"base/layer.yaml":   "resources: [app.yaml]\n",
		"base/app.yaml":     appDocuments,
		"prod/layer.yaml":   "bases: [base]\npatches:\n  - path: missing.yaml\n",
		"prod/missing.yaml": "apiVersion: apps/v1\nkind: Deployment\nmetadata: {name: api}\nspec: {replicas: 3}\n",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	tree, err := manifest.LoadTree(root)
	require.NoError(t, err)

	cluster := &fakeCluster{ready: true}
	builder := &fakeBuilder{}
	connected := false
	report := runStandard(t, Settings{
		Build: BuildRequest{Image: "registry.example.com/web", Tag: "v1"},
		Steps: map[string]StepSettings{StepResolve: {Policy: Retry(3)}},
	}, Deps{
		Resolver: overlay.NewEngine(tree),
		Builder:  builder,
		Connect: func(string, string) (Cluster, error) {
			connected = true
			return cluster, nil
		},
	})

	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, StepResolve, report.FailedStep)
	assert.ErrorIs(t, report.Err, ErrResolution)
	assert.ErrorIs(t, report.Err, overlay.ErrTargetNotFound)

	resolve, _ := report.Step(StepResolve)
	assert.Equal(t, 1, resolve.Attempts)
	assert.Zero(t, builder.calls)
	assert.False(t, connected)
	assert.Empty(t, cluster.appliedIDs())
}

func TestStandardCycleFailsBeforeApply(t *testing.T) {
	cluster := &fakeCluster{ready: true}
	report := runStandard(t, Settings{}, Deps{
		Resolver: &staticResolver{docs: `apiVersion: autoscaling/v2
kind: HorizontalPodAutoscaler
metadata: {name: a}
spec:
  scaleTargetRef: {kind: HorizontalPodAutoscaler, name: b}
---
apiVersion: autoscaling/v2
kind: HorizontalPodAutoscaler
metadata: {name: b}
spec:
  scaleTargetRef: {kind: HorizontalPodAutoscaler, name: a}
`},
		Connect: connectTo(cluster, nil),
	})

	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, StepOrder, report.FailedStep)
	assert.ErrorIs(t, report.Err, order.ErrCycle)
	assert.Empty(t, cluster.appliedIDs())

	apply, _ := report.Step(StepApply)
	assert.Equal(t, StateSkipped, apply.State)
}

func TestStandardRejectionSkipsDependents(t *testing.T) {
	cluster := &fakeCluster{
		ready:  true,
		reject: map[string]error{"ConfigMap/web-config": errors.New("admission denied")},
	}
	report := runStandard(t, Settings{}, Deps{
		Resolver: &staticResolver{docs: appDocuments},
		Connect:  connectTo(cluster, nil),
	})

	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, StepApply, report.FailedStep)

	var rejected *ApplyRejectedError
	require.ErrorAs(t, report.Err, &rejected)
	assert.ErrorIs(t, report.Err, ErrApplyRejected)
	require.Len(t, rejected.Rejected, 1)
	assert.Equal(t, 1, rejected.Skipped)

	// The Service does not depend on the ConfigMap and is still applied.
	assert.Equal(t, []string{"Service/web"}, cluster.appliedIDs())

	statuses := map[string]ApplyStatus{}
	for _, d := range report.Documents {
		statuses[d.ID.String()] = d.Status
	}
	assert.Equal(t, map[string]ApplyStatus{
		"ConfigMap/web-config": ApplyRejected,
		"Service/web":          ApplyApplied,
		"Deployment/web":       ApplySkipped,
	}, statuses)
}

func TestStandardRejectionUnderContinue(t *testing.T) {
	cluster := &fakeCluster{
		ready:  true,
		reject: map[string]error{"Service/web": errors.New("invalid port")},
	}
	report := runStandard(t, Settings{
		Steps: map[string]StepSettings{StepApply: {Policy: Continue()}},
	}, Deps{
		Resolver: &staticResolver{docs: appDocuments},
		Connect:  connectTo(cluster, nil),
	})

	assert.Equal(t, OutcomeSucceededWithWarnings, report.Outcome)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "Service/web (invalid port)")

	verify, _ := report.Step(StepVerify)
	assert.Equal(t, StateSucceeded, verify.State)
}

func TestStandardVerifyTimeoutIsWarning(t *testing.T) {
	cluster := &fakeCluster{ready: false}
	report := runStandard(t, Settings{VerifyTimeout: 20 * time.Millisecond}, Deps{
		Resolver: &staticResolver{docs: appDocuments},
		Connect:  connectTo(cluster, nil),
	})

	assert.Equal(t, OutcomeSucceededWithWarnings, report.Outcome)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "verification timed out")
	assert.Contains(t, report.Warnings[0], "Deployment/web not ready")

	verify, _ := report.Step(StepVerify)
	assert.Equal(t, StateSucceeded, verify.State)
}

func TestStandardVerifyTimeoutKeepsStatusErrors(t *testing.T) {
	cluster := &fakeCluster{statusErr: errors.New(`deployments.apps "web" is forbidden`)}
	report := runStandard(t, Settings{VerifyTimeout: 20 * time.Millisecond}, Deps{
		Resolver: &staticResolver{docs: appDocuments},
		Connect:  connectTo(cluster, nil),
	})

	assert.Equal(t, OutcomeSucceededWithWarnings, report.Outcome)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], `Deployment/web (deployments.apps "web" is forbidden) not ready`)

	verify, _ := report.Step(StepVerify)
	assert.Equal(t, StateSucceeded, verify.State)
}

func TestVerificationTimeoutErrorUnwrapsCauses(t *testing.T) {
	web := manifest.ID{Kind: "Deployment", Name: "web"}
	db := manifest.ID{Kind: "StatefulSet", Name: "db"}
	forbidden := errors.New("forbidden")
	err := &VerificationTimeoutError{
		Pending: []manifest.ID{web, db},
		Timeout: time.Second,
		Causes:  map[manifest.ID]error{web: forbidden},
	}

	assert.ErrorIs(t, err, ErrVerificationTimeout)
	assert.ErrorIs(t, err, forbidden)
	assert.Equal(t, "verification timed out after 1s: Deployment/web (forbidden), StatefulSet/db not ready", err.Error())
}

func TestStandardBuildPushAndImageOverride(t *testing.T) {
	cluster := &fakeCluster{ready: true}
	builder := &fakeBuilder{}
	pusher := &fakePusher{}
	var kubeconfig string

	report := runStandard(t, Settings{
		ClusterName: "prod-east",
		Build:       BuildRequest{Image: "registry.example.com/web", Tag: "abc1234"},
	}, Deps{
		Resolver:    &staticResolver{docs: appDocuments},
		Credentials: &fakeCredentials{path: "/tmp/kubeconfig-prod"},
		Builder:     builder,
		Pusher:      pusher,
		Connect:     connectTo(cluster, &kubeconfig),
	})

	require.Equal(t, OutcomeSucceeded, report.Outcome, report.Reason)
	assert.Equal(t, StepNames, stepNames(report))
	assert.Equal(t, "registry.example.com/web:abc1234", report.Artifact)
	assert.Equal(t, []string{"registry.example.com/web:abc1234"}, pusher.pushed)
	assert.Equal(t, "/tmp/kubeconfig-prod", kubeconfig)

	var deployment *manifest.Document
	for _, d := range cluster.applied {
		if d.Kind() == "Deployment" {
			deployment = d
		}
	}
	require.NotNil(t, deployment)
	spec, ok := manifest.PodSpec(deployment)
	require.True(t, ok)
	containers := spec["containers"].([]any)
	assert.Equal(t, "registry.example.com/web:abc1234", containers[0].(map[string]any)["image"])
}

func TestStandardBuildFailureNotRetried(t *testing.T) {
	builder := &fakeBuilder{err: errors.Join(ErrBuildFailed, errors.New("exit status 1"))}
	report := runStandard(t, Settings{
		Build: BuildRequest{Image: "registry.example.com/web", Tag: "v1"},
		Steps: map[string]StepSettings{StepBuild: {Policy: Retry(3)}},
	}, Deps{
		Resolver: &staticResolver{docs: appDocuments},
		Builder:  builder,
		Connect:  connectTo(&fakeCluster{}, nil),
	})

	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, StepBuild, report.FailedStep)
	assert.Equal(t, 1, builder.calls)
}

func TestStandardPushAuthFailureNotRetried(t *testing.T) {
	pusher := &fakePusher{err: ErrPushAuthFailed}
	report := runStandard(t, Settings{
		Build: BuildRequest{Image: "registry.example.com/web", Tag: "v1"},
		Steps: map[string]StepSettings{StepPush: {Policy: Retry(3)}},
	}, Deps{
		Resolver: &staticResolver{docs: appDocuments},
		Builder:  &fakeBuilder{},
		Pusher:   pusher,
		Connect:  connectTo(&fakeCluster{}, nil),
	})

	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, StepPush, report.FailedStep)
	assert.Equal(t, 1, pusher.calls)
}

func TestStandardTransientPushRetried(t *testing.T) {
	pusher := &fakePusher{err: ErrPushTransientFailed}
	report := runStandard(t, Settings{
		Build: BuildRequest{Image: "registry.example.com/web", Tag: "v1"},
		Steps: map[string]StepSettings{StepPush: {Policy: Retry(2)}},
	}, Deps{
		Resolver: &staticResolver{docs: appDocuments},
		Builder:  &fakeBuilder{},
		Pusher:   pusher,
		Connect:  connectTo(&fakeCluster{}, nil),
	})

	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, 3, pusher.calls)
}

func TestStandardUnreachableCluster(t *testing.T) {
	cluster := &fakeCluster{pingErr: ErrClusterUnreachable}
	report := runStandard(t, Settings{}, Deps{
		Resolver: &staticResolver{docs: appDocuments},
		Connect:  connectTo(cluster, nil),
	})

	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.Equal(t, StepReachable, report.FailedStep)
	assert.ErrorIs(t, report.Err, ErrClusterUnreachable)
	assert.Empty(t, cluster.appliedIDs())
}

func TestStandardResolutionPolicyIsAlwaysAbort(t *testing.T) {
	steps := Standard(Settings{
		Steps: map[string]StepSettings{
			StepResolve: {Policy: Continue()},
			StepOrder:   {Policy: Retry(2)},
			StepApply:   {Policy: Retry(2), Timeout: time.Minute},
		},
	}, Deps{Resolver: &staticResolver{}})

	byName := map[string]Step{}
	for _, s := range steps {
		byName[s.Name] = s
	}
	assert.Equal(t, Abort(), byName[StepResolve].Policy)
	assert.Equal(t, Abort(), byName[StepOrder].Policy)
	assert.Equal(t, Retry(2), byName[StepApply].Policy)
	assert.Equal(t, time.Minute, byName[StepApply].Timeout)
	assert.GreaterOrEqual(t, byName[StepVerify].Timeout, DefaultVerifyTimeout)
}
