package pipeline

import (
	"context"

	"github.com/cameronsjo/rigger/internal/manifest"
	"github.com/cameronsjo/rigger/internal/overlay"
)

// Resolver resolves a layer into documents.
type Resolver interface {
	Resolve(ctx context.Context, layer string) (*overlay.Result, error)
}

// CredentialFetcher obtains cluster credentials.
type CredentialFetcher interface {
	// Fetch writes credentials for the cluster and returns the kubeconfig path.
	// Failures wrap ErrCredentialFetchFailed.
	Fetch(ctx context.Context, cluster, region string) (string, error)
}

// BuildRequest describes one container build.
type BuildRequest struct {
	Context    string
	Dockerfile string
	Image      string
	Tag        string
	CacheFrom  []string
	CacheTo    []string
	Platform   string
}

// Reference returns the image reference the build produces.
func (r BuildRequest) Reference() string {
	return r.Image + ":" + r.Tag
}

// Builder builds container images.
type Builder interface {
	// Build returns the artifact reference. Failures wrap ErrBuildFailed.
	Build(ctx context.Context, req BuildRequest) (string, error)
}

// RegistryAuth holds registry credentials. Values come from the
// environment and are passed through untouched.
type RegistryAuth struct {
	Username string
	Password string
}

// Pusher pushes images to a registry.
type Pusher interface {
	// Push fails with ErrPushAuthFailed or ErrPushTransientFailed.
	Push(ctx context.Context, ref string, auth RegistryAuth) error
}

// Applier applies one document. Each call is atomic: the document is
// either accepted or rejected with the returned error.
type Applier interface {
	Apply(ctx context.Context, doc *manifest.Document) error
}

// WorkloadStatus is the rollout state of a workload.
type WorkloadStatus struct {
	Desired int32
	Ready   int32
	Updated int32
}

// Done reports whether every desired replica is updated and ready.
func (s WorkloadStatus) Done() bool {
	return s.Ready >= s.Desired && s.Updated >= s.Desired
}

// StatusChecker reads workload rollout state.
type StatusChecker interface {
	Status(ctx context.Context, id manifest.ID) (WorkloadStatus, error)
}

// Cluster is a connected target cluster.
type Cluster interface {
	// Ping fails with ErrClusterUnreachable when the API does not answer.
	Ping(ctx context.Context) error
	Applier
	StatusChecker
}

// Connector opens a Cluster for a kubeconfig file and context. Empty
// values select the client defaults.
type Connector func(kubeconfig, kubeContext string) (Cluster, error)

// IsWorkload reports whether the verify step waits on kind.
func IsWorkload(kind string) bool {
	switch kind {
	case "Deployment", "StatefulSet", "DaemonSet":
		return true
	default:
		return false
	}
}
