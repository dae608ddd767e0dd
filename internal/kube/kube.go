// Package kube applies documents to a Kubernetes cluster with server-side
// apply and reads workload rollout state.
package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"

	"github.com/cameronsjo/rigger/internal/manifest"
	"github.com/cameronsjo/rigger/internal/pipeline"
)

// FieldManager identifies rigger as the owner of applied fields.
const FieldManager = "rigger"

// Cluster is a connection to one cluster.
type Cluster struct {
	clientset kubernetes.Interface
	dynamic   dynamic.Interface
	mapper    meta.RESTMapper
	logger    *slog.Logger
}

var _ pipeline.Cluster = (*Cluster)(nil)

// Option is a functional option for configuring the Cluster.
type Option func(*Cluster)

// WithLogger sets the logger for apply calls.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cluster) {
		c.logger = logger
	}
}

// Connect builds clients for a kubeconfig file and context. Empty values
// fall back to the usual client defaults ($KUBECONFIG, ~/.kube/config and
// the current context).
func Connect(kubeconfig, kubeContext string, opts ...Option) (*Cluster, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}

	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes clientset: %w", err)
	}

	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("create dynamic client: %w", err)
	}

	// Discovery is deferred and cached, so CRDs applied earlier in the same
	// run become mappable after a reset.
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(clientset.Discovery()))

	return NewFromClients(clientset, dynamicClient, mapper, opts...), nil
}

// NewFromClients creates a Cluster from pre-configured clients.
// This is useful for testing with fake clients.
func NewFromClients(clientset kubernetes.Interface, dynamicClient dynamic.Interface, mapper meta.RESTMapper, opts ...Option) *Cluster {
	c := &Cluster{
		clientset: clientset,
		dynamic:   dynamicClient,
		mapper:    mapper,
		logger:    slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Ping checks that the API server answers.
func (c *Cluster) Ping(ctx context.Context) error {
	info, err := c.clientset.Discovery().ServerVersion()
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrClusterUnreachable, err)
	}
	c.logger.Debug("cluster reachable", "version", info.GitVersion)
	return nil
}

// Apply server-side applies doc, taking ownership of conflicting fields.
func (c *Cluster) Apply(ctx context.Context, doc *manifest.Document) error {
	obj := &unstructured.Unstructured{Object: doc.DeepCopy().Object}
	gvk := obj.GroupVersionKind()

	mapping, err := c.restMapping(gvk)
	if err != nil {
		return fmt.Errorf("map %s: %w", gvk, err)
	}

	data, err := json.Marshal(obj.Object)
	if err != nil {
		return fmt.Errorf("encode %s: %w", doc.ID(), err)
	}

	opts := metav1.PatchOptions{
		FieldManager: FieldManager,
		Force:        ptr.To(true),
	}

	resource := c.dynamic.Resource(mapping.Resource)
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		namespace := obj.GetNamespace()
		if namespace == "" {
			namespace = metav1.NamespaceDefault
		}
		_, err = resource.Namespace(namespace).Patch(ctx, obj.GetName(), types.ApplyPatchType, data, opts)
	} else {
		_, err = resource.Patch(ctx, obj.GetName(), types.ApplyPatchType, data, opts)
	}
	if err != nil {
		return fmt.Errorf("server-side apply %s: %w", doc.ID(), err)
	}

	c.logger.Debug("applied", "document", doc.ID().String(), "resource", mapping.Resource.String())
	return nil
}

// restMapping maps gvk, resetting cached discovery once when the kind is
// unknown.
func (c *Cluster) restMapping(gvk schema.GroupVersionKind) (*meta.RESTMapping, error) {
	mapping, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err == nil || !meta.IsNoMatchError(err) {
		return mapping, err
	}

	resettable, ok := c.mapper.(meta.ResettableRESTMapper)
	if !ok {
		return nil, err
	}
	resettable.Reset()
	return c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
}

// Status reads the rollout state of a workload.
func (c *Cluster) Status(ctx context.Context, id manifest.ID) (pipeline.WorkloadStatus, error) {
	namespace := id.Namespace
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	apps := c.clientset.AppsV1()

	switch id.Kind {
	case "Deployment":
		d, err := apps.Deployments(namespace).Get(ctx, id.Name, metav1.GetOptions{})
		if err != nil {
			return pipeline.WorkloadStatus{}, err
		}
		return rollout(d.Generation, d.Status.ObservedGeneration, d.Spec.Replicas, d.Status.ReadyReplicas, d.Status.UpdatedReplicas), nil
	case "StatefulSet":
		s, err := apps.StatefulSets(namespace).Get(ctx, id.Name, metav1.GetOptions{})
		if err != nil {
			return pipeline.WorkloadStatus{}, err
		}
		return rollout(s.Generation, s.Status.ObservedGeneration, s.Spec.Replicas, s.Status.ReadyReplicas, s.Status.UpdatedReplicas), nil
	case "DaemonSet":
		d, err := apps.DaemonSets(namespace).Get(ctx, id.Name, metav1.GetOptions{})
		if err != nil {
			return pipeline.WorkloadStatus{}, err
		}
		desired := d.Status.DesiredNumberScheduled
		return rollout(d.Generation, d.Status.ObservedGeneration, &desired, d.Status.NumberReady, d.Status.UpdatedNumberScheduled), nil
	default:
		return pipeline.WorkloadStatus{}, fmt.Errorf("no rollout status for kind %s", id.Kind)
	}
}

// rollout builds a status. Until the controller has observed the latest
// generation, nothing counts as updated.
func rollout(generation, observed int64, replicas *int32, ready, updated int32) pipeline.WorkloadStatus {
	desired := ptr.Deref(replicas, 1)
	if observed < generation {
		updated = 0
	}
	return pipeline.WorkloadStatus{Desired: desired, Ready: ready, Updated: updated}
}
