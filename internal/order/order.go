// Package order computes the apply order of a resolved document set.
//
// Dependencies come from the reference table in package manifest plus two
// implicit edges: a namespaced document depends on its Namespace, and a
// custom resource depends on its CustomResourceDefinition. Ties between
// documents that are ready at the same time are broken by kind precedence,
// then kind, namespace and name, so the order is stable.
package order

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/cameronsjo/rigger/internal/manifest"
)

// ErrCycle indicates a reference cycle between documents.
var ErrCycle = errors.New("reference cycle")

// CycleError names the documents of one cycle. The first document is
// repeated at the end.
type CycleError struct {
	Cycle []manifest.ID
}

func (e *CycleError) Error() string {
	names := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		names[i] = id.String()
	}
	return fmt.Sprintf("%s: %s", ErrCycle, strings.Join(names, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// kindOrder is the install order of well-known kinds.
var kindOrder = []string{
	"Namespace",
	"NetworkPolicy",
	"ResourceQuota",
	"LimitRange",
	"PodSecurityPolicy",
	"PodDisruptionBudget",
	"ServiceAccount",
	"Secret",
	"ConfigMap",
	"StorageClass",
	"PersistentVolume",
	"PersistentVolumeClaim",
	"CustomResourceDefinition",
	"ClusterRole",
	"ClusterRoleBinding",
	"Role",
	"RoleBinding",
	"Service",
	"DaemonSet",
	"Pod",
	"ReplicationController",
	"ReplicaSet",
	"Deployment",
	"HorizontalPodAutoscaler",
	"StatefulSet",
	"Job",
	"CronJob",
	"IngressClass",
	"Ingress",
	"APIService",
	"MutatingWebhookConfiguration",
	"ValidatingWebhookConfiguration",
}

var kindRank = func() map[string]int {
	m := make(map[string]int, len(kindOrder))
	for i, k := range kindOrder {
		m[k] = i
	}
	return m
}()

// Precedence returns the rank of kind in the install order. Unknown kinds,
// custom resources included, rank after every known kind.
func Precedence(kind string) int {
	if r, ok := kindRank[kind]; ok {
		return r
	}
	return len(kindOrder)
}

// Less reports whether a sorts before b when neither depends on the other.
func Less(a, b manifest.ID) bool {
	if pa, pb := Precedence(a.Kind), Precedence(b.Kind); pa != pb {
		return pa < pb
	}
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Namespace != b.Namespace {
		return a.Namespace < b.Namespace
	}
	return a.Name < b.Name
}

func compare(a, b manifest.ID) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	default:
		return 0
	}
}

// Plan is an apply order with the dependencies that shaped it.
type Plan struct {
	// Order lists every document of the set, dependencies first.
	Order []manifest.ID
	// Dependencies maps a document to the documents it depends on, sorted.
	Dependencies map[manifest.ID][]manifest.ID
}

// DependsOn returns the direct dependencies of id.
func (p *Plan) DependsOn(id manifest.ID) []manifest.ID {
	return p.Dependencies[id]
}

// Resolve orders set. It fails with a *CycleError when the dependency graph
// has a cycle.
func Resolve(set *manifest.Set) (*Plan, error) {
	deps := Dependencies(set)
	ids := set.IDs()

	indegree := make(map[manifest.ID]int, len(ids))
	dependents := make(map[manifest.ID][]manifest.ID)
	for _, id := range ids {
		indegree[id] = len(deps[id])
		for _, dep := range deps[id] {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []manifest.ID
	for _, id := range ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]manifest.ID, 0, len(ids))
	for len(ready) > 0 {
		slices.SortFunc(ready, compare)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) < len(ids) {
		return nil, &CycleError{Cycle: findCycle(ids, deps, indegree)}
	}

	return &Plan{Order: order, Dependencies: deps}, nil
}

// Dependencies returns, per document, the documents of set it depends on.
// References to documents outside the set are ignored.
func Dependencies(set *manifest.Set) map[manifest.ID][]manifest.ID {
	crds := make(map[string]manifest.ID)
	for _, doc := range set.Documents() {
		if doc.Kind() != "CustomResourceDefinition" {
			continue
		}
		group, _ := manifest.NestedString(doc.Object, "spec", "group")
		kind, _ := manifest.NestedString(doc.Object, "spec", "names", "kind")
		if group != "" && kind != "" {
			crds[group+"/"+kind] = doc.ID()
		}
	}

	deps := make(map[manifest.ID][]manifest.ID)
	for _, doc := range set.Documents() {
		id := doc.ID()
		seen := make(map[manifest.ID]bool)
		add := func(dep manifest.ID) {
			if dep == id || seen[dep] {
				return
			}
			seen[dep] = true
			deps[id] = append(deps[id], dep)
		}

		for _, ref := range manifest.References(doc) {
			if target, ok := set.Find(ref.Target); ok {
				add(target.ID())
			}
		}

		if ns := doc.Namespace(); ns != "" {
			if _, ok := set.Get(manifest.ID{Kind: "Namespace", Name: ns}); ok {
				add(manifest.ID{Kind: "Namespace", Name: ns})
			}
		}

		if group := apiGroup(doc.APIVersion()); group != "" {
			if crd, ok := crds[group+"/"+doc.Kind()]; ok {
				add(crd)
			}
		}

		slices.SortFunc(deps[id], compare)
	}
	return deps
}

func apiGroup(apiVersion string) string {
	group, _, found := strings.Cut(apiVersion, "/")
	if !found {
		return ""
	}
	return group
}

// findCycle returns one cycle among the documents left with dependencies
// after the sort.
func findCycle(ids []manifest.ID, deps map[manifest.ID][]manifest.ID, indegree map[manifest.ID]int) []manifest.ID {
	var remaining []manifest.ID
	for _, id := range ids {
		if indegree[id] > 0 {
			remaining = append(remaining, id)
		}
	}
	slices.SortFunc(remaining, compare)

	pending := make(map[manifest.ID]bool, len(remaining))
	for _, id := range remaining {
		pending[id] = true
	}

	// Every pending document has a pending dependency, so walking
	// dependencies from any of them must revisit a document.
	pos := make(map[manifest.ID]int)
	var path []manifest.ID
	cur := remaining[0]
	for {
		if i, ok := pos[cur]; ok {
			return append(slices.Clone(path[i:]), cur)
		}
		pos[cur] = len(path)
		path = append(path, cur)

		for _, dep := range deps[cur] {
			if pending[dep] {
				cur = dep
				break
			}
		}
	}
}
