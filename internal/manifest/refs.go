package manifest

import (
	"slices"
	"strings"
)

// ReferenceSpec describes one field that holds the name of another document.
type ReferenceSpec struct {
	// Referrers lists the kinds carrying the field.
	Referrers []string

	// Path is a dotted field path to the name. A segment ending in "[]"
	// walks every entry of a list.
	Path string

	// TargetKind is the kind the name refers to.
	TargetKind string

	// KindField names a sibling of the name field holding the target kind.
	// It takes precedence over TargetKind.
	KindField string

	// NamespaceField names a sibling of the name field holding the target
	// namespace. Without it the referrer's namespace is used.
	NamespaceField string
}

var workloadKinds = []string{
	"Deployment", "StatefulSet", "DaemonSet", "ReplicaSet", "ReplicationController", "Job", "CronJob",
}

// podSpecRefs are paths relative to a pod spec.
var podSpecRefs = []struct {
	path string
	kind string
}{
	{"containers[].env[].valueFrom.configMapKeyRef.name", "ConfigMap"},
	{"containers[].envFrom[].configMapRef.name", "ConfigMap"},
	{"initContainers[].env[].valueFrom.configMapKeyRef.name", "ConfigMap"},
	{"initContainers[].envFrom[].configMapRef.name", "ConfigMap"},
	{"volumes[].configMap.name", "ConfigMap"},
	{"volumes[].projected.sources[].configMap.name", "ConfigMap"},
	{"containers[].env[].valueFrom.secretKeyRef.name", "Secret"},
	{"containers[].envFrom[].secretRef.name", "Secret"},
	{"initContainers[].env[].valueFrom.secretKeyRef.name", "Secret"},
	{"initContainers[].envFrom[].secretRef.name", "Secret"},
	{"volumes[].secret.secretName", "Secret"},
	{"volumes[].projected.sources[].secret.name", "Secret"},
	{"imagePullSecrets[].name", "Secret"},
	{"volumes[].persistentVolumeClaim.claimName", "PersistentVolumeClaim"},
	{"serviceAccountName", "ServiceAccount"},
}

// ReferenceSpecs is the table of reference-shaped fields. Name rewrites
// after renames and dependency edges for apply ordering both read it.
var ReferenceSpecs = buildReferenceSpecs()

func buildReferenceSpecs() []ReferenceSpec {
	var specs []ReferenceSpec

	for _, ref := range podSpecRefs {
		specs = append(specs, ReferenceSpec{
			Referrers:  []string{"Pod"},
			Path:       "spec." + ref.path,
			TargetKind: ref.kind,
		})
		for _, kind := range workloadKinds {
			prefix := strings.Join(podTemplatePaths[kind], ".") + ".spec."
			specs = append(specs, ReferenceSpec{
				Referrers:  []string{kind},
				Path:       prefix + ref.path,
				TargetKind: ref.kind,
			})
		}
	}

	return append(specs,
		ReferenceSpec{Referrers: []string{"StatefulSet"}, Path: "spec.serviceName", TargetKind: "Service"},
		ReferenceSpec{Referrers: []string{"Ingress"}, Path: "spec.rules[].http.paths[].backend.service.name", TargetKind: "Service"},
		ReferenceSpec{Referrers: []string{"Ingress"}, Path: "spec.defaultBackend.service.name", TargetKind: "Service"},
		ReferenceSpec{Referrers: []string{"Ingress"}, Path: "spec.tls[].secretName", TargetKind: "Secret"},
		ReferenceSpec{Referrers: []string{"RoleBinding", "ClusterRoleBinding"}, Path: "roleRef.name", KindField: "kind"},
		ReferenceSpec{Referrers: []string{"RoleBinding", "ClusterRoleBinding"}, Path: "subjects[].name", KindField: "kind", NamespaceField: "namespace"},
		ReferenceSpec{Referrers: []string{"HorizontalPodAutoscaler"}, Path: "spec.scaleTargetRef.name", KindField: "kind"},
		ReferenceSpec{Referrers: []string{"ServiceAccount"}, Path: "secrets[].name", TargetKind: "Secret"},
		ReferenceSpec{Referrers: []string{"ServiceAccount"}, Path: "imagePullSecrets[].name", TargetKind: "Secret"},
	)
}

// Reference is one reference-shaped field found in a document.
type Reference struct {
	Target ID

	holder map[string]any
	key    string
}

// Set overwrites the referenced name in the owning document.
func (r Reference) Set(name string) {
	r.holder[r.key] = name
}

// References returns every reference held by doc, per ReferenceSpecs.
func References(doc *Document) []Reference {
	kind := doc.Kind()
	var refs []Reference
	for _, spec := range ReferenceSpecs {
		if !slices.Contains(spec.Referrers, kind) {
			continue
		}
		walkPath(doc.Object, strings.Split(spec.Path, "."), func(holder map[string]any, key string) {
			name, _ := holder[key].(string)
			if name == "" {
				return
			}
			target := ID{Kind: spec.TargetKind, Name: name, Namespace: doc.Namespace()}
			if spec.KindField != "" {
				k, _ := holder[spec.KindField].(string)
				if k == "" {
					return
				}
				target.Kind = k
			}
			if spec.NamespaceField != "" {
				if ns, _ := holder[spec.NamespaceField].(string); ns != "" {
					target.Namespace = ns
				}
			}
			if IsClusterScoped(target.Kind) {
				target.Namespace = ""
			}
			refs = append(refs, Reference{Target: target, holder: holder, key: key})
		})
	}
	return refs
}

func walkPath(node any, segs []string, fn func(holder map[string]any, key string)) {
	m, ok := node.(map[string]any)
	if !ok || len(segs) == 0 {
		return
	}

	key, isList := strings.CutSuffix(segs[0], "[]")
	if len(segs) == 1 {
		if _, ok := m[key].(string); ok {
			fn(m, key)
		}
		return
	}

	child, ok := m[key]
	if !ok {
		return
	}
	if !isList {
		walkPath(child, segs[1:], fn)
		return
	}
	items, _ := child.([]any)
	for _, item := range items {
		walkPath(item, segs[1:], fn)
	}
}
