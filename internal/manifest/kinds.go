package manifest

// clusterScoped lists the built-in kinds that have no namespace.
var clusterScoped = map[string]bool{
	"Namespace":                      true,
	"Node":                           true,
	"PersistentVolume":               true,
	"StorageClass":                   true,
	"ClusterRole":                    true,
	"ClusterRoleBinding":             true,
	"CustomResourceDefinition":       true,
	"PriorityClass":                  true,
	"IngressClass":                   true,
	"RuntimeClass":                   true,
	"APIService":                     true,
	"MutatingWebhookConfiguration":   true,
	"ValidatingWebhookConfiguration": true,
	"CSIDriver":                      true,
	"VolumeSnapshotClass":            true,
}

// IsClusterScoped reports whether kind is a known cluster-scoped kind.
// Custom resources are assumed namespaced.
func IsClusterScoped(kind string) bool {
	return clusterScoped[kind]
}

// podTemplatePaths gives, per workload kind, the path to its pod template.
var podTemplatePaths = map[string][]string{
	"Deployment":            {"spec", "template"},
	"StatefulSet":           {"spec", "template"},
	"DaemonSet":             {"spec", "template"},
	"ReplicaSet":            {"spec", "template"},
	"ReplicationController": {"spec", "template"},
	"Job":                   {"spec", "template"},
	"CronJob":               {"spec", "jobTemplate", "spec", "template"},
}

// PodTemplatePath returns the field path of kind's pod template, if it has one.
func PodTemplatePath(kind string) ([]string, bool) {
	p, ok := podTemplatePaths[kind]
	return p, ok
}

// PodSpec returns the pod spec of doc: spec for a Pod, the template's spec
// for a workload.
func PodSpec(doc *Document) (map[string]any, bool) {
	if doc.Kind() == "Pod" {
		return NestedMap(doc.Object, "spec")
	}
	path, ok := PodTemplatePath(doc.Kind())
	if !ok {
		return nil, false
	}
	return NestedMap(doc.Object, append(path, "spec")...)
}
