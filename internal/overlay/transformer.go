package overlay

import (
	"fmt"
	"strings"

	"github.com/cameronsjo/rigger/internal/manifest"
)

// renameExempt lists kinds whose names are never prefixed or suffixed.
var renameExempt = map[string]bool{
	"Namespace":                true,
	"CustomResourceDefinition": true,
}

// Transform applies t to every document of set. Renames rewrite the
// references that point at the renamed documents.
func Transform(set *manifest.Set, t manifest.Transformer) error {
	typ, err := t.Type()
	if err != nil {
		return err
	}

	switch typ {
	case manifest.TransformNamePrefix:
		return rename(set, func(name string) string { return t.NamePrefix + name })
	case manifest.TransformNameSuffix:
		return rename(set, func(name string) string { return name + t.NameSuffix })
	case manifest.TransformCommonLabels:
		addMetadata(set, "labels", t.CommonLabels)
	case manifest.TransformCommonAnnotations:
		addMetadata(set, "annotations", t.CommonAnnotations)
	case manifest.TransformNamespace:
		return setNamespace(set, t.Namespace)
	case manifest.TransformImages:
		overrideImages(set, t.Images)
	}
	return nil
}

func rename(set *manifest.Set, fn func(string) string) error {
	renames := make(map[manifest.ID]string)
	for _, doc := range set.Documents() {
		if renameExempt[doc.Kind()] {
			continue
		}
		id := doc.ID()
		renames[id] = fn(id.Name)
		doc.SetName(renames[id])
	}
	rewriteReferences(set, renames)
	return set.Reindex()
}

// addMetadata sets entries under metadata.<field> of every document and of
// every pod template. Selectors are left alone.
func addMetadata(set *manifest.Set, field string, values map[string]string) {
	for _, doc := range set.Documents() {
		putStrings(doc.Object, values, "metadata", field)
		if path, ok := manifest.PodTemplatePath(doc.Kind()); ok {
			putStrings(doc.Object, values, append(path, "metadata", field)...)
		}
	}
}

func putStrings(obj map[string]any, values map[string]string, fields ...string) {
	m, ok := manifest.NestedMap(obj, fields...)
	if !ok {
		m = make(map[string]any, len(values))
		manifest.SetNested(obj, m, fields...)
	}
	for k, v := range values {
		m[k] = v
	}
}

// setNamespace moves every namespaced document into ns. ServiceAccount
// subjects of bindings follow when the account is part of the set.
func setNamespace(set *manifest.Set, ns string) error {
	accounts := make(map[string]bool)
	for _, doc := range set.Documents() {
		if doc.Kind() == "ServiceAccount" {
			accounts[doc.Name()] = true
		}
	}

	for _, doc := range set.Documents() {
		if !manifest.IsClusterScoped(doc.Kind()) {
			doc.SetNamespace(ns)
		}
		if doc.Kind() != "RoleBinding" && doc.Kind() != "ClusterRoleBinding" {
			continue
		}
		subjects, _ := doc.Object["subjects"].([]any)
		for _, s := range subjects {
			subject, ok := s.(map[string]any)
			if !ok || subject["kind"] != "ServiceAccount" {
				continue
			}
			if name, _ := subject["name"].(string); accounts[name] {
				subject["namespace"] = ns
			}
		}
	}
	return set.Reindex()
}

func overrideImages(set *manifest.Set, overrides []manifest.ImageOverride) {
	for _, doc := range set.Documents() {
		spec, ok := manifest.PodSpec(doc)
		if !ok {
			continue
		}
		for _, field := range []string{"initContainers", "containers"} {
			containers, _ := spec[field].([]any)
			for _, c := range containers {
				container, ok := c.(map[string]any)
				if !ok {
					continue
				}
				image, _ := container["image"].(string)
				if image == "" {
					continue
				}
				for _, o := range overrides {
					if updated, ok := applyImageOverride(image, o); ok {
						container["image"] = updated
						break
					}
				}
			}
		}
	}
}

// applyImageOverride rewrites image when its name equals o.Name.
func applyImageOverride(image string, o manifest.ImageOverride) (string, bool) {
	name, tag, digest := splitImage(image)
	if name != o.Name {
		return image, false
	}

	if o.NewName != "" {
		name = o.NewName
	}
	switch {
	case o.Digest != "":
		return name + "@" + o.Digest, true
	case o.NewTag != "":
		return name + ":" + o.NewTag, true
	case digest != "":
		return name + "@" + digest, true
	case tag != "":
		return name + ":" + tag, true
	default:
		return name, true
	}
}

// splitImage splits "registry:5000/repo:tag@sha256:..." into its name, tag
// and digest. A colon before the last slash belongs to the registry host.
func splitImage(image string) (name, tag, digest string) {
	name = image
	if i := strings.Index(name, "@"); i >= 0 {
		digest = name[i+1:]
		name = name[:i]
	}
	if i := strings.LastIndex(name, ":"); i > strings.LastIndex(name, "/") {
		tag = name[i+1:]
		name = name[:i]
	}
	return name, tag, digest
}

// transformAll applies transformers in order.
func transformAll(set *manifest.Set, transformers []manifest.Transformer, scope string) error {
	for i, t := range transformers {
		if err := Transform(set, t); err != nil {
			return fmt.Errorf("%s transformer %d: %w", scope, i, err)
		}
	}
	return nil
}
