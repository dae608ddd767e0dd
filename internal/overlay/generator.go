package overlay

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cameronsjo/rigger/internal/manifest"
)

// hashLength is the number of hex characters in a name suffix.
const hashLength = 10

// Generate builds the ConfigMap or Secret described by g from data.
// Identical inputs give identical documents, names included.
func Generate(g manifest.Generator, data map[string]string) (*manifest.Document, error) {
	meta := map[string]any{"name": g.Name}
	if g.Namespace != "" {
		meta["namespace"] = g.Namespace
	}
	if len(g.Labels) > 0 {
		meta["labels"] = stringMap(g.Labels)
	}
	if len(g.Annotations) > 0 {
		meta["annotations"] = stringMap(g.Annotations)
	}

	obj := map[string]any{
		"apiVersion": "v1",
		"kind":       g.Kind,
		"metadata":   meta,
	}

	values := make(map[string]any, len(data))
	for k, v := range data {
		if g.Kind == "Secret" {
			v = base64.StdEncoding.EncodeToString([]byte(v))
		}
		values[k] = v
	}
	if len(values) > 0 {
		obj["data"] = values
	}
	if g.Kind == "Secret" {
		typ := g.Type
		if typ == "" {
			typ = "Opaque"
		}
		obj["type"] = typ
	}

	if !g.DisableNameSuffixHash {
		hash, err := contentHash(obj)
		if err != nil {
			return nil, fmt.Errorf("generator %s: %w", g.Name, err)
		}
		meta["name"] = g.Name + "-" + hash
	}

	doc := manifest.NewDocument(obj)
	doc.SetOrigin(g.Name)
	return doc, nil
}

// contentHash hashes the kind, base name, type and data of a generated
// document. encoding/json sorts map keys, so the encoding is canonical.
func contentHash(obj map[string]any) (string, error) {
	name, _ := manifest.NestedString(obj, "metadata", "name")
	canonical, err := json.Marshal(map[string]any{
		"kind": obj["kind"],
		"name": name,
		"type": obj["type"],
		"data": obj["data"],
	})
	if err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:hashLength], nil
}

// applyGenerator runs one generator against set.
func applyGenerator(layer string, set *manifest.Set, g manifest.Generator) error {
	behavior := g.Behavior
	if behavior == "" {
		behavior = manifest.BehaviorCreate
	}
	baseID := manifest.ID{Kind: g.Kind, Namespace: g.Namespace, Name: g.Name}

	if behavior == manifest.BehaviorCreate {
		doc, err := Generate(g, g.Data)
		if err != nil {
			return err
		}
		if existing := findGenerated(set, g); existing != nil {
			return &ConflictError{Layer: layer, Target: existing.ID(), Previous: "a base generator", Value: "generator " + g.Name + " (create)"}
		}
		if err := set.Add(doc); err != nil {
			return fmt.Errorf("layer %s: generator %s: %w", layer, g.Name, err)
		}
		rewriteReferences(set, map[manifest.ID]string{baseID: doc.Name()})
		return nil
	}

	existing := findGenerated(set, g)
	if existing == nil {
		return &TargetNotFoundError{Layer: layer, Target: baseID, Source: "generator " + g.Name + " (" + behavior + ")"}
	}

	data := g.Data
	if behavior == manifest.BehaviorMerge {
		data = existingData(existing)
		for k, v := range g.Data {
			data[k] = v
		}
	}

	if g.Namespace == "" {
		g.Namespace = existing.Namespace()
	}
	if behavior == manifest.BehaviorMerge {
		g.Labels = mergeStrings(nestedStrings(existing.Object, "metadata", "labels"), g.Labels)
		g.Annotations = mergeStrings(nestedStrings(existing.Object, "metadata", "annotations"), g.Annotations)
		if g.Type == "" {
			g.Type, _ = existing.Object["type"].(string)
		}
	}

	doc, err := Generate(g, data)
	if err != nil {
		return err
	}

	oldID := existing.ID()
	if err := set.Replace(oldID, doc); err != nil {
		return fmt.Errorf("layer %s: generator %s: %w", layer, g.Name, err)
	}
	rewriteReferences(set, map[manifest.ID]string{
		oldID:  doc.Name(),
		baseID: doc.Name(),
	})
	return nil
}

// findGenerated returns the document a base layer generated under g's name.
func findGenerated(set *manifest.Set, g manifest.Generator) *manifest.Document {
	for _, doc := range set.Documents() {
		if doc.Origin() != g.Name || doc.Kind() != g.Kind {
			continue
		}
		if g.Namespace != "" && doc.Namespace() != "" && g.Namespace != doc.Namespace() {
			continue
		}
		return doc
	}
	return nil
}

// existingData decodes the key/value pairs of a generated document.
func existingData(doc *manifest.Document) map[string]string {
	out := make(map[string]string)
	data, _ := doc.Object["data"].(map[string]any)
	for k, v := range data {
		s := fmt.Sprint(v)
		if doc.Kind() == "Secret" {
			if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
				s = string(decoded)
			}
		}
		out[k] = s
	}
	if doc.Kind() == "Secret" {
		plain, _ := doc.Object["stringData"].(map[string]any)
		for k, v := range plain {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func nestedStrings(obj map[string]any, fields ...string) map[string]string {
	m, ok := manifest.NestedMap(obj, fields...)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func mergeStrings(base, overlay map[string]string) map[string]string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// fixGeneratedReferences points references that still use a generator's
// base name at the document the generator produced. References to a
// document that exists in the set are left alone.
func fixGeneratedReferences(set *manifest.Set) {
	var generated []*manifest.Document
	for _, doc := range set.Documents() {
		if origin := doc.Origin(); origin != "" && origin != doc.Name() {
			generated = append(generated, doc)
		}
	}
	if len(generated) == 0 {
		return
	}

	for _, doc := range set.Documents() {
		for _, ref := range manifest.References(doc) {
			if _, ok := set.Find(ref.Target); ok {
				continue
			}
			for _, g := range generated {
				alias := manifest.ID{Kind: g.Kind(), Namespace: g.Namespace(), Name: g.Origin()}
				if alias.Matches(ref.Target) {
					ref.Set(g.Name())
					break
				}
			}
		}
	}
}

// rewriteReferences points every reference to a renamed document at its
// new name.
func rewriteReferences(set *manifest.Set, renames map[manifest.ID]string) {
	if len(renames) == 0 {
		return
	}
	from := make([]manifest.ID, 0, len(renames))
	for id := range renames {
		from = append(from, id)
	}
	sort.Slice(from, func(i, j int) bool { return from[i].String() < from[j].String() })

	for _, doc := range set.Documents() {
		for _, ref := range manifest.References(doc) {
			for _, id := range from {
				if id.Matches(ref.Target) {
					ref.Set(renames[id])
					break
				}
			}
		}
	}
}
