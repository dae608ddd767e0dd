package manifest

import (
	"fmt"
	"sort"
)

// Layer is one node of the layer graph: a base or an overlay.
type Layer struct {
	// APIVersion identifies the schema version (e.g., "rigger.io/v1").
	APIVersion string `yaml:"apiVersion,omitempty"`

	// Kind identifies the file type ("Layer").
	Kind string `yaml:"kind,omitempty"`

	// Name is the layer name. Defaults to the directory name.
	Name string `yaml:"name,omitempty"`

	// Bases are the names of the layers this one builds on, in order.
	Bases []string `yaml:"bases,omitempty"`

	// Resources are YAML files, relative to the layer directory.
	Resources []string `yaml:"resources,omitempty"`

	// MergeKeys maps a dotted field path of a list to the key that
	// identifies its entries during strategic merge.
	MergeKeys map[string]string `yaml:"mergeKeys,omitempty"`

	PatchDecls   []PatchDecl   `yaml:"patches,omitempty"`
	Generators   []Generator   `yaml:"generators,omitempty"`
	Transformers []Transformer `yaml:"transformers,omitempty"`

	// Dir is the layer directory.
	Dir string `yaml:"-"`

	// Documents holds the parsed resources.
	Documents []*Document `yaml:"-"`

	// Patches holds the parsed patch declarations, in order.
	Patches []Patch `yaml:"-"`
}

// PatchDecl is a patch entry as written in a layer file.
type PatchDecl struct {
	// Path names a file holding strategic merge fragments, or an operation
	// list when Target is set.
	Path string `yaml:"path,omitempty"`

	// Patch is an inline strategic merge fragment.
	Patch map[string]any `yaml:"patch,omitempty"`

	// Target selects the document for operation lists, and overrides the
	// fragment identity for strategic merges.
	Target *ID `yaml:"target,omitempty"`

	// Ops is an inline RFC 6902 operation list.
	Ops []Operation `yaml:"ops,omitempty"`
}

// PatchType distinguishes the two patch forms.
type PatchType string

const (
	PatchStrategicMerge PatchType = "strategicMerge"
	PatchJSON6902       PatchType = "json6902"
)

// Patch is one parsed patch, ready to apply.
type Patch struct {
	Type     PatchType
	Target   ID
	Fragment map[string]any
	Ops      []Operation

	// Source describes where the patch was declared, for error messages.
	Source string
}

// Operation is one RFC 6902 operation.
type Operation struct {
	Op    string `yaml:"op" json:"op"`
	Path  string `yaml:"path" json:"path"`
	From  string `yaml:"from,omitempty" json:"from,omitempty"`
	Value any    `yaml:"value,omitempty" json:"value"`
}

// Generator behaviours.
const (
	BehaviorCreate  = "create"
	BehaviorMerge   = "merge"
	BehaviorReplace = "replace"
)

// Generator produces a ConfigMap or Secret from key/value sources.
type Generator struct {
	// Kind is ConfigMap or Secret.
	Kind string `yaml:"kind"`

	// Name is the base name. A content hash suffix is appended unless
	// DisableNameSuffixHash is set.
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace,omitempty"`

	// Behavior is create (default), merge or replace. merge and replace
	// act on a document generated under the same name by a base layer.
	Behavior string `yaml:"behavior,omitempty"`

	// Literals are KEY=VALUE pairs.
	Literals []string `yaml:"literals,omitempty"`
	// Envs are dotenv files.
	Envs []string `yaml:"envs,omitempty"`
	// Files are added whole, keyed by base name or an explicit "key=path".
	Files []string `yaml:"files,omitempty"`
	// SopsFiles are SOPS-encrypted dotenv, YAML or JSON files.
	SopsFiles []string `yaml:"sopsFiles,omitempty"`

	// Type is the Secret type. Defaults to Opaque.
	Type string `yaml:"type,omitempty"`

	Labels      map[string]string `yaml:"labels,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty"`

	DisableNameSuffixHash bool `yaml:"disableNameSuffixHash,omitempty"`

	// Data holds the merged key/value pairs read from every source.
	Data map[string]string `yaml:"-"`
}

// ImageOverride rewrites container images whose name equals Name.
type ImageOverride struct {
	Name    string `yaml:"name"`
	NewName string `yaml:"newName,omitempty"`
	NewTag  string `yaml:"newTag,omitempty"`
	Digest  string `yaml:"digest,omitempty"`
}

// Transformer is one document-wide rewrite. Exactly one field is set.
type Transformer struct {
	NamePrefix        string            `yaml:"namePrefix,omitempty"`
	NameSuffix        string            `yaml:"nameSuffix,omitempty"`
	CommonLabels      map[string]string `yaml:"commonLabels,omitempty"`
	CommonAnnotations map[string]string `yaml:"commonAnnotations,omitempty"`
	Namespace         string            `yaml:"namespace,omitempty"`
	Images            []ImageOverride   `yaml:"images,omitempty"`
}

// Transformer types, as returned by Transformer.Type.
const (
	TransformNamePrefix        = "namePrefix"
	TransformNameSuffix        = "nameSuffix"
	TransformCommonLabels      = "commonLabels"
	TransformCommonAnnotations = "commonAnnotations"
	TransformNamespace         = "namespace"
	TransformImages            = "images"
)

// Type returns which rewrite the transformer performs. It fails unless
// exactly one field is set.
func (t Transformer) Type() (string, error) {
	var set []string
	if t.NamePrefix != "" {
		set = append(set, TransformNamePrefix)
	}
	if t.NameSuffix != "" {
		set = append(set, TransformNameSuffix)
	}
	if len(t.CommonLabels) > 0 {
		set = append(set, TransformCommonLabels)
	}
	if len(t.CommonAnnotations) > 0 {
		set = append(set, TransformCommonAnnotations)
	}
	if t.Namespace != "" {
		set = append(set, TransformNamespace)
	}
	if len(t.Images) > 0 {
		set = append(set, TransformImages)
	}

	switch len(set) {
	case 0:
		return "", fmt.Errorf("transformer sets no field")
	case 1:
		return set[0], nil
	default:
		return "", fmt.Errorf("transformer sets %v, expected exactly one", set)
	}
}

// Tree is a loaded layer tree.
type Tree struct {
	Root   string
	layers map[string]*Layer
}

// NewTree builds a tree from already-loaded layers, keyed by name.
func NewTree(root string, layers ...*Layer) (*Tree, error) {
	t := &Tree{Root: root, layers: make(map[string]*Layer, len(layers))}
	for _, l := range layers {
		if _, exists := t.layers[l.Name]; exists {
			return nil, fmt.Errorf("duplicate layer name %q", l.Name)
		}
		t.layers[l.Name] = l
	}
	return t, nil
}

// Layer returns the named layer.
func (t *Tree) Layer(name string) (*Layer, bool) {
	l, ok := t.layers[name]
	return l, ok
}

// Names returns all layer names, sorted.
func (t *Tree) Names() []string {
	names := make([]string, 0, len(t.layers))
	for name := range t.layers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
