package manifest

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// API version and kind constants for layer files.
const (
	// APIVersionV1 is the current API version for layer files.
	APIVersionV1 = "rigger.io/v1"

	// KindLayer identifies a layer file.
	KindLayer = "Layer"

	// LayerFile is the file name that marks a directory as a layer.
	LayerFile = "layer.yaml"
)

// SupportedAPIVersions lists all API versions that can be loaded.
var SupportedAPIVersions = []string{APIVersionV1}

// SupportedKinds lists all valid layer file kinds.
var SupportedKinds = []string{KindLayer}

// ErrDuplicateID indicates two documents share one identity in a single set.
var ErrDuplicateID = errors.New("duplicate document identity")

// ID identifies a document: kind, namespace and name.
// Namespace is empty for cluster-scoped kinds and for documents that leave
// it to the applier's default.
type ID struct {
	Kind      string `yaml:"kind" json:"kind"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Name      string `yaml:"name" json:"name"`
}

func (id ID) String() string {
	if id.Namespace == "" {
		return id.Kind + "/" + id.Name
	}
	return id.Kind + "/" + id.Namespace + "/" + id.Name
}

// Matches reports whether other names the same document, treating an empty
// namespace on either side as a wildcard.
func (id ID) Matches(other ID) bool {
	if id.Kind != other.Kind || id.Name != other.Name {
		return false
	}
	return id.Namespace == "" || other.Namespace == "" || id.Namespace == other.Namespace
}

// DuplicateError reports a second document with an identity already in a set.
type DuplicateError struct {
	ID ID
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateID, e.ID)
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicateID
}

// Document is one Kubernetes-style object held as a generic tree.
type Document struct {
	Object map[string]any

	// origin is the name of the generator that produced the document.
	origin string
	// source is the file the document was read from, if any.
	source string
}

// NewDocument wraps obj. The map is used as is, not copied.
func NewDocument(obj map[string]any) *Document {
	if obj == nil {
		obj = make(map[string]any)
	}
	return &Document{Object: obj}
}

// ID returns the document identity.
func (d *Document) ID() ID {
	return ID{Kind: d.Kind(), Namespace: d.Namespace(), Name: d.Name()}
}

func (d *Document) APIVersion() string {
	s, _ := d.Object["apiVersion"].(string)
	return s
}

func (d *Document) Kind() string {
	s, _ := d.Object["kind"].(string)
	return s
}

func (d *Document) Name() string {
	s, _ := NestedString(d.Object, "metadata", "name")
	return s
}

func (d *Document) Namespace() string {
	s, _ := NestedString(d.Object, "metadata", "namespace")
	return s
}

func (d *Document) SetName(name string) {
	SetNested(d.Object, name, "metadata", "name")
}

func (d *Document) SetNamespace(ns string) {
	SetNested(d.Object, ns, "metadata", "namespace")
}

// Origin returns the generator that produced the document, or "".
func (d *Document) Origin() string { return d.origin }

// SetOrigin marks the document as produced by the named generator.
func (d *Document) SetOrigin(generator string) { d.origin = generator }

// Source returns the file the document was loaded from, or "".
func (d *Document) Source() string { return d.source }

// DeepCopy returns an independent copy of the document.
func (d *Document) DeepCopy() *Document {
	obj, _ := DeepCopyValue(d.Object).(map[string]any)
	return &Document{Object: obj, origin: d.origin, source: d.source}
}

// WithObject returns a document holding obj, keeping d's origin and source.
func (d *Document) WithObject(obj map[string]any) *Document {
	return &Document{Object: obj, origin: d.origin, source: d.source}
}

// Set is an ordered collection of documents with unique identities.
// Iteration order is insertion order.
type Set struct {
	docs  []*Document
	index map[ID]int
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{index: make(map[ID]int)}
}

// Add appends doc, failing with a *DuplicateError if its identity is taken.
func (s *Set) Add(doc *Document) error {
	id := doc.ID()
	if _, exists := s.index[id]; exists {
		return &DuplicateError{ID: id}
	}
	s.index[id] = len(s.docs)
	s.docs = append(s.docs, doc)
	return nil
}

// Get returns the document with exactly the given identity.
func (s *Set) Get(id ID) (*Document, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.docs[i], true
}

// Find returns the document matching id. An exact match wins; otherwise an
// empty namespace on either side matches, as long as exactly one document
// qualifies.
func (s *Set) Find(id ID) (*Document, bool) {
	if doc, ok := s.Get(id); ok {
		return doc, true
	}
	var found *Document
	for _, doc := range s.docs {
		if !doc.ID().Matches(id) {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = doc
	}
	return found, found != nil
}

// Remove deletes the document with the given identity.
func (s *Set) Remove(id ID) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.docs = append(s.docs[:i], s.docs[i+1:]...)
	s.rebuild()
	return true
}

// Replace swaps the document at old's position for doc, keeping the order.
func (s *Set) Replace(old ID, doc *Document) error {
	i, ok := s.index[old]
	if !ok {
		return fmt.Errorf("replace %s: not in set", old)
	}
	if id := doc.ID(); id != old {
		if _, taken := s.index[id]; taken {
			return &DuplicateError{ID: id}
		}
	}
	s.docs[i] = doc
	s.rebuild()
	return nil
}

// Reindex rebuilds the identity index after documents were renamed in
// place. It fails if the renames produced a collision.
func (s *Set) Reindex() error {
	index := make(map[ID]int, len(s.docs))
	for i, doc := range s.docs {
		id := doc.ID()
		if _, exists := index[id]; exists {
			return &DuplicateError{ID: id}
		}
		index[id] = i
	}
	s.index = index
	return nil
}

func (s *Set) rebuild() {
	s.index = make(map[ID]int, len(s.docs))
	for i, doc := range s.docs {
		s.index[doc.ID()] = i
	}
}

// Documents returns the documents in order. The slice is a copy; the
// documents are shared.
func (s *Set) Documents() []*Document {
	out := make([]*Document, len(s.docs))
	copy(out, s.docs)
	return out
}

// IDs returns the identities in order.
func (s *Set) IDs() []ID {
	out := make([]ID, len(s.docs))
	for i, doc := range s.docs {
		out[i] = doc.ID()
	}
	return out
}

func (s *Set) Len() int { return len(s.docs) }

// Clone returns a deep copy of the set.
func (s *Set) Clone() *Set {
	out := &Set{
		docs:  make([]*Document, len(s.docs)),
		index: make(map[ID]int, len(s.index)),
	}
	for i, doc := range s.docs {
		out.docs[i] = doc.DeepCopy()
	}
	for id, i := range s.index {
		out.index[id] = i
	}
	return out
}

// YAML encodes the documents in set order as a multi-document stream.
// Map keys are emitted sorted, so equal sets encode to equal bytes.
func (s *Set) YAML() ([]byte, error) {
	return EncodeDocuments(s.docs)
}

// EncodeDocuments encodes docs as a multi-document YAML stream.
func EncodeDocuments(docs []*Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for _, doc := range docs {
		if err := enc.Encode(doc.Object); err != nil {
			return nil, fmt.Errorf("encode %s: %w", doc.ID(), err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode documents: %w", err)
	}
	return buf.Bytes(), nil
}
