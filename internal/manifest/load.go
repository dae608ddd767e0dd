package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadError reports a layer tree that could not be loaded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadTree walks root and loads every directory holding a layer file.
// Hidden directories are skipped.
func LoadTree(root string) (*Tree, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &LoadError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &LoadError{Path: root, Err: errors.New("not a directory")}
	}

	var layers []*Layer
	seen := make(map[string]string)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return &LoadError{Path: path, Err: err}
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != LayerFile {
			return nil
		}

		layer, err := LoadLayer(filepath.Dir(path))
		if err != nil {
			return err
		}
		if prev, dup := seen[layer.Name]; dup {
			return &LoadError{Path: path, Err: fmt.Errorf("layer name %q already defined in %s", layer.Name, prev)}
		}
		seen[layer.Name] = path
		layers = append(layers, layer)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return NewTree(root, layers...)
}

// LoadLayer loads the layer file in dir along with its resources, patches
// and generator sources.
func LoadLayer(dir string) (*Layer, error) {
	path := filepath.Join(dir, LayerFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	if _, err := ValidateLayerFile(data); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	var layer Layer
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&layer); err != nil && !errors.Is(err, io.EOF) {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("parse layer: %w", err)}
	}

	layer.Dir = dir
	if layer.Name == "" {
		layer.Name = filepath.Base(dir)
	}

	if err := validateLayer(&layer); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	owned := NewSet()
	for _, res := range layer.Resources {
		resPath := filepath.Join(dir, res)
		docs, err := ReadDocuments(resPath)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if err := owned.Add(doc); err != nil {
				return nil, &LoadError{Path: resPath, Err: err}
			}
		}
	}
	layer.Documents = owned.Documents()

	for i, decl := range layer.PatchDecls {
		patches, err := parsePatch(dir, decl)
		if err != nil {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("patch %d: %w", i, err)}
		}
		layer.Patches = append(layer.Patches, patches...)
	}

	for i := range layer.Generators {
		gen := &layer.Generators[i]
		if err := loadGeneratorData(dir, gen); err != nil {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("generator %s: %w", gen.Name, err)}
		}
	}

	return &layer, nil
}

// ReadDocuments parses a multi-document YAML file. Empty documents are
// skipped; every other document needs a kind and a metadata.name.
func ReadDocuments(path string) ([]*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	docs, err := ParseDocuments(data)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	for _, doc := range docs {
		doc.source = path
	}
	return docs, nil
}

// ParseDocuments parses a multi-document YAML stream.
func ParseDocuments(data []byte) ([]*Document, error) {
	var docs []*Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for i := 0; ; i++ {
		var obj map[string]any
		err := dec.Decode(&obj)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if obj == nil {
			continue
		}

		doc := NewDocument(Normalize(obj).(map[string]any))
		if doc.Kind() == "" {
			return nil, fmt.Errorf("document %d: missing kind", i)
		}
		if doc.Name() == "" {
			return nil, fmt.Errorf("document %d (%s): missing metadata.name", i, doc.Kind())
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func parsePatch(dir string, decl PatchDecl) ([]Patch, error) {
	forms := 0
	for _, set := range []bool{decl.Path != "", decl.Patch != nil, len(decl.Ops) > 0} {
		if set {
			forms++
		}
	}
	if forms != 1 {
		return nil, errors.New("exactly one of path, patch or ops is required")
	}

	switch {
	case len(decl.Ops) > 0:
		if decl.Target == nil {
			return nil, errors.New("ops require a target")
		}
		return []Patch{opsPatch(*decl.Target, decl.Ops, "inline ops")}, nil

	case decl.Patch != nil:
		fragment := Normalize(decl.Patch).(map[string]any)
		p, err := fragmentPatch(fragment, decl.Target, "inline patch")
		if err != nil {
			return nil, err
		}
		return []Patch{p}, nil
	}

	path := filepath.Join(dir, decl.Path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if decl.Target != nil {
		var ops []Operation
		if err := yaml.Unmarshal(data, &ops); err == nil && len(ops) > 0 {
			return []Patch{opsPatch(*decl.Target, ops, path)}, nil
		}
	}

	var fragments []map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var obj map[string]any
		err := dec.Decode(&obj)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if obj != nil {
			fragments = append(fragments, Normalize(obj).(map[string]any))
		}
	}
	if decl.Target != nil && len(fragments) > 1 {
		return nil, fmt.Errorf("%s: target set but file holds %d fragments", path, len(fragments))
	}

	patches := make([]Patch, 0, len(fragments))
	for _, fragment := range fragments {
		p, err := fragmentPatch(fragment, decl.Target, path)
		if err != nil {
			return nil, err
		}
		patches = append(patches, p)
	}
	return patches, nil
}

func opsPatch(target ID, ops []Operation, source string) Patch {
	for i := range ops {
		ops[i].Value = Normalize(ops[i].Value)
	}
	return Patch{Type: PatchJSON6902, Target: target, Ops: ops, Source: source}
}

func fragmentPatch(fragment map[string]any, target *ID, source string) (Patch, error) {
	p := Patch{Type: PatchStrategicMerge, Fragment: fragment, Source: source}
	if target != nil {
		p.Target = *target
		return p, nil
	}
	p.Target = NewDocument(fragment).ID()
	if p.Target.Kind == "" || p.Target.Name == "" {
		return p, fmt.Errorf("%s: fragment needs kind and metadata.name, or an explicit target", source)
	}
	return p, nil
}
