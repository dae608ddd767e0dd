package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/cameronsjo/rigger/internal/manifest"
)

// Result is a resolved layer.
type Result struct {
	Layer     string
	Documents *manifest.Set
	// Warnings holds non-fatal problems, such as *ConflictError.
	Warnings []error
}

// Engine resolves layers of one tree. Results are memoised per layer, so an
// Engine must not outlive changes to the tree. Safe for concurrent use.
type Engine struct {
	tree         *manifest.Tree
	logger       *slog.Logger
	mergeKeys    map[string]string
	transformers []manifest.Transformer

	mu    sync.Mutex
	cache map[string]*resolved
	group singleflight.Group
}

type resolved struct {
	set      *manifest.Set
	warnings []error
}

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets the logger for warnings and progress.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMergeKeys declares merge keys for every layer. Layer-level keys win.
func WithMergeKeys(keys map[string]string) Option {
	return func(e *Engine) {
		e.mergeKeys = keys
	}
}

// WithTransformers adds transformers run on every result, after the
// layer's own transformers.
func WithTransformers(transformers ...manifest.Transformer) Option {
	return func(e *Engine) {
		e.transformers = append(e.transformers, transformers...)
	}
}

// NewEngine creates an Engine for tree.
func NewEngine(tree *manifest.Tree, opts ...Option) *Engine {
	e := &Engine{
		tree:   tree,
		logger: slog.New(slog.DiscardHandler),
		cache:  make(map[string]*resolved),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Resolve resolves the named layer. The returned set is the caller's to
// modify.
func (e *Engine) Resolve(ctx context.Context, name string) (*Result, error) {
	if err := e.checkGraph(name); err != nil {
		return nil, err
	}

	r, err := e.resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	set := r.set.Clone()
	if err := transformAll(set, e.transformers, "global"); err != nil {
		return nil, fmt.Errorf("layer %s: %w", name, err)
	}
	fixGeneratedReferences(set)

	return &Result{
		Layer:     name,
		Documents: set,
		Warnings:  slices.Clone(r.warnings),
	}, nil
}

// ResolveAll resolves the named layers in parallel. Shared bases are
// resolved once.
func (e *Engine) ResolveAll(ctx context.Context, names ...string) (map[string]*Result, error) {
	results := make([]*Result, len(names))

	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			r, err := e.Resolve(ctx, name)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*Result, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out, nil
}

// Validate checks the whole layer graph for unknown bases and cycles.
func (e *Engine) Validate() error {
	var errs []error
	for _, name := range e.tree.Names() {
		if err := e.checkGraph(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const (
	unvisited = iota
	visiting
	visited
)

// checkGraph walks the bases of name and fails on a cycle or an unknown layer.
func (e *Engine) checkGraph(name string) error {
	state := make(map[string]int)
	var stack []string

	var visit func(name, referrer string) error
	visit = func(name, referrer string) error {
		switch state[name] {
		case visiting:
			idx := slices.Index(stack, name)
			path := append(slices.Clone(stack[idx:]), name)
			return &CycleError{Path: path}
		case visited:
			return nil
		}

		layer, ok := e.tree.Layer(name)
		if !ok {
			return &UnknownLayerError{Name: name, Referrer: referrer}
		}

		state[name] = visiting
		stack = append(stack, name)
		for _, base := range layer.Bases {
			if err := visit(base, name); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = visited
		return nil
	}

	return visit(name, "")
}

// resolve returns the memoised result for name, computing it at most once
// at a time.
func (e *Engine) resolve(ctx context.Context, name string) (*resolved, error) {
	e.mu.Lock()
	if r, ok := e.cache[name]; ok {
		e.mu.Unlock()
		return r, nil
	}
	e.mu.Unlock()

	v, err, _ := e.group.Do(name, func() (any, error) {
		r, err := e.build(ctx, name)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.cache[name] = r
		e.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*resolved), nil
}

func (e *Engine) build(ctx context.Context, name string) (*resolved, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	layer, ok := e.tree.Layer(name)
	if !ok {
		return nil, &UnknownLayerError{Name: name}
	}

	set := manifest.NewSet()
	owners := make(map[manifest.ID]string)
	var warnings []error

	for _, base := range layer.Bases {
		r, err := e.resolve(ctx, base)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, r.warnings...)
		for _, doc := range r.set.Documents() {
			if err := set.Add(doc.DeepCopy()); err != nil {
				prev := owners[doc.ID()]
				return nil, &ConflictError{
					Layer:    name,
					Target:   doc.ID(),
					Previous: prev,
					Value:    base,
					Ancestor: e.sharedAncestor(prev, base),
				}
			}
			owners[doc.ID()] = base
		}
	}

	for _, doc := range layer.Documents {
		if err := set.Add(doc.DeepCopy()); err != nil {
			return nil, &ConflictError{Layer: name, Target: doc.ID(), Previous: owners[doc.ID()], Value: name}
		}
	}

	for _, g := range layer.Generators {
		if err := applyGenerator(name, set, g); err != nil {
			return nil, err
		}
	}

	keys := maps.Clone(e.mergeKeys)
	if keys == nil {
		keys = make(map[string]string)
	}
	maps.Copy(keys, layer.MergeKeys)

	tracker := newConflictTracker(name)
	for i, p := range layer.Patches {
		if err := applyPatch(name, set, i, p, keys, tracker); err != nil {
			return nil, err
		}
	}
	// Documents added or patched after a generator ran may still use its
	// base name.
	fixGeneratedReferences(set)

	for _, c := range tracker.conflicts {
		e.logger.Warn("conflicting patches",
			"layer", name,
			"document", c.Target.String(),
			"field", c.Field,
			"previous", c.Previous,
			"value", c.Value,
		)
		warnings = append(warnings, c)
	}

	if err := transformAll(set, layer.Transformers, "layer"); err != nil {
		return nil, fmt.Errorf("layer %s: %w", name, err)
	}

	e.logger.Debug("resolved layer", "layer", name, "documents", set.Len(), "warnings", len(warnings))
	return &resolved{set: set, warnings: warnings}, nil
}

// sharedAncestor returns the first layer both a and b inherit from, a and b
// included, or "" when their base graphs are disjoint.
func (e *Engine) sharedAncestor(a, b string) string {
	fromB := make(map[string]bool)
	for _, name := range e.lineage(b) {
		fromB[name] = true
	}
	for _, name := range e.lineage(a) {
		if fromB[name] {
			return name
		}
	}
	return ""
}

// lineage lists name and every layer it inherits from, depth first.
func (e *Engine) lineage(name string) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(string)
	walk = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
		if layer, ok := e.tree.Layer(name); ok {
			for _, base := range layer.Bases {
				walk(base)
			}
		}
	}
	walk(name)
	return out
}

func applyPatch(layer string, set *manifest.Set, index int, p manifest.Patch, keys map[string]string, tracker *conflictTracker) error {
	doc, ok := set.Find(p.Target)
	if !ok {
		return &TargetNotFoundError{Layer: layer, Target: p.Target, Source: p.Source}
	}
	id := doc.ID()
	record := tracker.recorder(id, index)

	var obj map[string]any
	switch p.Type {
	case manifest.PatchStrategicMerge:
		if p.Fragment[directiveKey] == directiveDelete {
			set.Remove(id)
			return nil
		}
		m := &merger{keys: keys, record: record}
		obj = m.mergeMaps(doc.Object, p.Fragment, "", "")

	case manifest.PatchJSON6902:
		var err error
		obj, err = ApplyOperations(doc.Object, p.Ops)
		if err != nil {
			return fmt.Errorf("layer %s: patch %s on %s: %w", layer, p.Source, id, err)
		}
		for _, op := range p.Ops {
			if (op.Op == "add" || op.Op == "replace") && isScalar(op.Value) {
				record(op.Path, op.Value)
			}
		}

	default:
		return fmt.Errorf("layer %s: patch %s: unknown type %q", layer, p.Source, p.Type)
	}

	if err := set.Replace(id, doc.WithObject(obj)); err != nil {
		return fmt.Errorf("layer %s: patch %s: %w", layer, p.Source, err)
	}
	return nil
}

// conflictTracker remembers which patch last wrote each scalar field.
type conflictTracker struct {
	layer     string
	writes    map[manifest.ID]map[string]fieldWrite
	conflicts []*ConflictError
}

type fieldWrite struct {
	value any
	patch int
}

func newConflictTracker(layer string) *conflictTracker {
	return &conflictTracker{
		layer:  layer,
		writes: make(map[manifest.ID]map[string]fieldWrite),
	}
}

func (c *conflictTracker) recorder(id manifest.ID, patch int) func(string, any) {
	return func(pointer string, value any) {
		fields, ok := c.writes[id]
		if !ok {
			fields = make(map[string]fieldWrite)
			c.writes[id] = fields
		}
		if prev, ok := fields[pointer]; ok && prev.patch != patch && !reflect.DeepEqual(prev.value, value) {
			c.conflicts = append(c.conflicts, &ConflictError{
				Layer:    c.layer,
				Target:   id,
				Field:    pointer,
				Previous: prev.value,
				Value:    value,
			})
		}
		fields[pointer] = fieldWrite{value: value, patch: patch}
	}
}
