package manifest

import (
	"errors"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Validation errors for layer files.
var (
	// ErrUnsupportedAPIVersion indicates an unknown or unsupported API version.
	ErrUnsupportedAPIVersion = errors.New("unsupported API version")

	// ErrInvalidKind indicates an unknown layer file kind.
	ErrInvalidKind = errors.New("invalid kind")

	// ErrInvalidGenerator indicates a generator declaration that cannot run.
	ErrInvalidGenerator = errors.New("invalid generator")

	// ErrInvalidTransformer indicates a transformer that sets zero or several fields.
	ErrInvalidTransformer = errors.New("invalid transformer")
)

// Meta contains the common header fields of a layer file.
type Meta struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
}

// ValidateAPIVersion checks if the provided version is supported.
// An empty version is accepted.
func ValidateAPIVersion(version string) error {
	if version == "" || slices.Contains(SupportedAPIVersions, version) {
		return nil
	}
	return fmt.Errorf("%w: %s (supported: %v)", ErrUnsupportedAPIVersion, version, SupportedAPIVersions)
}

// ValidateKind checks if the provided kind is a layer file kind.
// An empty kind is accepted.
func ValidateKind(kind string) error {
	if kind == "" || slices.Contains(SupportedKinds, kind) {
		return nil
	}
	return fmt.Errorf("%w: %s (supported: %v)", ErrInvalidKind, kind, SupportedKinds)
}

// ValidateLayerFile extracts and validates the apiVersion and kind of a
// raw layer file.
func ValidateLayerFile(data []byte) (*Meta, error) {
	var meta Meta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse layer metadata: %w", err)
	}

	if err := ValidateAPIVersion(meta.APIVersion); err != nil {
		return &meta, err
	}
	if err := ValidateKind(meta.Kind); err != nil {
		return &meta, err
	}

	return &meta, nil
}

func validateLayer(l *Layer) error {
	var errs []error

	for i, base := range l.Bases {
		if base == "" {
			errs = append(errs, fmt.Errorf("bases[%d]: empty layer name", i))
		}
		if base == l.Name {
			errs = append(errs, fmt.Errorf("bases[%d]: layer %q lists itself", i, base))
		}
	}

	for path, key := range l.MergeKeys {
		if path == "" || key == "" {
			errs = append(errs, fmt.Errorf("mergeKeys: empty path or key (%q: %q)", path, key))
		}
	}

	names := make(map[string]bool)
	for i, g := range l.Generators {
		if err := validateGenerator(g); err != nil {
			errs = append(errs, fmt.Errorf("generators[%d]: %w", i, err))
		}
		key := g.Kind + "/" + g.Name
		if names[key] {
			errs = append(errs, fmt.Errorf("generators[%d]: %w: %s declared twice", i, ErrInvalidGenerator, key))
		}
		names[key] = true
	}

	for i, t := range l.Transformers {
		if _, err := t.Type(); err != nil {
			errs = append(errs, fmt.Errorf("transformers[%d]: %w: %v", i, ErrInvalidTransformer, err))
		}
	}

	return errors.Join(errs...)
}

func validateGenerator(g Generator) error {
	if g.Kind != "ConfigMap" && g.Kind != "Secret" {
		return fmt.Errorf("%w: kind %q (supported: ConfigMap, Secret)", ErrInvalidGenerator, g.Kind)
	}
	if g.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidGenerator)
	}
	switch g.Behavior {
	case "", BehaviorCreate, BehaviorMerge, BehaviorReplace:
	default:
		return fmt.Errorf("%w: behavior %q (supported: create, merge, replace)", ErrInvalidGenerator, g.Behavior)
	}
	if g.Type != "" && g.Kind != "Secret" {
		return fmt.Errorf("%w: type is only valid for Secret generators", ErrInvalidGenerator)
	}
	return nil
}
