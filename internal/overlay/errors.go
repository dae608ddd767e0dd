package overlay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cameronsjo/rigger/internal/manifest"
)

// Resolution errors.
var (
	// ErrTargetNotFound indicates a patch or generator whose target is not
	// in the set.
	ErrTargetNotFound = errors.New("target not found")

	// ErrConflict indicates two inputs disagreeing about one value.
	ErrConflict = errors.New("conflict")

	// ErrCycle indicates a cycle in the layer graph.
	ErrCycle = errors.New("layer cycle")

	// ErrUnknownLayer indicates a reference to a layer that does not exist.
	ErrUnknownLayer = errors.New("unknown layer")
)

// TargetNotFoundError reports a patch whose target is missing.
type TargetNotFoundError struct {
	Layer  string
	Target manifest.ID
	Source string
}

func (e *TargetNotFoundError) Error() string {
	msg := fmt.Sprintf("layer %s: %s: %s", e.Layer, ErrTargetNotFound, e.Target)
	if e.Source != "" {
		msg += " (from " + e.Source + ")"
	}
	return msg
}

func (e *TargetNotFoundError) Unwrap() error { return ErrTargetNotFound }

// ConflictError reports a field set to different values by two patches of
// one layer, or a document identity contributed twice. The first is a
// warning; the second is fatal. Field is empty for identity conflicts.
type ConflictError struct {
	Layer    string
	Target   manifest.ID
	Field    string
	Previous any
	Value    any
	// Ancestor is the layer two bases both inherit the document from, if any.
	Ancestor string
}

func (e *ConflictError) Error() string {
	if e.Field == "" && e.Ancestor != "" {
		return fmt.Sprintf("layer %s: %s: %s defined by both %v and %v, which both inherit it from layer %s",
			e.Layer, ErrConflict, e.Target, e.Previous, e.Value, e.Ancestor)
	}
	if e.Field == "" {
		return fmt.Sprintf("layer %s: %s: %s defined by both %v and %v", e.Layer, ErrConflict, e.Target, e.Previous, e.Value)
	}
	return fmt.Sprintf("layer %s: %s: %s field %s set to %v, then %v",
		e.Layer, ErrConflict, e.Target, e.Field, e.Previous, e.Value)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// CycleError reports a cycle in the base graph. Path starts and ends with
// the same layer.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycle, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// UnknownLayerError reports a layer name with no layer behind it.
type UnknownLayerError struct {
	Name string
	// Referrer is the layer listing Name as a base, if any.
	Referrer string
}

func (e *UnknownLayerError) Error() string {
	if e.Referrer != "" {
		return fmt.Sprintf("%s %q (base of %q)", ErrUnknownLayer, e.Name, e.Referrer)
	}
	return fmt.Sprintf("%s %q", ErrUnknownLayer, e.Name)
}

func (e *UnknownLayerError) Unwrap() error { return ErrUnknownLayer }
