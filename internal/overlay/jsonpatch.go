package overlay

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/cameronsjo/rigger/internal/manifest"
)

// ApplyOperations applies RFC 6902 operations to obj and returns the
// result. remove and replace fail on a missing path; test fails on a
// mismatch.
func ApplyOperations(obj map[string]any, ops []manifest.Operation) (map[string]any, error) {
	doc, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("encode operations: %w", err)
	}

	patch, err := jsonpatch.DecodePatch(raw)
	if err != nil {
		return nil, fmt.Errorf("decode operations: %w", err)
	}
	out, err := patch.Apply(doc)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(out))
	dec.UseNumber()
	var result map[string]any
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("decode patched document: %w", err)
	}
	return manifest.Normalize(result).(map[string]any), nil
}
