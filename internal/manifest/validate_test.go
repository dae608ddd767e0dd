package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAPIVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		{name: "valid v1 version", version: "rigger.io/v1"},
		{name: "empty version", version: ""},
		{name: "unsupported version", version: "rigger.io/v999", wantErr: true},
		{name: "invalid format", version: "invalid", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIVersion(tt.version)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedAPIVersion)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateLayerFile(t *testing.T) {
	t.Run("layer kind", func(t *testing.T) {
		meta, err := ValidateLayerFile([]byte("apiVersion: rigger.io/v1\nkind: Layer\n"))
		require.NoError(t, err)
		assert.Equal(t, KindLayer, meta.Kind)
	})

	t.Run("wrong kind", func(t *testing.T) {
		_, err := ValidateLayerFile([]byte("apiVersion: rigger.io/v1\nkind: Kustomization\n"))
		assert.ErrorIs(t, err, ErrInvalidKind)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := ValidateLayerFile([]byte("apiVersion: [unclosed"))
		assert.Error(t, err)
	})
}

func TestValidateLayer(t *testing.T) {
	t.Run("generator errors are joined", func(t *testing.T) {
		l := &Layer{
			Name: "dev",
			Generators: []Generator{
				{Kind: "Deployment", Name: "x"},
				{Kind: "ConfigMap", Name: "cfg", Behavior: "upsert"},
			},
		}
		err := validateLayer(l)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidGenerator)
		assert.Contains(t, err.Error(), "generators[0]")
		assert.Contains(t, err.Error(), "generators[1]")
	})

	t.Run("transformer with two fields", func(t *testing.T) {
		l := &Layer{
			Name:         "dev",
			Transformers: []Transformer{{NamePrefix: "dev-", Namespace: "dev"}},
		}
		assert.ErrorIs(t, validateLayer(l), ErrInvalidTransformer)
	})

	t.Run("self base", func(t *testing.T) {
		l := &Layer{Name: "dev", Bases: []string{"dev"}}
		assert.ErrorContains(t, validateLayer(l), "lists itself")
	})
}
