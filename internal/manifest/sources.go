package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/getsops/sops/v3/decrypt"
	"github.com/hashicorp/go-envparse"
	"gopkg.in/yaml.v3"
)

// loadGeneratorData reads every source of g, in declaration order:
// literals, env files, plain files, SOPS files. A key defined twice is an
// error.
func loadGeneratorData(dir string, g *Generator) error {
	data := make(map[string]string)
	add := func(key, value, from string) error {
		if key == "" {
			return fmt.Errorf("empty key in %s", from)
		}
		if _, dup := data[key]; dup {
			return fmt.Errorf("key %q from %s already defined", key, from)
		}
		data[key] = value
		return nil
	}

	for _, lit := range g.Literals {
		key, value, ok := strings.Cut(lit, "=")
		if !ok {
			return fmt.Errorf("literal %q: expected KEY=VALUE", lit)
		}
		if err := add(key, value, "literal"); err != nil {
			return err
		}
	}

	for _, env := range g.Envs {
		path := filepath.Join(dir, env)
		pairs, err := readEnvFile(path)
		if err != nil {
			return err
		}
		if err := addSorted(pairs, path, add); err != nil {
			return err
		}
	}

	for _, file := range g.Files {
		key, rel, explicit := strings.Cut(file, "=")
		if !explicit {
			rel = file
			key = filepath.Base(file)
		}
		path := filepath.Join(dir, rel)
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := add(key, string(content), path); err != nil {
			return err
		}
	}

	for _, sf := range g.SopsFiles {
		path := filepath.Join(dir, sf)
		pairs, err := readSopsFile(path)
		if err != nil {
			return err
		}
		if err := addSorted(pairs, path, add); err != nil {
			return err
		}
	}

	g.Data = data
	return nil
}

func addSorted(pairs map[string]string, from string, add func(key, value, from string) error) error {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := add(k, pairs[k], from); err != nil {
			return err
		}
	}
	return nil
}

func readEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pairs, err := envparse.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse env file %s: %w", path, err)
	}
	return pairs, nil
}

// sopsFormat maps a file extension to the SOPS store format.
func sopsFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".env":
		return "dotenv"
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

func readSopsFile(path string) (map[string]string, error) {
	format := sopsFormat(path)
	cleartext, err := decrypt.File(path, format)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", path, err)
	}

	if format == "dotenv" {
		pairs, err := envparse.Parse(bytes.NewReader(cleartext))
		if err != nil {
			return nil, fmt.Errorf("parse decrypted %s: %w", path, err)
		}
		return pairs, nil
	}

	return flattenValues(cleartext, path)
}

// flattenValues turns a top-level YAML/JSON mapping into string pairs.
// Nested values are re-encoded as YAML.
func flattenValues(data []byte, path string) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse decrypted %s: %w", path, err)
	}

	pairs := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			pairs[k] = val
		case map[string]any, []any:
			out, err := yaml.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("encode %s.%s: %w", path, k, err)
			}
			pairs[k] = string(out)
		case nil:
			pairs[k] = ""
		default:
			pairs[k] = fmt.Sprint(val)
		}
	}
	return pairs, nil
}
