package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/gosbatch/pkg/render"
)

// LoadJob renders the job manifest at path with vars, validates it, and
// parses it.
//
// The file format is determined by extension: .yaml/.yml for YAML, .json for
// JSON. Any other extension is tried as YAML, then JSON.
func LoadJob(path string, vars map[string]any) (*JobManifest, error) {
	data, err := renderFile(path, vars)
	if err != nil {
		return nil, err
	}
	return LoadJobFromBytes(data, path)
}

// LoadJobFromBytes validates and parses an already rendered job manifest.
// The path parameter is used for error messages and format detection.
func LoadJobFromBytes(data []byte, path string) (*JobManifest, error) {
	var m JobManifest
	if err := decode(data, path, KindJob, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadApp renders, validates, and parses the app manifest at path.
func LoadApp(path string, vars map[string]any) (*AppManifest, error) {
	data, err := renderFile(path, vars)
	if err != nil {
		return nil, err
	}
	return LoadAppFromBytes(data, path)
}

// LoadAppFromBytes validates and parses an already rendered app manifest.
func LoadAppFromBytes(data []byte, path string) (*AppManifest, error) {
	var m AppManifest
	if err := decode(data, path, KindApp, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func renderFile(path string, vars map[string]any) ([]byte, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	out, err := render.RenderFile(path, vars)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// decode validates the raw document against the kind's schema before parsing
// it, so unknown fields are rejected rather than silently dropped.
func decode(data []byte, path string, kind Kind, out any) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return errors.New("manifest file is empty")
	}
	jsonData, err := toJSON(data, path)
	if err != nil {
		return err
	}
	if err := ValidateRaw(kind, jsonData); err != nil {
		return err
	}
	if err := json.Unmarshal(jsonData, out); err != nil {
		return fmt.Errorf("parse %s manifest: %w", kind, err)
	}
	return nil
}

// toJSON converts the input data to JSON for validation and parsing.
func toJSON(data []byte, path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in manifest: %w", err)
		}
		return data, nil

	case ".yaml", ".yml":
		return yamlToJSON(data)

	default:
		// YAML is a superset of JSON.
		jsonData, err := yamlToJSON(data)
		if err == nil {
			return jsonData, nil
		}
		var raw any
		if jsonErr := json.Unmarshal(data, &raw); jsonErr == nil {
			return data, nil
		}
		return nil, fmt.Errorf("failed to parse manifest (tried YAML and JSON): %w", err)
	}
}

func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in manifest: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert manifest to JSON: %w", err)
	}
	return jsonData, nil
}
