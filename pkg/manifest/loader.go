// Package manifest loads YAML or JSON documents (template seeds, bulk
// request files) into typed structs.
//
// Documents are normalized to JSON first, so target types only need json
// tags. Unknown fields are rejected.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmpty is returned for empty documents.
var ErrEmpty = errors.New("manifest file is empty")

// Load reads the file at path and decodes it into out.
//
// The format is determined by extension: .yaml/.yml for YAML, .json for JSON.
// If the extension is unrecognized, YAML is attempted first, then JSON.
func Load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("manifest file not found: %s", path)
		}
		if os.IsPermission(err) {
			return fmt.Errorf("permission denied reading manifest: %s", path)
		}
		return fmt.Errorf("failed to read manifest file: %w", err)
	}
	return LoadFromBytes(data, path, out)
}

// LoadFromReader reads all of r and decodes it into out.
//
// The path parameter is used for error messages and format detection.
func LoadFromReader(r io.Reader, path string, out any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	return LoadFromBytes(data, path, out)
}

// LoadFromBytes decodes data into out.
func LoadFromBytes(data []byte, path string, out any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return ErrEmpty
	}

	jsonData, err := toJSON(data, path)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid manifest %s: %w", displayPath(path), err)
	}
	return nil
}

// toJSON converts the input data to JSON.
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

func displayPath(path string) string {
	if path == "" {
		return "<input>"
	}
	return path
}
