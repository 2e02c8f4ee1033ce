package manifest

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrEmptyManifest = errors.New("manifest is empty")

// Parse decodes a manifest from YAML or JSON bytes. JSON is a YAML
// subset, so a single decode path handles both.
func Parse(data []byte) (*Agent, error) {
	if len(data) == 0 {
		return nil, ErrEmptyManifest
	}
	var a Agent
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	a.Normalize()
	return &a, nil
}

// Load reads and parses a manifest file.
func Load(path string) (*Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	a, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return a, nil
}
