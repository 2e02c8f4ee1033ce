package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Bundle is a file-shippable collection of policies. MinEngineVersion
// is an optional semver constraint on the validating engine, so a
// bundle relying on newer condition kinds is rejected instead of
// silently never matching.
type Bundle struct {
	Name             string        `json:"name" yaml:"name"`
	Version          string        `json:"version,omitempty" yaml:"version,omitempty"`
	MinEngineVersion string        `json:"minEngineVersion,omitempty" yaml:"minEngineVersion,omitempty"`
	Policies         []Enforcement `json:"policies" yaml:"policies"`
}

// CompatibleWith checks the bundle's engine constraint against the
// given engine version.
func (b *Bundle) CompatibleWith(engineVersion *semver.Version) error {
	if b.MinEngineVersion == "" {
		return nil
	}
	c, err := semver.NewConstraint(b.MinEngineVersion)
	if err != nil {
		return fmt.Errorf("bundle %s: parse minEngineVersion %q: %w", b.Name, b.MinEngineVersion, err)
	}
	if !c.Check(engineVersion) {
		return fmt.Errorf("bundle %s requires engine %s, have %s", b.Name, b.MinEngineVersion, engineVersion)
	}
	return nil
}

// LoadFile reads a single bundle from a YAML or JSON file.
func LoadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse bundle %s: %w", filepath.Base(path), err)
	}
	if b.Name == "" {
		b.Name = filepath.Base(path)
	}
	return &b, nil
}

// LoadDir loads every bundle file (.yaml, .yml, .json) in dir, in
// lexical order, and returns the combined policies. Loading is
// fail-fast: one bad bundle aborts the load.
func LoadDir(dir, engineVersion string) ([]Enforcement, error) {
	ev, err := semver.NewVersion(engineVersion)
	if err != nil {
		return nil, fmt.Errorf("parse engine version %q: %w", engineVersion, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read policy dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml", ".json":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var policies []Enforcement
	for _, name := range names {
		b, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if err := b.CompatibleWith(ev); err != nil {
			return nil, err
		}
		policies = append(policies, b.Policies...)
	}
	return policies, nil
}
