package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
)

// ValidationProfile is a named default validation context, loaded from
// YAML. Deployments keep one per environment or jurisdiction so API
// callers that omit a context still get validated against the right
// posture.
type ValidationProfile struct {
	Name           string   `yaml:"name" json:"name"`
	Environment    string   `yaml:"environment" json:"environment"`
	Classification string   `yaml:"classification" json:"classification"`
	Region         string   `yaml:"region,omitempty" json:"region,omitempty"`
	Industry       string   `yaml:"industry,omitempty" json:"industry,omitempty"`
	DataTypes      []string `yaml:"data_types,omitempty" json:"data_types,omitempty"`
	Frameworks     []string `yaml:"frameworks,omitempty" json:"frameworks,omitempty"`
}

// Context converts the profile into a validation context.
func (p *ValidationProfile) Context() compliance.Context {
	return compliance.Context{
		Environment:    p.Environment,
		Classification: p.Classification,
		Region:         p.Region,
		Industry:       p.Industry,
		DataTypes:      p.DataTypes,
	}
}

// LoadProfile loads a validation profile by name. It searches the
// profiles directory for profile_<name>.yaml.
func LoadProfile(profilesDir, name string) (*ValidationProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile ValidationProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}

	if profile.Name == "" {
		profile.Name = name
	}
	if profile.Environment == "" {
		profile.Environment = compliance.EnvDevelopment
	}

	return &profile, nil
}
