// Package manifest defines the OSSA agent manifest model and the
// schema-backed specification validator that gates compliance validation.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// Agent is a parsed OSSA agent manifest.
type Agent struct {
	APIVersion string   `json:"apiVersion" yaml:"apiVersion"`
	Kind       string   `json:"kind" yaml:"kind"`
	Metadata   Metadata `json:"metadata" yaml:"metadata"`
	Spec       Spec     `json:"spec" yaml:"spec"`
}

// Metadata identifies the agent.
type Metadata struct {
	Name        string   `json:"name" yaml:"name"`
	Version     string   `json:"version" yaml:"version"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Owner       string   `json:"owner,omitempty" yaml:"owner,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Spec holds the agent's declared capabilities, protocols, and posture.
type Spec struct {
	Capabilities Capabilities `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Protocols    Protocols    `json:"protocols,omitempty" yaml:"protocols,omitempty"`
	Conformance  Conformance  `json:"conformance,omitempty" yaml:"conformance,omitempty"`
	Performance  *Performance `json:"performance,omitempty" yaml:"performance,omitempty"`
	Governance   *Governance  `json:"governance,omitempty" yaml:"governance,omitempty"`
}

// Capabilities lists what the agent can act on.
type Capabilities struct {
	Domains []string `json:"domains,omitempty" yaml:"domains,omitempty"`
	Tools   []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// Protocol is a single supported agent protocol.
type Protocol struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	TLS     bool   `json:"tls" yaml:"tls"`
}

// Protocols lists the protocols the agent speaks.
type Protocols struct {
	Supported []Protocol `json:"supported,omitempty" yaml:"supported,omitempty"`
}

// Conformance is the agent's declared conformance posture.
type Conformance struct {
	Level        Level `json:"level,omitempty" yaml:"level,omitempty"`
	AuditLogging bool  `json:"auditLogging" yaml:"auditLogging"`
	FeedbackLoop bool  `json:"feedbackLoop" yaml:"feedbackLoop"`
	PropsTokens  bool  `json:"propsTokens" yaml:"propsTokens"`
}

// Performance captures the agent's declared performance envelope.
type Performance struct {
	MaxTokensPerRequest int     `json:"maxTokensPerRequest,omitempty" yaml:"maxTokensPerRequest,omitempty"`
	LatencyTargetMs     int     `json:"latencyTargetMs,omitempty" yaml:"latencyTargetMs,omitempty"`
	ErrorBudget         float64 `json:"errorBudget,omitempty" yaml:"errorBudget,omitempty"`
}

// Governance is the optional regulatory posture section consumed by
// framework requirement checks.
type Governance struct {
	RiskClass         string `json:"riskClass,omitempty" yaml:"riskClass,omitempty"`
	HumanOversight    bool   `json:"humanOversight,omitempty" yaml:"humanOversight,omitempty"`
	DataRetentionDays int    `json:"dataRetentionDays,omitempty" yaml:"dataRetentionDays,omitempty"`
	IncidentContact   string `json:"incidentContact,omitempty" yaml:"incidentContact,omitempty"`
}

// CapabilityCount returns the total number of declared capabilities
// (domains plus tools).
func (a *Agent) CapabilityCount() int {
	return len(a.Spec.Capabilities.Domains) + len(a.Spec.Capabilities.Tools)
}

// ProtocolCount returns the number of declared protocols.
func (a *Agent) ProtocolCount() int {
	return len(a.Spec.Protocols.Supported)
}

// Normalize applies Unicode NFC normalization to all free-text fields so
// that visually identical manifests hash identically.
func (a *Agent) Normalize() {
	a.Metadata.Name = norm.NFC.String(a.Metadata.Name)
	a.Metadata.Version = norm.NFC.String(a.Metadata.Version)
	a.Metadata.Description = norm.NFC.String(a.Metadata.Description)
	a.Metadata.Owner = norm.NFC.String(a.Metadata.Owner)
	for i, t := range a.Metadata.Tags {
		a.Metadata.Tags[i] = norm.NFC.String(t)
	}
	for i, d := range a.Spec.Capabilities.Domains {
		a.Spec.Capabilities.Domains[i] = norm.NFC.String(d)
	}
	for i, t := range a.Spec.Capabilities.Tools {
		a.Spec.Capabilities.Tools[i] = norm.NFC.String(t)
	}
	for i := range a.Spec.Protocols.Supported {
		p := &a.Spec.Protocols.Supported[i]
		p.Name = norm.NFC.String(p.Name)
		p.Version = norm.NFC.String(p.Version)
	}
	if a.Spec.Governance != nil {
		a.Spec.Governance.RiskClass = norm.NFC.String(a.Spec.Governance.RiskClass)
		a.Spec.Governance.IncidentContact = norm.NFC.String(a.Spec.Governance.IncidentContact)
	}
}

// Digest returns the sha256 digest of the manifest's RFC 8785 canonical
// JSON form, prefixed with the algorithm.
func (a *Agent) Digest() (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize manifest: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
