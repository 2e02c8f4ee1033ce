package compliance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
)

var (
	// ErrUnknownFramework is returned when a framework id is not registered.
	ErrUnknownFramework = errors.New("unknown framework")

	// ErrInvalidFramework is returned when a framework definition fails
	// registration checks.
	ErrInvalidFramework = errors.New("invalid framework definition")

	// ErrUnknownValidator is returned when a requirement references a
	// validator tag that no registry entry or resolver serves.
	ErrUnknownValidator = errors.New("unknown validator tag")
)

// ValidatorFunc is a pure requirement check. It inspects the agent and
// deployment context and returns a fractional score with any findings.
// Params carries the requirement's tuning values, e.g. a threshold.
// Finding ids should be short slugs; the engine qualifies them with the
// framework and requirement ids.
type ValidatorFunc func(ctx context.Context, a *manifest.Agent, c Context, params map[string]string) (StageResult, error)

// Resolver serves validator tags the built-in registry does not know,
// typically tags bound to loaded extension modules.
type Resolver interface {
	Resolve(tag string) (ValidatorFunc, bool)
}

// Requirement is one control within a framework. Validator names the
// check by tag; the catalog's registry maps tags to functions, so
// requirement tables stay pure data.
type Requirement struct {
	ID          string            `json:"id" yaml:"id"`
	Title       string            `json:"title" yaml:"title"`
	Description string            `json:"description" yaml:"description"`
	Category    Category          `json:"category" yaml:"category"`
	Mandatory   bool              `json:"mandatory" yaml:"mandatory"`
	Evidence    []string          `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Validator   string            `json:"validator" yaml:"validator"`
	Params      map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// LevelMapping binds a conformance level to the subset of requirements
// an agent at that level must satisfy.
type LevelMapping struct {
	Level              manifest.Level `json:"level" yaml:"level"`
	RequirementIDs     []string       `json:"requirementIds" yaml:"requirementIds"`
	AdditionalControls []string       `json:"additionalControls,omitempty" yaml:"additionalControls,omitempty"`
}

// Framework is a regulatory framework definition: its requirement
// catalog plus the level mappings that select requirements per
// conformance level.
type Framework struct {
	ID           string         `json:"id" yaml:"id"`
	Name         string         `json:"name" yaml:"name"`
	Version      string         `json:"version" yaml:"version"`
	Authority    string         `json:"authority,omitempty" yaml:"authority,omitempty"`
	Requirements []Requirement  `json:"requirements" yaml:"requirements"`
	Mappings     []LevelMapping `json:"mappings" yaml:"mappings"`
}

// MappingFor returns the level mapping for the given conformance level.
func (f Framework) MappingFor(level manifest.Level) (LevelMapping, bool) {
	for _, m := range f.Mappings {
		if m.Level == level {
			return m, true
		}
	}
	return LevelMapping{}, false
}

// RequirementByID returns the requirement with the given id.
func (f Framework) RequirementByID(id string) (Requirement, bool) {
	for _, r := range f.Requirements {
		if r.ID == id {
			return r, true
		}
	}
	return Requirement{}, false
}

// Registry maps validator tags to functions. Registration happens at
// assembly time; lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	fns      map[string]ValidatorFunc
	resolver Resolver
}

// NewRegistry returns an empty validator registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]ValidatorFunc)}
}

// Register binds a tag to a validator function. Re-registering a tag
// replaces the previous binding.
func (r *Registry) Register(tag string, fn ValidatorFunc) error {
	if tag == "" {
		return fmt.Errorf("%w: empty tag", ErrUnknownValidator)
	}
	if fn == nil {
		return fmt.Errorf("%w: nil function for tag %s", ErrUnknownValidator, tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[tag] = fn
	return nil
}

// SetResolver installs a fallback resolver consulted for tags the
// registry itself does not hold.
func (r *Registry) SetResolver(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolver = res
}

// Lookup resolves a tag to its validator, consulting the fallback
// resolver after the built-in table.
func (r *Registry) Lookup(tag string) (ValidatorFunc, bool) {
	r.mu.RLock()
	fn, ok := r.fns[tag]
	res := r.resolver
	r.mu.RUnlock()
	if ok {
		return fn, true
	}
	if res != nil {
		return res.Resolve(tag)
	}
	return nil, false
}

// Tags returns the registered tags in sorted order. Resolver-served
// tags are not included.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.fns))
	for t := range r.fns {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Catalog holds the registered frameworks and the validator registry
// their requirements resolve against.
type Catalog struct {
	mu         sync.RWMutex
	frameworks map[string]Framework
	order      []string
	registry   *Registry
}

// NewCatalog returns an empty catalog backed by the given registry. A
// nil registry gets a fresh empty one.
func NewCatalog(reg *Registry) *Catalog {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Catalog{
		frameworks: make(map[string]Framework),
		registry:   reg,
	}
}

// Registry exposes the catalog's validator registry so callers can add
// validators or install an extension resolver.
func (c *Catalog) Registry() *Registry { return c.registry }

// Register validates and adds a framework. Registration is the single
// integrity gate: once a framework is in the catalog, every mapping id
// resolves to a requirement and every requirement tag had a validator
// at registration time.
func (c *Catalog) Register(f Framework) error {
	if f.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidFramework)
	}
	if f.Name == "" {
		return fmt.Errorf("%w: framework %s missing name", ErrInvalidFramework, f.ID)
	}
	if _, err := semver.NewVersion(f.Version); err != nil {
		return fmt.Errorf("%w: framework %s version %q: %v", ErrInvalidFramework, f.ID, f.Version, err)
	}
	ids := make(map[string]struct{}, len(f.Requirements))
	for _, req := range f.Requirements {
		if req.ID == "" {
			return fmt.Errorf("%w: framework %s has a requirement without id", ErrInvalidFramework, f.ID)
		}
		if _, dup := ids[req.ID]; dup {
			return fmt.Errorf("%w: framework %s duplicates requirement %s", ErrInvalidFramework, f.ID, req.ID)
		}
		ids[req.ID] = struct{}{}
		if _, ok := c.registry.Lookup(req.Validator); !ok {
			return fmt.Errorf("%w: framework %s requirement %s references %q", ErrUnknownValidator, f.ID, req.ID, req.Validator)
		}
	}
	seen := make(map[manifest.Level]struct{}, len(f.Mappings))
	for _, m := range f.Mappings {
		if !m.Level.Valid() {
			return fmt.Errorf("%w: framework %s maps unknown level %q", ErrInvalidFramework, f.ID, m.Level)
		}
		if _, dup := seen[m.Level]; dup {
			return fmt.Errorf("%w: framework %s has two mappings for level %s", ErrInvalidFramework, f.ID, m.Level)
		}
		seen[m.Level] = struct{}{}
		for _, id := range m.RequirementIDs {
			if _, ok := ids[id]; !ok {
				return fmt.Errorf("%w: framework %s level %s maps unknown requirement %s", ErrInvalidFramework, f.ID, m.Level, id)
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.frameworks[f.ID]; !exists {
		c.order = append(c.order, f.ID)
	}
	c.frameworks[f.ID] = f
	return nil
}

// Get returns the framework with the given id.
func (c *Catalog) Get(id string) (Framework, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.frameworks[id]
	return f, ok
}

// List returns all registered frameworks in registration order.
func (c *Catalog) List() []Framework {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Framework, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.frameworks[id])
	}
	return out
}

// IDs returns the registered framework ids in registration order.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}
