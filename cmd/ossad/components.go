package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BlueflyCollective/openstandardagents/pkg/audit"
	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
	"github.com/BlueflyCollective/openstandardagents/pkg/compliance/frameworks"
	"github.com/BlueflyCollective/openstandardagents/pkg/config"
	"github.com/BlueflyCollective/openstandardagents/pkg/extension"
	"github.com/BlueflyCollective/openstandardagents/pkg/policy"
)

// components are the engine collaborators a command wires up from the
// environment config.
type components struct {
	logger  *slog.Logger
	trail   audit.Trail
	host    *extension.Host
	catalog *compliance.Catalog
	engine  *compliance.Engine
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.Environment == compliance.EnvDevelopment {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

func newComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{logger: logger}

	trail, err := newTrail(cfg)
	if err != nil {
		return nil, err
	}
	c.trail = trail

	catalog, err := frameworks.DefaultCatalog()
	if err != nil {
		c.close(ctx)
		return nil, err
	}
	c.catalog = catalog

	if cfg.ExtensionDir != "" {
		host, err := extension.NewHost(ctx, extension.HostConfig{Dir: cfg.ExtensionDir}, extension.WithLogger(logger))
		if err != nil {
			c.close(ctx)
			return nil, fmt.Errorf("load extensions: %w", err)
		}
		c.host = host
		catalog.Registry().SetResolver(host)
		logger.Info("extension modules loaded", "dir", cfg.ExtensionDir, "modules", strings.Join(host.Modules(), ","))
	}

	policies, err := newPolicyEngine(cfg, logger)
	if err != nil {
		c.close(ctx)
		return nil, err
	}

	engine, err := compliance.NewEngine(
		compliance.WithCatalog(catalog),
		compliance.WithPolicyEngine(policies),
		compliance.WithTrail(trail),
		compliance.WithLogger(logger),
		compliance.WithRequirementTimeout(cfg.RequirementTimeout),
	)
	if err != nil {
		c.close(ctx)
		return nil, err
	}
	c.engine = engine
	return c, nil
}

func (c *components) close(ctx context.Context) {
	if c.host != nil {
		if err := c.host.Close(ctx); err != nil {
			c.logger.Warn("close extension host", "error", err)
		}
	}
	if c.trail != nil {
		if err := c.trail.Close(); err != nil {
			c.logger.Warn("close audit trail", "error", err)
		}
	}
}

func newTrail(cfg *config.Config) (audit.Trail, error) {
	switch cfg.AuditBackend {
	case config.AuditBackendSQLite:
		return audit.NewSQLiteTrail(cfg.AuditDSN)
	case config.AuditBackendPostgres:
		return audit.NewPostgresTrail(cfg.AuditDSN)
	default:
		return audit.NewMemoryTrail(audit.WithRetention(audit.Retention{
			MaxEntries: cfg.AuditMaxEntries,
			MaxAge:     cfg.AuditMaxAge,
		})), nil
	}
}

// newPolicyEngine loads operator bundles from POLICY_DIR on top of the
// built-in defaults. A bundle reusing a default policy id wins over the
// default.
func newPolicyEngine(cfg *config.Config, logger *slog.Logger) (*policy.Engine, error) {
	e, err := policy.NewEngine(policy.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if cfg.PolicyDir != "" {
		loaded, err := policy.LoadDir(cfg.PolicyDir, compliance.Version)
		if err != nil {
			return nil, fmt.Errorf("load policies: %w", err)
		}
		if err := e.AddAll(loaded); err != nil {
			return nil, err
		}
		logger.Info("policy bundles loaded", "dir", cfg.PolicyDir, "policies", len(loaded))
	}

	for _, p := range policy.DefaultPolicies() {
		if err := e.Add(p); err != nil {
			if errors.Is(err, policy.ErrDuplicatePolicy) {
				continue
			}
			return nil, err
		}
	}
	return e, nil
}

// defaultContext resolves the validation context for requests that do
// not carry one: the profile named after the configured environment, or
// a bare context when no profile is present.
func defaultContext(cfg *config.Config, logger *slog.Logger) compliance.Context {
	if cfg.ProfileDir != "" {
		p, err := config.LoadProfile(cfg.ProfileDir, cfg.Environment)
		if err == nil {
			return p.Context()
		}
		logger.Warn("validation profile not loaded, using bare context",
			"dir", cfg.ProfileDir, "environment", cfg.Environment, "error", err)
	}
	return compliance.Context{Environment: cfg.Environment, Classification: "internal"}
}

func validationContext(cfg *config.Config, logger *slog.Logger, profileName string) (compliance.Context, error) {
	if profileName != "" {
		p, err := config.LoadProfile(cfg.ProfileDir, profileName)
		if err != nil {
			return compliance.Context{}, err
		}
		return p.Context(), nil
	}
	return defaultContext(cfg, logger), nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
