package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/BlueflyCollective/openstandardagents/pkg/attest"
	"github.com/BlueflyCollective/openstandardagents/pkg/audit"
	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
	"github.com/BlueflyCollective/openstandardagents/pkg/observability"
)

// maxBodyBytes caps request bodies. Fleet-sized batches belong in the
// CLI, not the API.
const maxBodyBytes = 1 << 20

// Server exposes the conformance engine over HTTP.
type Server struct {
	engine      *compliance.Engine
	signer      *attest.Signer
	defaultCtx  compliance.Context
	frameworks  []string
	auth        *Authenticator
	limiter     Limiter
	corsOrigins []string
	obs         *observability.Provider
	logger      *slog.Logger
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithSigner enables report attestation for requests that ask for it.
func WithSigner(s *attest.Signer) Option {
	return func(srv *Server) { srv.signer = s }
}

// WithAuthenticator installs bearer token authentication.
func WithAuthenticator(a *Authenticator) Option {
	return func(srv *Server) { srv.auth = a }
}

// WithLimiter installs per-actor rate limiting.
func WithLimiter(l Limiter) Option {
	return func(srv *Server) { srv.limiter = l }
}

// WithCORSOrigins restricts cross-origin access to the given origins.
func WithCORSOrigins(origins []string) Option {
	return func(srv *Server) { srv.corsOrigins = origins }
}

// WithObservability wires traces and RED metrics for request handling.
func WithObservability(p *observability.Provider) Option {
	return func(srv *Server) { srv.obs = p }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

// WithDefaultContext sets the validation context applied when a request
// does not carry one, typically loaded from a deployment profile.
func WithDefaultContext(c compliance.Context) Option {
	return func(srv *Server) { srv.defaultCtx = c }
}

// WithDefaultFrameworks sets the frameworks validated when a request
// does not name any.
func WithDefaultFrameworks(ids []string) Option {
	return func(srv *Server) { srv.frameworks = ids }
}

// NewServer builds the HTTP surface around an engine.
func NewServer(engine *compliance.Engine, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("api: engine is required")
	}
	s := &Server{
		engine: engine,
		defaultCtx: compliance.Context{
			Environment:    compliance.EnvDevelopment,
			Classification: "internal",
		},
		logger: slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.obs == nil {
		// Inert provider, keeps handlers free of nil checks.
		p, err := observability.New(context.Background(), nil)
		if err != nil {
			return nil, fmt.Errorf("api: init observability: %w", err)
		}
		s.obs = p
	}
	return s, nil
}

// Routes assembles the full handler chain. Auth runs before rate
// limiting so authenticated subjects are limited by identity rather
// than by source address.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("POST /v1/validate", s.handleValidate)
	mux.HandleFunc("POST /v1/reports", s.handleReport)
	mux.HandleFunc("GET /v1/frameworks", s.handleFrameworks)
	mux.HandleFunc("GET /v1/policies", s.handlePolicies)
	mux.HandleFunc("GET /v1/audit", s.handleAudit)
	mux.HandleFunc("GET /v1/audit/verify", s.handleVerifyAudit)

	var handler http.Handler = mux
	handler = RateLimitMiddleware(s.limiter, s.logger)(handler)
	if s.auth != nil {
		handler = AuthMiddleware(s.auth)(handler)
	}
	handler = CORSMiddleware(s.corsOrigins)(handler)
	handler = RequestIDMiddleware(handler)
	return handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": compliance.Version,
	})
}

// handleReadyz proves the audit trail is reachable before admitting
// traffic: an engine that cannot audit refuses to validate.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	if _, err := s.engine.AuditTrail(r.Context(), &now); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		WriteServiceUnavailable(w, "audit trail unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type validateRequest struct {
	Agent      json.RawMessage     `json:"agent"`
	Context    *compliance.Context `json:"context,omitempty"`
	Frameworks []string            `json:"frameworks,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if len(req.Agent) == 0 {
		WriteBadRequest(w, "agent manifest is required")
		return
	}

	agent, err := manifest.Parse(req.Agent)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	ctx, done := s.obs.TrackValidation(s.requestContext(r), "api.validate",
		attribute.String("agent", agent.Metadata.Name))
	result, err := s.engine.ValidateAgent(ctx, agent, s.validationContext(req.Context), s.frameworkIDs(req.Frameworks))
	done(err)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type reportRequest struct {
	Agents     []json.RawMessage   `json:"agents"`
	Context    *compliance.Context `json:"context,omitempty"`
	Frameworks []string            `json:"frameworks,omitempty"`
	Sign       bool                `json:"sign,omitempty"`
}

type reportResponse struct {
	Report      *compliance.Report  `json:"report"`
	Attestation *attest.Attestation `json:"attestation,omitempty"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if len(req.Agents) == 0 {
		WriteBadRequest(w, "at least one agent manifest is required")
		return
	}
	if req.Sign && s.signer == nil {
		WriteBadRequest(w, "report signing is not configured on this server")
		return
	}

	agents := make([]*manifest.Agent, 0, len(req.Agents))
	for i, raw := range req.Agents {
		a, err := manifest.Parse(raw)
		if err != nil {
			WriteBadRequest(w, fmt.Sprintf("agents[%d]: %v", i, err))
			return
		}
		agents = append(agents, a)
	}

	ctx, done := s.obs.TrackValidation(s.requestContext(r), "api.report",
		attribute.Int("agents", len(agents)))
	report, err := s.engine.GenerateReport(ctx, agents, s.validationContext(req.Context), s.frameworkIDs(req.Frameworks))
	done(err)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	resp := reportResponse{Report: report}
	if req.Sign {
		att, err := s.signer.Sign(report)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		resp.Attestation = att
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFrameworks(w http.ResponseWriter, _ *http.Request) {
	fws := s.engine.SupportedFrameworks()
	writeJSON(w, http.StatusOK, map[string]any{
		"frameworks": fws,
		"count":      len(fws),
	})
}

func (s *Server) handlePolicies(w http.ResponseWriter, _ *http.Request) {
	policies := s.engine.EnterprisePolicies()
	writeJSON(w, http.StatusOK, map[string]any{
		"policies": policies,
		"count":    len(policies),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteBadRequest(w, "since must be an RFC 3339 timestamp (e.g. 2026-01-02T15:04:05Z)")
			return
		}
		since = &t
	}

	entries, err := s.engine.AuditTrail(r.Context(), since)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	err := s.engine.VerifyAuditTrail(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"intact": true})
	case errors.Is(err, audit.ErrChainBroken):
		WriteErrorR(w, r, http.StatusConflict, "Audit Trail Integrity Violation", err.Error())
	default:
		WriteInternal(w, err)
	}
}

// requestContext carries the authenticated subject into the engine so
// audit entries name the requesting principal.
func (s *Server) requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	if actor := ActorFrom(ctx); actor != "" {
		ctx = compliance.WithRequestActor(ctx, actor)
	}
	return ctx
}

func (s *Server) validationContext(override *compliance.Context) compliance.Context {
	if override != nil {
		return *override
	}
	return s.defaultCtx
}

func (s *Server) frameworkIDs(requested []string) []string {
	if len(requested) > 0 {
		return requested
	}
	return s.frameworks
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
