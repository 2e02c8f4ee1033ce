package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BlueflyCollective/openstandardagents/pkg/api"
	"github.com/BlueflyCollective/openstandardagents/pkg/attest"
	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
	"github.com/BlueflyCollective/openstandardagents/pkg/compliance/frameworks"
	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...api.Option) http.Handler {
	t.Helper()
	catalog, err := frameworks.DefaultCatalog()
	require.NoError(t, err)
	engine, err := compliance.NewEngine(
		compliance.WithCatalog(catalog),
		compliance.WithLogger(quietLogger()),
	)
	require.NoError(t, err)

	srv, err := api.NewServer(engine, append([]api.Option{api.WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return srv.Routes()
}

// governedAgent carries every section the built-in frameworks check, so
// it scores 100 against all of them in production.
func governedAgent() *manifest.Agent {
	a := &manifest.Agent{APIVersion: "ossa/v1", Kind: "Agent"}
	a.Metadata.Name = "claims-assistant"
	a.Metadata.Version = "3.0.1"
	a.Metadata.Description = "Handles first-notice-of-loss claims intake and routes complex cases to human adjusters."
	a.Metadata.Owner = "claims-platform"
	a.Spec.Capabilities.Domains = []string{"claims", "underwriting", "fraud"}
	a.Spec.Capabilities.Tools = []string{"sql.query", "doc.extract"}
	a.Spec.Protocols.Supported = []manifest.Protocol{
		{Name: "mcp", Version: "1.0", TLS: true},
		{Name: "a2a", Version: "0.3", TLS: true},
		{Name: "acp", Version: "1.1", TLS: true},
	}
	a.Spec.Conformance = manifest.Conformance{
		Level:        manifest.LevelGold,
		AuditLogging: true,
		FeedbackLoop: true,
		PropsTokens:  true,
	}
	a.Spec.Performance = &manifest.Performance{
		MaxTokensPerRequest: 8192,
		LatencyTargetMs:     900,
		ErrorBudget:         0.01,
	}
	a.Spec.Governance = &manifest.Governance{
		RiskClass:         "high",
		HumanOversight:    true,
		DataRetentionDays: 90,
		IncidentContact:   "ai-incidents@example.com",
	}
	return a
}

func agentJSON(t *testing.T, a *manifest.Agent) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(a)
	require.NoError(t, err)
	return raw
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]string
	decodeInto(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, compliance.Version, body["version"])
}

func TestReadyz(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeInto(t, rec, &body)
	assert.Equal(t, "ready", body["status"])
}

func TestValidate_CompliantAgent(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/validate", map[string]any{
		"agent":      agentJSON(t, governedAgent()),
		"context":    compliance.Context{Environment: compliance.EnvProduction, Classification: "confidential"},
		"frameworks": []string{"iso-42001", "nist-ai-rmf", "eu-ai-act"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result compliance.Result
	decodeInto(t, rec, &result)
	assert.True(t, result.Compliant)
	assert.Equal(t, 100.0, result.Score)
	assert.Empty(t, result.Findings)
	require.Len(t, result.AuditTrail, 1)
	assert.Equal(t, []string{"iso-42001", "nist-ai-rmf", "eu-ai-act"}, result.AuditTrail[0].Frameworks)
}

func TestValidate_SchemaInvalidManifestIsNotAnError(t *testing.T) {
	h := newTestServer(t)
	a := governedAgent()
	a.Kind = "Robot"

	rec := doJSON(t, h, http.MethodPost, "/v1/validate", map[string]any{
		"agent": agentJSON(t, a),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result compliance.Result
	decodeInto(t, rec, &result)
	assert.False(t, result.Compliant)
	assert.Equal(t, 0.0, result.Score)
	require.NotEmpty(t, result.Findings)
	assert.Equal(t, "spec/invalid-manifest", result.Findings[0].ID)
}

func TestValidate_BadRequests(t *testing.T) {
	h := newTestServer(t)

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/validate", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

		var problem api.ProblemDetail
		decodeInto(t, rec, &problem)
		assert.Equal(t, "Bad Request", problem.Title)
		assert.Contains(t, problem.Type, "/errors/400")
	})

	t.Run("missing agent", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/v1/validate", map[string]any{})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var problem api.ProblemDetail
		decodeInto(t, rec, &problem)
		assert.Contains(t, problem.Detail, "agent manifest is required")
	})

	t.Run("unparseable manifest", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/v1/validate", map[string]any{
			"agent": "apiVersion: ossa/v1",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestReport_SignedBatch(t *testing.T) {
	signer := attest.NewSigner(nil)
	h := newTestServer(t, api.WithSigner(signer))

	degraded := governedAgent()
	degraded.Metadata.Name = "faq-bot"
	degraded.Spec.Conformance.AuditLogging = false

	rec := doJSON(t, h, http.MethodPost, "/v1/reports", map[string]any{
		"agents":     []json.RawMessage{agentJSON(t, governedAgent()), agentJSON(t, degraded)},
		"context":    compliance.Context{Environment: compliance.EnvProduction, Classification: "confidential"},
		"frameworks": []string{"iso-42001"},
		"sign":       true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Report      *compliance.Report  `json:"report"`
		Attestation *attest.Attestation `json:"attestation"`
	}
	decodeInto(t, rec, &resp)

	require.NotNil(t, resp.Report)
	assert.Equal(t, 2, resp.Report.TotalAgents)
	assert.Len(t, resp.Report.Results, 2)

	// The attestation must survive the JSON round trip intact.
	require.NotNil(t, resp.Attestation)
	assert.Equal(t, resp.Report.ReportID, resp.Attestation.ReportID)
	require.NoError(t, attest.Verify(resp.Attestation, resp.Report))
}

func TestReport_BadRequests(t *testing.T) {
	h := newTestServer(t)

	t.Run("no agents", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/v1/reports", map[string]any{
			"agents": []json.RawMessage{},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("sign without signer", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/v1/reports", map[string]any{
			"agents": []json.RawMessage{agentJSON(t, governedAgent())},
			"sign":   true,
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var problem api.ProblemDetail
		decodeInto(t, rec, &problem)
		assert.Contains(t, problem.Detail, "signing is not configured")
	})

	t.Run("one bad manifest fails the batch", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/v1/reports", map[string]any{
			"agents": []json.RawMessage{agentJSON(t, governedAgent()), json.RawMessage(`"nope"`)},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var problem api.ProblemDetail
		decodeInto(t, rec, &problem)
		assert.Contains(t, problem.Detail, "agents[1]")
	})
}

func TestFrameworks_ListsCatalog(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/frameworks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Frameworks []compliance.Framework `json:"frameworks"`
		Count      int                    `json:"count"`
	}
	decodeInto(t, rec, &resp)
	require.Equal(t, 3, resp.Count)

	ids := make([]string, 0, len(resp.Frameworks))
	for _, fw := range resp.Frameworks {
		ids = append(ids, fw.ID)
		assert.NotEmpty(t, fw.Requirements)
	}
	assert.Equal(t, []string{"iso-42001", "nist-ai-rmf", "eu-ai-act"}, ids)
}

func TestPolicies_EmptyWithoutPolicyDir(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/policies", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	decodeInto(t, rec, &resp)
	assert.Equal(t, 0, resp.Count)
}

func TestAudit_WindowAndValidation(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/validate", map[string]any{
		"agent": agentJSON(t, governedAgent()),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("full trail", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/v1/audit", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Count int `json:"count"`
		}
		decodeInto(t, rec, &resp)
		assert.Equal(t, 1, resp.Count)
	})

	t.Run("future window is empty", func(t *testing.T) {
		since := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
		rec := doJSON(t, h, http.MethodGet, "/v1/audit?since="+since, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Count int `json:"count"`
		}
		decodeInto(t, rec, &resp)
		assert.Equal(t, 0, resp.Count)
	})

	t.Run("bad since", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/v1/audit?since=yesterday", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var problem api.ProblemDetail
		decodeInto(t, rec, &problem)
		assert.Contains(t, problem.Detail, "RFC 3339")
	})
}

func TestAuditVerify_Intact(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/validate", map[string]any{
		"agent": agentJSON(t, governedAgent()),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/audit/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Intact bool `json:"intact"`
	}
	decodeInto(t, rec, &resp)
	assert.True(t, resp.Intact)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/validate", nil)
	req.Header.Set("Origin", "https://console.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://console.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestUnknownRoute(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
