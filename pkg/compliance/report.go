package compliance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
)

// AgentResult pairs an agent name with its validation result inside a
// report.
type AgentResult struct {
	Agent  string  `json:"agent"`
	Result *Result `json:"result"`
}

// Report is the aggregate outcome of validating a fleet of agents
// against a shared context and framework set.
type Report struct {
	ReportID         string        `json:"reportId"`
	GeneratedAt      time.Time     `json:"generatedAt"`
	Frameworks       []string      `json:"frameworks"`
	TotalAgents      int           `json:"totalAgents"`
	CompliantAgents  int           `json:"compliantAgents"`
	AverageScore     float64       `json:"averageScore"`
	CriticalFindings int           `json:"criticalFindings"`
	Recommendations  []string      `json:"recommendations"`
	Results          []AgentResult `json:"results"`
}

// GenerateReport validates each agent in order and aggregates the
// results. Schema-invalid agents contribute zero-score results like
// any other; only an engine fault aborts the batch. Recommendations
// are deduplicated across agents in first-seen order, and Frameworks
// carries display names for registered ids, raw ids otherwise.
func (e *Engine) GenerateReport(ctx context.Context, agents []*manifest.Agent, c Context, frameworkIDs []string) (*Report, error) {
	report := &Report{
		ReportID:        uuid.New().String(),
		GeneratedAt:     e.clock().UTC(),
		Frameworks:      e.frameworkNames(frameworkIDs),
		TotalAgents:     len(agents),
		Recommendations: []string{},
		Results:         make([]AgentResult, 0, len(agents)),
	}

	seen := make(map[string]struct{})
	total := 0.0
	for _, a := range agents {
		result, err := e.ValidateAgent(ctx, a, c, frameworkIDs)
		if err != nil {
			return nil, err
		}
		report.Results = append(report.Results, AgentResult{Agent: agentName(a), Result: result})
		total += result.Score
		if result.Compliant {
			report.CompliantAgents++
		}
		for _, f := range result.Findings {
			if f.Severity == SeverityCritical {
				report.CriticalFindings++
			}
		}
		for _, rec := range result.Recommendations {
			if _, dup := seen[rec]; dup {
				continue
			}
			seen[rec] = struct{}{}
			report.Recommendations = append(report.Recommendations, rec)
		}
	}
	if len(agents) > 0 {
		report.AverageScore = total / float64(len(agents))
	}

	e.logger.Info("compliance report generated",
		"report", report.ReportID,
		"agents", report.TotalAgents,
		"compliant", report.CompliantAgents,
		"critical_findings", report.CriticalFindings)
	return report, nil
}

func (e *Engine) frameworkNames(ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if fw, ok := e.catalog.Get(id); ok {
			names = append(names, fw.Name)
			continue
		}
		names = append(names, id)
	}
	return names
}
