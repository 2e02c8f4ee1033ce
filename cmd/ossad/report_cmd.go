package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BlueflyCollective/openstandardagents/pkg/attest"
	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
	"github.com/BlueflyCollective/openstandardagents/pkg/config"
	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
	"github.com/BlueflyCollective/openstandardagents/pkg/registry"
)

// signedReport is the report command's output document. It matches the
// API's report response so downstream tooling can consume either.
type signedReport struct {
	Report      *compliance.Report  `json:"report"`
	Attestation *attest.Attestation `json:"attestation,omitempty"`
}

// runReport implements `ossad report`.
//
// Exit codes:
//
//	0 = every agent is compliant
//	1 = at least one agent is not compliant
//	2 = runtime or usage error
func runReport(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("report", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dir          string
		frameworkCSV string
		profileName  string
		sign         bool
		jsonOutput   bool
		outPath      string
	)
	cmd.StringVar(&dir, "d", "", "Directory of agent manifests, *.yaml|*.yml|*.json (REQUIRED)")
	cmd.StringVar(&frameworkCSV, "frameworks", "", "Comma-separated framework ids (default: all registered)")
	cmd.StringVar(&profileName, "profile", "", "Validation profile name from PROFILE_DIR (default: the configured environment)")
	cmd.BoolVar(&sign, "sign", false, "Attach an ed25519 attestation (requires ATTEST_MASTER_SECRET)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output report as JSON")
	cmd.StringVar(&outPath, "out", "", "Also write the JSON report to this file")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if dir == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -d is required")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if sign && cfg.AttestSecret == "" {
		_, _ = fmt.Fprintln(stderr, "Error: ATTEST_MASTER_SECRET is required for -sign")
		return 2
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	comps, err := newComponents(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer comps.close(ctx)

	reg, err := loadManifestDir(dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	agents := reg.List()
	if len(agents) == 0 {
		_, _ = fmt.Fprintf(stderr, "Error: no agent manifests found in %s\n", dir)
		return 2
	}

	vctx, err := validationContext(cfg, logger, profileName)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ids := splitCSV(frameworkCSV)
	if len(ids) == 0 {
		ids = comps.catalog.IDs()
	}

	report, err := comps.engine.GenerateReport(ctx, agents, vctx, ids)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: report generation failed: %v\n", err)
		return 2
	}

	doc := signedReport{Report: report}
	if sign {
		provider, err := attest.DeriveProvider([]byte(cfg.AttestSecret), cfg.AttestScope)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: derive attestation key: %v\n", err)
			return 2
		}
		doc.Attestation, err = attest.NewSigner(provider).Sign(report)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: sign report: %v\n", err)
			return 2
		}
	}

	if outPath != "" {
		data, _ := json.MarshalIndent(doc, "", "  ")
		if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: write report: %v\n", err)
			return 2
		}
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(doc, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		printReport(stdout, doc)
	}

	if report.CompliantAgents < report.TotalAgents {
		return 1
	}
	return 0
}

// loadManifestDir parses every manifest in dir into a registry. The
// registry de-duplicates by agent name, last manifest wins.
func loadManifestDir(dir string) (*registry.InMemoryRegistry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read manifest dir: %w", err)
	}

	reg := registry.NewInMemoryRegistry()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		a, err := manifest.Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if err := reg.Register(a); err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
	}
	return reg, nil
}

func printReport(w io.Writer, doc signedReport) {
	report := doc.Report

	_, _ = fmt.Fprintf(w, "OSSA Compliance Report\n")
	_, _ = fmt.Fprintf(w, "──────────────────────\n")
	_, _ = fmt.Fprintf(w, "Report ID:  %s\n", report.ReportID)
	_, _ = fmt.Fprintf(w, "Generated:  %s\n", report.GeneratedAt.Format(time.RFC3339))
	if len(report.Frameworks) > 0 {
		_, _ = fmt.Fprintf(w, "Frameworks: %s\n", strings.Join(report.Frameworks, ", "))
	}
	_, _ = fmt.Fprintf(w, "Agents:     %d total, %d compliant\n", report.TotalAgents, report.CompliantAgents)
	_, _ = fmt.Fprintf(w, "Avg score:  %.1f\n", report.AverageScore)
	_, _ = fmt.Fprintf(w, "Critical:   %d\n\n", report.CriticalFindings)

	for _, res := range report.Results {
		mark := colorGreen + "PASS" + colorReset
		if !res.Result.Compliant {
			mark = colorRed + "FAIL" + colorReset
		}
		_, _ = fmt.Fprintf(w, "  %s  %-32s %6.1f  (%d findings)\n",
			mark, res.Agent, res.Result.Score, len(res.Result.Findings))
	}

	if len(report.Recommendations) > 0 {
		_, _ = fmt.Fprintf(w, "\nRecommendations:\n")
		for _, rec := range report.Recommendations {
			_, _ = fmt.Fprintf(w, "  - %s\n", rec)
		}
	}

	if doc.Attestation != nil {
		_, _ = fmt.Fprintf(w, "\nAttestation:\n")
		_, _ = fmt.Fprintf(w, "  Payload hash: %s\n", doc.Attestation.PayloadHash)
		_, _ = fmt.Fprintf(w, "  Public key:   %s\n", doc.Attestation.PublicKey)
		_, _ = fmt.Fprintf(w, "  Signed at:    %s\n", doc.Attestation.SignedAt.Format(time.RFC3339))
	}
}
