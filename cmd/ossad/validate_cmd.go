package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
	"github.com/BlueflyCollective/openstandardagents/pkg/config"
	"github.com/BlueflyCollective/openstandardagents/pkg/manifest"
)

// runValidate implements `ossad validate`.
//
// Exit codes:
//
//	0 = agent is compliant
//	1 = agent is not compliant
//	2 = runtime or usage error
func runValidate(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		file         string
		frameworkCSV string
		profileName  string
		jsonOutput   bool
	)
	cmd.StringVar(&file, "f", "", "Agent manifest file, YAML or JSON (REQUIRED)")
	cmd.StringVar(&frameworkCSV, "frameworks", "", "Comma-separated framework ids (default: all registered)")
	cmd.StringVar(&profileName, "profile", "", "Validation profile name from PROFILE_DIR (default: the configured environment)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if file == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -f is required")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
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

	agent, err := manifest.Load(file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
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

	result, err := comps.engine.ValidateAgent(ctx, agent, vctx, ids)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: validation failed: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		printResult(stdout, agent, result)
	}

	if !result.Compliant {
		return 1
	}
	return 0
}

func printResult(w io.Writer, a *manifest.Agent, r *compliance.Result) {
	status := colorGreen + "COMPLIANT" + colorReset
	if !r.Compliant {
		status = colorRed + "NOT COMPLIANT" + colorReset
	}

	_, _ = fmt.Fprintf(w, "OSSA Validation Result\n")
	_, _ = fmt.Fprintf(w, "──────────────────────\n")
	_, _ = fmt.Fprintf(w, "Agent:  %s@%s\n", a.Metadata.Name, a.Metadata.Version)
	_, _ = fmt.Fprintf(w, "Status: %s\n", status)
	_, _ = fmt.Fprintf(w, "Score:  %.1f/100\n", r.Score)

	if len(r.Findings) > 0 {
		_, _ = fmt.Fprintf(w, "\nFindings (%d):\n", len(r.Findings))
		for _, f := range r.Findings {
			_, _ = fmt.Fprintf(w, "  [%s] %s: %s\n", strings.ToUpper(string(f.Severity)), f.ID, f.Description)
		}
	}
	if len(r.Recommendations) > 0 {
		_, _ = fmt.Fprintf(w, "\nRecommendations:\n")
		for _, rec := range r.Recommendations {
			_, _ = fmt.Fprintf(w, "  - %s\n", rec)
		}
	}
}
