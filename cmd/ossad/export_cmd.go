package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/BlueflyCollective/openstandardagents/pkg/config"
	"github.com/BlueflyCollective/openstandardagents/pkg/export"
)

// runExport implements `ossad export`: it bundles the audit trail into
// a self-verifying evidence document and writes it to the sink selected
// by EXPORT_SINK_TYPE.
//
// Exit codes:
//
//	0 = bundle written
//	1 = nothing to export
//	2 = runtime or usage error
func runExport(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		sinceRaw   string
		jsonOutput bool
	)
	cmd.StringVar(&sinceRaw, "since", "", "Only export entries at or after this RFC 3339 timestamp")
	cmd.BoolVar(&jsonOutput, "json", false, "Output bundle summary as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	var since *time.Time
	if sinceRaw != "" {
		t, err := time.Parse(time.RFC3339, sinceRaw)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: -since must be RFC 3339 (e.g. 2026-01-02T15:04:05Z): %v\n", err)
			return 2
		}
		since = &t
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	logger := newLogger(cfg)
	ctx := context.Background()

	trail, err := newTrail(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() {
		if err := trail.Close(); err != nil {
			logger.Warn("close audit trail", "error", err)
		}
	}()

	sink, err := export.NewSinkFromEnv(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	exporter := export.NewExporter(trail, sink, export.WithLogger(logger))
	bundle, location, err := exporter.Export(ctx, since)
	if err != nil {
		if errors.Is(err, export.ErrNoEntries) {
			_, _ = fmt.Fprintln(stderr, "No audit entries to export")
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]any{
			"bundleId":   bundle.BundleID,
			"createdAt":  bundle.CreatedAt,
			"entries":    len(bundle.Entries),
			"chainHead":  bundle.ChainHead,
			"bundleHash": bundle.BundleHash,
			"location":   location,
		}, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "Evidence Bundle\n")
	_, _ = fmt.Fprintf(stdout, "───────────────\n")
	_, _ = fmt.Fprintf(stdout, "Bundle ID:   %s\n", bundle.BundleID)
	_, _ = fmt.Fprintf(stdout, "Created:     %s\n", bundle.CreatedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(stdout, "Entries:     %d\n", len(bundle.Entries))
	_, _ = fmt.Fprintf(stdout, "Chain head:  %s\n", bundle.ChainHead)
	_, _ = fmt.Fprintf(stdout, "Bundle hash: %s\n", bundle.BundleHash)
	_, _ = fmt.Fprintf(stdout, "Written to:  %s\n", location)
	return 0
}
