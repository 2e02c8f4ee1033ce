package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/BlueflyCollective/openstandardagents/pkg/compliance/frameworks"
)

// runFrameworks lists the built-in regulatory framework catalog.
func runFrameworks(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("frameworks", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var jsonOutput bool
	cmd.BoolVar(&jsonOutput, "json", false, "Output catalog as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	catalog, err := frameworks.DefaultCatalog()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(catalog.List(), "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}

	for _, fw := range catalog.List() {
		_, _ = fmt.Fprintf(stdout, "%s%s%s  %s\n", colorBold, fw.ID, colorReset, fw.Name)
		_, _ = fmt.Fprintf(stdout, "  version %s, authority %s, %d requirements\n", fw.Version, fw.Authority, len(fw.Requirements))
		for _, m := range fw.Mappings {
			_, _ = fmt.Fprintf(stdout, "    %-6s %d requirements\n", m.Level, len(m.RequirementIDs))
		}
		_, _ = fmt.Fprintln(stdout, "")
	}
	return 0
}
