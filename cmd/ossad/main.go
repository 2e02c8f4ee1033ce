// Command ossad is the operational entrypoint for the OSSA conformance
// engine: the validation API server plus one-shot validate, report,
// frameworks, and evidence-export commands.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BlueflyCollective/openstandardagents/pkg/compliance"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(nil, stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServe(args[2:], stdout, stderr)
	case "validate":
		return runValidate(args[2:], stdout, stderr)
	case "report":
		return runReport(args[2:], stdout, stderr)
	case "frameworks":
		return runFrameworks(args[2:], stdout, stderr)
	case "export":
		return runExport(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "ossad %s\n", compliance.Version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return runServe(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	colorReset = "\033[0m"
	colorBold  = "\033[1m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorBlue  = "\033[34m"
	colorCyan  = "\033[36m"
	colorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sOSSA Conformance Engine %s%s\n", colorBold+colorBlue, compliance.Version, colorReset)
	fmt.Fprintf(w, "%sValidate agent manifests against conformance levels, enterprise policies, and regulatory frameworks.%s\n", colorGray, colorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", colorBold, colorReset)
	fmt.Fprintln(w, "  ossad <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "SERVER")
	printCommand(w, "serve", "Run the validation API server (default)")

	printSection(w, "VALIDATION")
	printCommand(w, "validate", "Validate one manifest (-f manifest.yaml)")
	printCommand(w, "report", "Batch-validate a manifest directory (-d dir)")
	printCommand(w, "frameworks", "List the registered regulatory frameworks")

	printSection(w, "EVIDENCE")
	printCommand(w, "export", "Export the audit trail as a verifiable bundle")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", colorBold+colorCyan, title, colorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", colorGreen, name, colorReset, desc)
}
