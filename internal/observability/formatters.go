// Package observability formats run events and results for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/animation-agent/internal/diagnose"
	"github.com/jonathan/animation-agent/internal/pipeline"
	"github.com/jonathan/animation-agent/internal/registry"
	"github.com/jonathan/animation-agent/internal/validation"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the CLI.
type Printer struct {
	out     io.Writer
	verbose bool
}

// NewPrinter creates a new Printer that writes to the given writer. Heartbeats
// are only printed when verbose is set.
func NewPrinter(out io.Writer, verbose bool) *Printer {
	return &Printer{out: out, verbose: verbose}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for _, line := range lines {
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintEvent writes one streamed event as a single prefixed line, followed by
// any frames or videos it carries.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintEvent(ev pipeline.Event) {
	var prefix string
	switch ev.Event {
	case pipeline.EventHeartbeat:
		if !p.verbose {
			return
		}
		prefix = "…"
	case pipeline.EventError:
		prefix = "✗"
	case pipeline.EventCompleted:
		prefix = "■"
	default:
		prefix = "•"
	}
	fmt.Fprintf(p.out, "%s %s\n", prefix, ev.Content)

	count := min(len(ev.Images), maxItemsToShow)
	for i := 0; i < count; i++ {
		fmt.Fprintf(p.out, "    frame  %s\n", ev.Images[i].URL)
	}
	if len(ev.Images) > maxItemsToShow {
		fmt.Fprintf(p.out, "    ... and %d more\n", len(ev.Images)-maxItemsToShow)
	}
	if ev.Event == pipeline.EventCompleted {
		for _, v := range ev.Videos {
			fmt.Fprintf(p.out, "    video  %s\n", v.URL)
		}
	}
}

// PrintSnapshot outputs a summary of a run.
func (p *Printer) PrintSnapshot(snap registry.Snapshot) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Run:      %s\n", snap.RunID))
	sb.WriteString(fmt.Sprintf("State:    %s\n", snap.State))
	sb.WriteString(fmt.Sprintf("Message:  %s\n", snap.Message))
	if snap.Error != nil {
		sb.WriteString(fmt.Sprintf("Error:    %s\n", *snap.Error))
	}
	if snap.StartedAt != nil && snap.EndedAt != nil {
		sb.WriteString(fmt.Sprintf("Duration: %s\n", snap.EndedAt.Sub(*snap.StartedAt).Round(100*time.Millisecond)))
	}
	if len(snap.Artifacts) > 0 {
		sb.WriteString("\nArtifacts:\n")
		count := min(len(snap.Artifacts), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s\n", snap.Artifacts[i]))
		}
		if len(snap.Artifacts) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(snap.Artifacts)-maxItemsToShow))
		}
	}

	p.printBox("RUN SUMMARY", sb.String())
}

// PrintClassification outputs a classified runtime error.
func (p *Printer) PrintClassification(c diagnose.Classification) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Category:  %s\n", c.Category))
	sb.WriteString(fmt.Sprintf("Auto-fix:  %t\n", c.AllowFix))
	sb.WriteString("\n")
	sb.WriteString(wrap(c.Message, boxWidth-4))
	p.printBox("RUNTIME ERROR", sb.String())
}

// PrintValidation outputs the result of a validation pass.
func (p *Printer) PrintValidation(path string, r validation.Result) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("File:  %s\n", path))
	if r.OK {
		sb.WriteString("✓ Scene source is valid")
	} else {
		sb.WriteString("✗ ")
		sb.WriteString(wrap(r.Error, boxWidth-6))
		if r.Details != "" {
			sb.WriteString("\n\n")
			sb.WriteString(r.Details)
		}
	}
	p.printBox("VALIDATION", sb.String())
}

// wrap breaks s on spaces so no line exceeds width where possible.
func wrap(s string, width int) string {
	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(s) {
		if cur.Len() > 0 && cur.Len()+1+len(word) > width {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return strings.Join(lines, "\n")
}
