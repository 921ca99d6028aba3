// Package report renders evaluation reports as markdown, styled terminal
// output or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/akhenakh/rankfuse/internal/fusion"
	"github.com/akhenakh/rankfuse/internal/pipeline"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("5"))

	bestStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("2"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

type Options struct {
	// Pretty renders the markdown for a terminal instead of writing it raw.
	Pretty bool
	// Width is the word wrap width for pretty output, 0 uses 100.
	Width int
}

// Markdown formats r as a markdown document.
func Markdown(r *pipeline.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Fusion evaluation\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n", r.RunID)
	fmt.Fprintf(&b, "- Signals: %s\n", strings.Join(r.Signals, ", "))
	fmt.Fprintf(&b, "- Queries: %d (%d evaluated, %d skipped)\n", r.Queries, len(r.Outcomes), len(r.Skipped))
	if r.Cutoff > 0 {
		fmt.Fprintf(&b, "- Cutoff: NDCG@%d\n", r.Cutoff)
	}
	fmt.Fprintf(&b, "- Duration: %s\n\n", r.Duration.Round(time.Millisecond))

	b.WriteString("## Mean NDCG\n\n")
	b.WriteString("| Algorithm | Mean NDCG | Evaluated | Excluded |\n")
	b.WriteString("|---|---:|---:|---:|\n")
	best, hasBest := r.Best()
	for _, s := range r.Summaries {
		name := string(s.Algorithm)
		if hasBest && s.Algorithm == best.Algorithm {
			name = "**" + name + "**"
		}
		fmt.Fprintf(&b, "| %s | %.4f | %d | %d |\n", name, s.Mean, s.Evaluated, s.Excluded)
	}
	b.WriteString("\n")

	if len(r.Skipped) > 0 {
		b.WriteString("## Skipped queries\n\n")
		for _, s := range r.Skipped {
			fmt.Fprintf(&b, "- `%s`: %s\n", s.QueryID, s.Reason)
		}
		b.WriteString("\n")
	}

	if degenerate := degenerateCount(r); degenerate > 0 {
		fmt.Fprintf(&b, "_%d degenerate score distributions contributed 0._\n\n", degenerate)
	}

	if len(r.Outcomes) > 0 && len(r.Summaries) > 0 {
		b.WriteString("## Per query\n\n| Query |")
		for _, s := range r.Summaries {
			fmt.Fprintf(&b, " %s |", s.Algorithm)
		}
		b.WriteString("\n|---|")
		for range r.Summaries {
			b.WriteString("---:|")
		}
		b.WriteString("\n")
		for _, o := range r.Outcomes {
			fmt.Fprintf(&b, "| %s |", o.QueryID)
			for _, res := range o.Results {
				if res.Excluded {
					b.WriteString(" n/a |")
					continue
				}
				fmt.Fprintf(&b, " %.4f |", res.NDCG)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

func degenerateCount(r *pipeline.Report) int {
	n := 0
	for _, o := range r.Outcomes {
		for _, res := range o.Results {
			n += len(res.Degenerate)
		}
	}
	return n
}

// Render writes r to w, through glamour when opts.Pretty is set.
func Render(w io.Writer, r *pipeline.Report, opts Options) error {
	md := Markdown(r)
	if !opts.Pretty {
		_, err := io.WriteString(w, md)
		return err
	}

	width := opts.Width
	if width <= 0 {
		width = 100
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return err
	}
	out, err := renderer.Render(md)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, out); err != nil {
		return err
	}

	if best, ok := r.Best(); ok {
		_, err = fmt.Fprintln(w, bestStyle.Render(fmt.Sprintf("Best: %s (%.4f)", best.Algorithm, best.Mean)))
	} else {
		_, err = fmt.Fprintln(w, warnStyle.Render("No query could be evaluated"))
	}
	return err
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r *pipeline.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Table formats the fused scores of res for a terminal.
func Table(res *fusion.Result) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s fusion", res.Algorithm)))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%-4s  %-24s  %12s", "#", "id", "score")))
	b.WriteString("\n")
	for i, row := range res.Table() {
		fmt.Fprintf(&b, "%-4d  %-24s  %12.6f\n", i+1, row.ID, row.Score)
	}
	for _, d := range res.Degenerate {
		b.WriteString(warnStyle.Render(fmt.Sprintf("signal %d has a degenerate distribution and contributes 0", d.Signal)))
		b.WriteString("\n")
	}
	return b.String()
}
