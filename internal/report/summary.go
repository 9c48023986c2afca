package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/Dicklesworthstone/dappcheck/internal/scenario"
)

const defaultWidth = 100

// Printer writes human readable summaries. Styling is only applied when the
// writer is a terminal and NO_COLOR is unset.
type Printer struct {
	w     io.Writer
	color bool
	width int

	pass  lipgloss.Style
	fail  lipgloss.Style
	skip  lipgloss.Style
	dim   lipgloss.Style
	title lipgloss.Style
}

// NewPrinter inspects w to decide on colour and width.
func NewPrinter(w io.Writer) *Printer {
	p := &Printer{w: w, width: defaultWidth}
	if f, ok := w.(interface{ Fd() uintptr }); ok && isatty.IsTerminal(f.Fd()) {
		p.color = os.Getenv("NO_COLOR") == ""
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			p.width = cols
		}
	}
	p.pass = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	p.fail = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	p.skip = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	p.dim = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	p.title = lipgloss.NewStyle().Bold(true).Underline(true)
	return p
}

// Color reports whether output is styled.
func (p *Printer) Color() bool { return p.color }

// Width is the terminal width, or a default for non-terminals.
func (p *Printer) Width() int { return p.width }

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// Result prints a single line for one scenario, as results arrive.
func (p *Printer) Result(res scenario.ScenarioResult) {
	var badge string
	switch res.Status {
	case scenario.StatusPassed:
		badge = p.style(p.pass, "PASS")
	case scenario.StatusFailed:
		badge = p.style(p.fail, "FAIL")
	default:
		badge = p.style(p.skip, "SKIP")
	}
	line := fmt.Sprintf("%s  %s %s", badge, res.Name, p.style(p.dim, formatDuration(res.Duration)))
	if res.FailureKind != "" {
		line += " " + p.style(p.dim, "["+string(res.FailureKind)+"]")
	}
	fmt.Fprintln(p.w, line)
	if res.Error != "" && res.Status != scenario.StatusPassed {
		for _, l := range strings.Split(truncate(res.Error, p.width*4), "\n") {
			fmt.Fprintf(p.w, "      %s\n", l)
		}
	}
}

// Summary prints every result followed by the totals.
func (p *Printer) Summary(r *Report) {
	fmt.Fprintln(p.w, p.style(p.title, fmt.Sprintf("dappcheck run %s", r.RunID)))
	fmt.Fprintln(p.w, p.style(p.dim, fmt.Sprintf("driver %s  target %s", r.Driver, r.BaseURL)))
	fmt.Fprintln(p.w)
	for _, res := range r.Results {
		p.Result(res)
	}
	fmt.Fprintln(p.w)
	p.Totals(r.Summary)
}

// Totals prints the one-line count of passed, failed and skipped scenarios.
func (p *Printer) Totals(s scenario.Summary) {
	parts := []string{
		p.style(p.pass, fmt.Sprintf("%d passed", s.Passed)),
		p.style(p.fail, fmt.Sprintf("%d failed", s.Failed)),
	}
	if s.Skipped > 0 {
		parts = append(parts, p.style(p.skip, fmt.Sprintf("%d skipped", s.Skipped)))
	}
	fmt.Fprintf(p.w, "%s of %d in %s\n", strings.Join(parts, ", "), s.Total, formatDuration(s.Duration))
}

// Markdown renders the report as a markdown document.
func Markdown(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# dappcheck run `%s`\n\n", r.RunID)
	fmt.Fprintf(&b, "- **Started:** %s\n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Driver:** %s\n", r.Driver)
	if r.BaseURL != "" {
		fmt.Fprintf(&b, "- **Target:** %s\n", r.BaseURL)
	}
	if r.Environment.OS != "" {
		fmt.Fprintf(&b, "- **Host:** %s %s/%s, %d CPUs\n",
			r.Environment.Hostname, r.Environment.OS, r.Environment.Arch, r.Environment.LogicalCPUs)
	}
	fmt.Fprintf(&b, "- **Result:** %d passed, %d failed, %d skipped of %d\n\n",
		r.Summary.Passed, r.Summary.Failed, r.Summary.Skipped, r.Summary.Total)

	b.WriteString("| Scenario | Status | Failure | Duration |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, res := range r.Results {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			res.Name, res.Status, res.FailureKind, formatDuration(res.Duration))
	}

	if misses := r.NearMisses(); len(misses) > 0 {
		b.WriteString("\n## Near misses\n\n")
		b.WriteString("| Scenario | Step | Similarity |\n")
		b.WriteString("|---|---|---|\n")
		for _, m := range misses {
			fmt.Fprintf(&b, "| %s | %d: %s | %.0f%% |\n", m.Scenario, m.Step+1, m.Name, m.Similarity*100)
		}
	}

	failed := r.Failed()
	if len(failed) == 0 {
		return b.String()
	}
	b.WriteString("\n## Failures\n")
	for _, res := range failed {
		fmt.Fprintf(&b, "\n### %s\n\n", res.Name)
		if res.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", res.Description)
		}
		fmt.Fprintf(&b, "```\n%s\n```\n", res.Error)
		if len(res.Exchanges) > 0 {
			b.WriteString("\nExchanges:\n\n")
			for _, ex := range res.Exchanges {
				fmt.Fprintf(&b, "- `@%s` %s %s -> %d\n", ex.Alias, ex.Method, ex.Path, ex.Status)
			}
		}
		if len(res.Unmatched) > 0 {
			b.WriteString("\nUnmatched requests:\n\n")
			for _, u := range res.Unmatched {
				fmt.Fprintf(&b, "- %s\n", u)
			}
		}
		if len(res.Artifacts) > 0 {
			b.WriteString("\nArtifacts:\n\n")
			for _, a := range res.Artifacts {
				fmt.Fprintf(&b, "- %s\n", a)
			}
		}
	}
	return b.String()
}

// RenderMarkdown renders md for the terminal through glamour.
func RenderMarkdown(md string, width int, color bool) (string, error) {
	style := glamour.WithStandardStyle("notty")
	if color {
		style = glamour.WithAutoStyle()
	}
	if width <= 0 {
		width = defaultWidth
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return "", fmt.Errorf("creating markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return out, nil
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}

// truncate cuts s to n terminal cells without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	return runewidth.Truncate(s, n, "...")
}
