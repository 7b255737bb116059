package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/sergi/go-diff/diffmatchpatch"

	"btstest/internal/session"
)

var (
	passStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	skipStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
	delStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	insStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// Console prints results as they complete. It is safe for concurrent use.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

// NewConsole writes to w. verbose adds a character diff per mismatch.
func NewConsole(w io.Writer, verbose bool) *Console {
	return &Console{w: w, verbose: verbose}
}

func badge(o Outcome) string {
	text := fmt.Sprintf("%-5s", string(o))
	switch o {
	case Pass:
		return passStyle.Render(text)
	case Fail:
		return failStyle.Render(text)
	case Error:
		return errorStyle.Render(text)
	default:
		return skipStyle.Render(text)
	}
}

// Result prints one test directory.
func (c *Console) Result(r *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.w, "%s %s %s\n", badge(r.Outcome()), r.Name, dimStyle.Render(r.Duration.Round(time.Millisecond).String()))

	if r.Err != nil {
		fmt.Fprintf(c.w, "      error: %v\n", r.Err)
	}
	for _, client := range r.Clients {
		if client.Failures == 0 && len(client.Mismatches) == 0 {
			continue
		}
		fmt.Fprintf(c.w, "      %s: %d failure(s)\n", client.Name, client.Failures)
		for _, m := range client.Mismatches {
			c.mismatch(m)
		}
	}
}

func (c *Console) mismatch(m session.Mismatch) {
	loc := ""
	if m.File != "" {
		loc = fmt.Sprintf("%s:%d ", m.File, m.Line)
	}
	marker := "*"
	if !m.Counted {
		marker = " "
	}
	fmt.Fprintf(c.w, "      %s %safter %q\n", marker, loc, m.Command)
	fmt.Fprintf(c.w, "          expected %s\n", m.ExpectedPreview())
	fmt.Fprintf(c.w, "          got      %s\n", m.ActualPreview())
	if c.verbose {
		fmt.Fprintf(c.w, "          diff     %s\n", Diff(m.Expected, m.Actual))
	}
}

// Diff renders a character-level diff of expected against actual. Deleted
// text is what the script expected and the node did not print.
func Diff(expected, actual string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(expected, actual, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		text := strings.Trim(fmt.Sprintf("%q", d.Text), `"`)
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			b.WriteString(delStyle.Render("[-" + text + "-]"))
		case diffmatchpatch.DiffInsert:
			b.WriteString(insStyle.Render("{+" + text + "+}"))
		case diffmatchpatch.DiffEqual:
			if len(text) > 50 {
				text = text[:23] + "..." + text[len(text)-24:]
			}
			b.WriteString(text)
		}
	}
	return b.String()
}

// Summary prints the final tally.
func (c *Console) Summary(results []*Result, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summarize(results)
	parts := []string{fmt.Sprintf("%d passed", s.Passed)}
	if s.Failed > 0 {
		parts = append(parts, failStyle.Render(fmt.Sprintf("%d failed", s.Failed)))
	}
	if s.Errored > 0 {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("%d errored", s.Errored)))
	}
	if s.Skipped > 0 {
		parts = append(parts, skipStyle.Render(fmt.Sprintf("%d skipped", s.Skipped)))
	}
	fmt.Fprintf(c.w, "\n%d test(s): %s in %s\n", s.Total, strings.Join(parts, ", "), elapsed.Round(time.Millisecond))
}
