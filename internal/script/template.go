package script

import (
	"errors"
	"strings"
)

// Template tag delimiters.
const (
	BeginTag = "${"
	EndTag   = "}$"
)

// Command marker: everything after it on a line is a command.
const CommandMarker = ">>> "

var (
	errMissingBegin = errors.New("mismatched tag ('}$' without beginning '${')")
	errMissingEnd   = errors.New("mismatched tag ('${' without ending '}$')")
)

// Segment is a piece of a template line: literal text or an expression.
type Segment struct {
	Text   string
	IsExpr bool
	// Column is the 1-based column where Text starts.
	Column int
}

// SplitTemplate splits a template line into literal and expression segments.
// Empty literals are dropped.
func SplitTemplate(line string) ([]Segment, error) {
	var segments []Segment
	pos := 0
	for {
		rest := line[pos:]
		begin := strings.Index(rest, BeginTag)
		end := strings.Index(rest, EndTag)

		switch {
		case begin < 0 && end < 0:
			if rest != "" {
				segments = append(segments, Segment{Text: rest, Column: pos + 1})
			}
			return segments, nil
		case begin < 0:
			return nil, errMissingBegin
		case end < 0:
			return nil, errMissingEnd
		case begin > end:
			return nil, errMissingBegin
		}

		if begin > 0 {
			segments = append(segments, Segment{Text: rest[:begin], Column: pos + 1})
		}
		segments = append(segments, Segment{
			Text:   rest[begin+len(BeginTag) : end],
			IsExpr: true,
			Column: pos + begin + len(BeginTag) + 1,
		})
		pos += end + len(EndTag)
	}
}

// SplitCommand returns the command on a line, if the line carries the
// command marker. The trailing line break is removed.
func SplitCommand(line string) (string, bool) {
	idx := strings.Index(line, CommandMarker)
	if idx < 0 {
		return "", false
	}
	cmd := strings.TrimSuffix(line[idx+len(CommandMarker):], "\n")
	cmd = strings.TrimSuffix(cmd, "\r")
	return cmd, true
}
