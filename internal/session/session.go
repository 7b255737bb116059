// Package session tracks one client's command output and matches scripted
// expectations against it.
//
// Output is consumed left to right through a cursor. The first mismatch after
// each command counts as a failure; later mismatches for the same command are
// reported but not counted.
package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/ansi"

	"btstest/internal/logger"
)

// EndOfOutput is the expectation reported when a new command is issued while
// output from the previous one is still unread.
const EndOfOutput = "<end of command output>"

// PreviewLimit is the number of characters shown for expected and actual text.
const PreviewLimit = 40

// Executor runs a command line on a node and returns its text output.
type Executor interface {
	CallString(ctx context.Context, method string, args ...any) (string, error)
}

// Mismatch is one failed expectation.
type Mismatch struct {
	Client   string `yaml:"client"`
	Command  string `yaml:"command"`
	Expected string `yaml:"expected"`
	// Actual is the unread output at the cursor when the expectation failed.
	Actual string `yaml:"actual"`
	// Counted is true for the first mismatch of a command.
	Counted bool   `yaml:"counted"`
	File    string `yaml:"file,omitempty"`
	Line    int    `yaml:"line,omitempty"`
}

// ExpectedPreview is Expected truncated for display.
func (m Mismatch) ExpectedPreview() string {
	return Preview(m.Expected)
}

// ActualPreview is Actual truncated for display.
func (m Mismatch) ActualPreview() string {
	return Preview(m.Actual)
}

// Preview quotes s, truncated to PreviewLimit characters with a trailing " ...".
func Preview(s string) string {
	r := []rune(s)
	if len(r) > PreviewLimit {
		return fmt.Sprintf("%q ...", string(r[:PreviewLimit]))
	}
	return fmt.Sprintf("%q", s)
}

// Option customises a Session.
type Option func(*Session)

// WithStripANSI removes terminal escape sequences from command output.
func WithStripANSI(strip bool) Option {
	return func(s *Session) { s.stripANSI = strip }
}

// WithMismatchHook is called for every mismatch before it is stored.
// The hook may fill in location fields.
func WithMismatchHook(hook func(*Mismatch)) Option {
	return func(s *Session) { s.hooks = append(s.hooks, hook) }
}

// Session is the matcher state for one named client.
type Session struct {
	name      string
	exec      Executor
	stripANSI bool
	hooks     []func(*Mismatch)
	log       *log.Logger

	output       string
	cursor       int
	failed       bool
	failureCount int
	lastCommand  string
	mismatches   []Mismatch
	patterns     map[string]*regexp.Regexp
}

// New creates a session named name that runs commands through exec.
func New(name string, exec Executor, opts ...Option) *Session {
	s := &Session{
		name:     name,
		exec:     exec,
		patterns: make(map[string]*regexp.Regexp),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.NewStyledLogger("session").With("client", name)
	return s
}

// Name returns the client name.
func (s *Session) Name() string { return s.name }

// Output returns the output of the last command.
func (s *Session) Output() string { return s.output }

// Cursor returns the position of the first unread character.
func (s *Session) Cursor() int { return s.cursor }

// Failed reports whether the current command has mismatched.
func (s *Session) Failed() bool { return s.failed }

// FailureCount is the number of commands with at least one mismatch.
func (s *Session) FailureCount() int { return s.failureCount }

// Mismatches returns every mismatch recorded so far.
func (s *Session) Mismatches() []Mismatch {
	return append([]Mismatch(nil), s.mismatches...)
}

// Remaining returns the unread output.
func (s *Session) Remaining() string {
	return s.output[s.cursor:]
}

// Reset replaces the output with a new command result.
func (s *Session) Reset(output string) {
	if s.stripANSI {
		output = ansi.Strip(output)
	}
	s.output = output
	s.cursor = 0
	s.failed = false
}

// ExpectLiteral consumes text if the unread output starts with it.
func (s *Session) ExpectLiteral(text string) bool {
	if strings.HasPrefix(s.output[s.cursor:], text) {
		s.cursor += len(text)
		return true
	}
	s.fail(text)
	return false
}

// ExpectPattern matches pattern anchored at the cursor. On success the cursor
// moves to the end of the match and the named groups are returned. An invalid
// pattern is an error; a pattern that does not match is a mismatch.
func (s *Session) ExpectPattern(pattern string) (map[string]string, bool, error) {
	re, err := s.compile(pattern)
	if err != nil {
		return nil, false, err
	}

	// Match against the unread tail only; \A in the compiled form anchors it.
	rest := s.output[s.cursor:]
	loc := re.FindStringSubmatchIndex(rest)
	if loc == nil {
		s.fail(pattern)
		return nil, false, nil
	}

	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		// Unnamed groups and groups that did not take part are left out
		if name == "" || loc[2*i] < 0 {
			continue
		}
		groups[name] = rest[loc[2*i]:loc[2*i+1]]
	}
	s.cursor += loc[1]
	return groups, true, nil
}

func (s *Session) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := s.patterns[pattern]; ok {
		return re, nil
	}
	// Wrap in a group so alternations stay anchored as a whole
	re, err := regexp.Compile(`\A(?:` + pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	s.patterns[pattern] = re
	return re, nil
}

// CachedPatterns returns how many distinct patterns have been compiled.
func (s *Session) CachedPatterns() int {
	return len(s.patterns)
}

// Execute runs command on the node. Unread output from the previous command
// is reported as a mismatch first. The result replaces the output.
func (s *Session) Execute(ctx context.Context, command string) (string, error) {
	// Leftover output means the script expected less than the node printed
	if s.cursor != len(s.output) {
		s.fail(EndOfOutput)
	}

	if s.exec == nil {
		return "", fmt.Errorf("client %s has no node attached", s.name)
	}

	s.log.Debug("executing", "command", command)
	result, err := s.exec.CallString(ctx, "execute_command_line", command)
	if err != nil {
		return "", fmt.Errorf("client %s: %w", s.name, err)
	}
	s.lastCommand = command
	s.Reset(result)
	return result, nil
}

func (s *Session) fail(expected string) {
	m := Mismatch{
		Client:   s.name,
		Command:  s.lastCommand,
		Expected: expected,
		Actual:   s.output[s.cursor:],
		Counted:  !s.failed,
	}
	// Only the first mismatch per command result counts as a failure
	if !s.failed {
		s.failed = true
		s.failureCount++
	}
	for _, hook := range s.hooks {
		hook(&m)
	}
	s.mismatches = append(s.mismatches, m)

	s.log.Error("expectation failed",
		"expected", m.ExpectedPreview(),
		"got", m.ActualPreview(),
		"command", m.Command,
		"file", m.File,
		"line", m.Line,
	)
}
