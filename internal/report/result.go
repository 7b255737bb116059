// Package report renders test results on the console, as a YAML document and
// as Prometheus metrics.
package report

import (
	"time"

	"btstest/internal/session"
)

// Outcome classifies a test directory run.
type Outcome string

const (
	Pass    Outcome = "PASS"
	Fail    Outcome = "FAIL"
	Error   Outcome = "ERROR"
	Skipped Outcome = "SKIP"
)

// ClientResult is the failure summary of one client session.
type ClientResult struct {
	Name       string             `yaml:"name"`
	Failures   int                `yaml:"failures"`
	Mismatches []session.Mismatch `yaml:"mismatches,omitempty"`
}

// Result is the outcome of running one test directory.
type Result struct {
	RunID     string         `yaml:"run_id"`
	Name      string         `yaml:"name"`
	Dir       string         `yaml:"dir"`
	StartedAt time.Time      `yaml:"started_at"`
	Duration  time.Duration  `yaml:"duration"`
	Clients   []ClientResult `yaml:"clients,omitempty"`
	// Err is a fatal error: parse, transport, startup or lifecycle.
	Err     error `yaml:"-"`
	Skipped bool  `yaml:"skipped,omitempty"`
}

// Failures sums the failure counts of every client.
func (r *Result) Failures() int {
	n := 0
	for _, c := range r.Clients {
		n += c.Failures
	}
	return n
}

// Outcome is ERROR for fatal errors, FAIL for counted mismatches, SKIP for
// directories without a testenv and PASS otherwise.
func (r *Result) Outcome() Outcome {
	switch {
	case r.Skipped:
		return Skipped
	case r.Err != nil:
		return Error
	case r.Failures() > 0:
		return Fail
	default:
		return Pass
	}
}

// Summary counts results per outcome.
type Summary struct {
	Total   int `yaml:"total"`
	Passed  int `yaml:"passed"`
	Failed  int `yaml:"failed"`
	Errored int `yaml:"errored"`
	Skipped int `yaml:"skipped"`
}

// Summarize tallies results.
func Summarize(results []*Result) Summary {
	var s Summary
	for _, r := range results {
		s.Total++
		switch r.Outcome() {
		case Pass:
			s.Passed++
		case Fail:
			s.Failed++
		case Error:
			s.Errored++
		case Skipped:
			s.Skipped++
		}
	}
	return s
}

// OK reports whether no test failed or errored.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Errored == 0
}
