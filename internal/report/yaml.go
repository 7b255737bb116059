package report

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Document is the YAML report written with --report.
type Document struct {
	Version   string        `yaml:"version"`
	StartedAt time.Time     `yaml:"started_at"`
	Elapsed   time.Duration `yaml:"elapsed"`
	Summary   Summary       `yaml:"summary"`
	Tests     []testEntry   `yaml:"tests"`
}

type testEntry struct {
	Result  `yaml:",inline"`
	Outcome Outcome `yaml:"outcome"`
	Error   string  `yaml:"error,omitempty"`
}

// NewDocument assembles a report from finished results.
func NewDocument(version string, startedAt time.Time, elapsed time.Duration, results []*Result) *Document {
	doc := &Document{
		Version:   version,
		StartedAt: startedAt,
		Elapsed:   elapsed,
		Summary:   Summarize(results),
		Tests:     make([]testEntry, 0, len(results)),
	}
	for _, r := range results {
		e := testEntry{Result: *r, Outcome: r.Outcome()}
		if r.Err != nil {
			e.Error = r.Err.Error()
		}
		doc.Tests = append(doc.Tests, e)
	}
	return doc
}

// WriteYAML writes doc to path.
func WriteYAML(path string, doc *Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
