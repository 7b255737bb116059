// Package version holds the btstest build information injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Set at build time with -ldflags "-X btstest/internal/version.Version=...".
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string          `json:"version" yaml:"version"`
	GitCommit string          `json:"gitCommit" yaml:"git_commit"`
	BuildDate string          `json:"buildDate" yaml:"build_date"`
	GoVersion string          `json:"goVersion" yaml:"go_version"`
	Platform  string          `json:"platform" yaml:"platform"`
	SemVer    *semver.Version `json:"-" yaml:"-"`
}

// GetInfo parses Version and collects the build details.
func GetInfo() (*Info, error) {
	sv, err := semver.NewVersion(Version)
	if err != nil {
		return nil, fmt.Errorf("invalid semantic version '%s': %w", Version, err)
	}
	return &Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		SemVer:    sv,
	}, nil
}

// Short returns "btstest vX.Y.Z" with the short commit when known.
func Short() string {
	s := fmt.Sprintf("btstest v%s", Version)
	if commit := shortCommit(); commit != "" {
		s += fmt.Sprintf(" (%s)", commit)
	}
	return s
}

// Detailed returns one "Key: value" line per build detail.
func Detailed() string {
	info, err := GetInfo()
	if err != nil {
		return fmt.Sprintf("btstest v%s (error: %v)", Version, err)
	}

	lines := []string{
		fmt.Sprintf("btstest v%s", info.Version),
		fmt.Sprintf("Git Commit: %s", info.GitCommit),
		fmt.Sprintf("Build Date: %s", info.BuildDate),
	}
	if meta := info.SemVer.Metadata(); meta != "" {
		lines = append(lines, fmt.Sprintf("Build Metadata: %s", meta))
	}
	if info.SemVer.Prerelease() != "" {
		lines = append(lines, fmt.Sprintf("Prerelease: %s", info.SemVer.Prerelease()))
	}
	lines = append(lines,
		fmt.Sprintf("Go Version: %s", info.GoVersion),
		fmt.Sprintf("Platform: %s", info.Platform),
	)
	return strings.Join(lines, "\n")
}

func shortCommit() string {
	if GitCommit == "unknown" || GitCommit == "" {
		return ""
	}
	if len(GitCommit) > 7 {
		return GitCommit[:7]
	}
	return GitCommit
}

// IsDevelopment reports whether build details were not injected.
func IsDevelopment() bool {
	return GitCommit == "unknown" || BuildDate == "unknown"
}

// Compare returns -1, 0 or 1 as v1 is older than, equal to or newer than v2.
func Compare(v1, v2 string) (int, error) {
	sv1, err := semver.NewVersion(v1)
	if err != nil {
		return 0, fmt.Errorf("invalid version v1 '%s': %w", v1, err)
	}
	sv2, err := semver.NewVersion(v2)
	if err != nil {
		return 0, fmt.Errorf("invalid version v2 '%s': %w", v2, err)
	}
	return sv1.Compare(sv2), nil
}

// Satisfies reports whether v meets a constraint such as ">= 0.4, < 1.0".
// Node get_info responses carry a client version that environment files can
// check this way.
func Satisfies(v, constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid constraint '%s': %w", constraint, err)
	}
	sv, err := semver.NewVersion(v)
	if err != nil {
		return false, fmt.Errorf("invalid version '%s': %w", v, err)
	}
	return c.Check(sv), nil
}

// BuildTime parses BuildDate.
func BuildTime() (time.Time, error) {
	if BuildDate == "unknown" || BuildDate == "" {
		return time.Time{}, fmt.Errorf("build date not available")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, BuildDate); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse build date '%s'", BuildDate)
}
