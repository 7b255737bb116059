package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withBuildInfo(t *testing.T, v, commit, date string) {
	t.Helper()
	oldV, oldC, oldD := Version, GitCommit, BuildDate
	Version, GitCommit, BuildDate = v, commit, date
	t.Cleanup(func() { Version, GitCommit, BuildDate = oldV, oldC, oldD })
}

func TestGetInfo(t *testing.T) {
	withBuildInfo(t, "1.2.3-rc.1+42.abc", "abcdef0123", "2024-05-01")

	info, err := GetInfo()
	require.NoError(t, err)
	assert.Equal(t, "1.2.3-rc.1+42.abc", info.Version)
	assert.Equal(t, uint64(1), info.SemVer.Major())
	assert.Equal(t, "rc.1", info.SemVer.Prerelease())
	assert.NotEmpty(t, info.GoVersion)
	assert.Contains(t, info.Platform, "/")
}

func TestGetInfo_InvalidVersion(t *testing.T) {
	withBuildInfo(t, "not-a-version", "unknown", "unknown")

	_, err := GetInfo()
	assert.Error(t, err)
	assert.Contains(t, Detailed(), "error:")
}

func TestShort(t *testing.T) {
	withBuildInfo(t, "0.3.0", "unknown", "unknown")
	assert.Equal(t, "btstest v0.3.0", Short())

	withBuildInfo(t, "0.3.0", "abcdef0123", "unknown")
	assert.Equal(t, "btstest v0.3.0 (abcdef0)", Short())
}

func TestDetailed(t *testing.T) {
	withBuildInfo(t, "0.3.0+7.deadbee", "deadbee", "2024-05-01")

	out := Detailed()
	assert.Contains(t, out, "btstest v0.3.0+7.deadbee")
	assert.Contains(t, out, "Git Commit: deadbee")
	assert.Contains(t, out, "Build Metadata: 7.deadbee")
	assert.NotContains(t, out, "Prerelease")
}

func TestIsDevelopment(t *testing.T) {
	withBuildInfo(t, "0.1.0", "unknown", "2024-05-01")
	assert.True(t, IsDevelopment())

	withBuildInfo(t, "0.1.0", "abc", "2024-05-01")
	assert.False(t, IsDevelopment())
}

func TestCompare(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.0.0-alpha", "1.0.0", -1},
	}
	for _, tt := range tests {
		t.Run(tt.v1+"_"+tt.v2, func(t *testing.T) {
			got, err := Compare(tt.v1, tt.v2)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Compare("x", "1.0.0")
	assert.Error(t, err)
}

func TestSatisfies(t *testing.T) {
	ok, err := Satisfies("0.4.27", ">= 0.4, < 1.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Satisfies("1.2.0", ">= 0.4, < 1.0")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Satisfies("1.2.0", ">= banana")
	assert.Error(t, err)
}

func TestBuildTime(t *testing.T) {
	withBuildInfo(t, "0.1.0", "abc", "2024-05-01")
	got, err := BuildTime()
	require.NoError(t, err)
	assert.Equal(t, 2024, got.Year())

	withBuildInfo(t, "0.1.0", "abc", "unknown")
	_, err = BuildTime()
	assert.Error(t, err)

	withBuildInfo(t, "0.1.0", "abc", "yesterday")
	_, err = BuildTime()
	assert.Error(t, err)
}
