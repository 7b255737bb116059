package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	app := NewApp()
	app.DotEnv = filepath.Join(t.TempDir(), ".env")
	root := app.CreateRootCommand()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "btstest v"))

	out, err = execute(t, "version", "--detailed")
	require.NoError(t, err)
	assert.Contains(t, out, "Go Version:")

	out, err = execute(t, "version", "--yaml")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, yaml.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info["version"])
	assert.Contains(t, info, "go_version")
}

func TestRunCommand_SkipsNonTestsAndWritesReport(t *testing.T) {
	dir := t.TempDir()
	reportPath := filepath.Join(t.TempDir(), "report.yaml")

	out, err := execute(t, "run", "--report", reportPath, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "SKIP")
	assert.Contains(t, out, "1 skipped")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var doc struct {
		Summary struct {
			Total   int `yaml:"total"`
			Skipped int `yaml:"skipped"`
		} `yaml:"summary"`
	}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, 1, doc.Summary.Total)
	assert.Equal(t, 1, doc.Summary.Skipped)
}

func TestRunCommand_MissingNodeBinaryIsAnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "testenv"), []byte("start_node(\"alice\")\n"), 0o644))
	metricsPath := filepath.Join(t.TempDir(), "btstest.prom")

	out, err := execute(t, "run",
		"--node-binary", filepath.Join(t.TempDir(), "no-such-client"),
		"--output-dir", t.TempDir(),
		"--metrics-file", metricsPath,
		dir)
	assert.ErrorIs(t, err, ErrTestsFailed)
	assert.Contains(t, out, "ERROR")

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `btstest_test_results_total{outcome="ERROR"} 1`)
}

func TestRunCommand_RejectsBadConfig(t *testing.T) {
	_, err := execute(t, "run", "--parallel", "0", t.TempDir())
	assert.Error(t, err)

	_, err = execute(t, "run")
	assert.Error(t, err)
}

func TestHashMarketCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID int `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_, _ = fmt.Fprintf(w, `{"id": %d, "result": []}`, req.ID)
	}))
	defer srv.Close()

	configPath := filepath.Join(t.TempDir(), "config.json")
	endpoint := strings.TrimPrefix(srv.URL, "http://")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(
		`{"rpc": {"enable": true, "httpd_endpoint": %q, "rpc_user": "u", "rpc_password": "p"}}`, endpoint)), 0o644))

	out, err := execute(t, "hash-market", configPath, "10", "12")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "[", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "[10, 12, "))
	assert.Equal(t, "]", lines[2])

	_, err = execute(t, "hash-market", configPath, "ten", "12")
	assert.Error(t, err)
}
