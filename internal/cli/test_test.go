package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cliDoc returns an absolute path to a document under testdata, so
// scenarios written into temp suite directories still resolve it.
func cliDoc(t *testing.T, name string) string {
	t.Helper()
	abs, err := filepath.Abs(filepath.Join("testdata", name))
	require.NoError(t, err)
	return abs
}

func writeScenario(t *testing.T, dir, file, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
}

func addScenario(t *testing.T, name, want string) string {
	return fmt.Sprintf(`name: %s
program: %s
invoke: add
args: ["i64:2", "i64:3"]
expect:
  value: "i64:%s"
`, name, cliDoc(t, "math.cue"), want)
}

func TestTestCommandAllPass(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "add.yaml", addScenario(t, "add_pair", "5"))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Scenarios: 1 passed, 0 failed, 1 total")
	assert.Contains(t, output, "✓ All scenarios passed")
}

func TestTestCommandFailure(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "good.yaml", addScenario(t, "add_pair", "5"))
	writeScenario(t, dir, "bad.yaml", addScenario(t, "add_wrong", "6"))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 scenario(s) failed")

	output := buf.String()
	assert.Contains(t, output, "✗ add_wrong")
	assert.Contains(t, output, "expected value 6")
	assert.Contains(t, output, "Scenarios: 1 passed, 1 failed, 2 total")
}

func TestTestCommandFilter(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "add.yaml", addScenario(t, "add_pair", "5"))
	writeScenario(t, dir, "div.yaml", fmt.Sprintf(`name: div_zero
program: %s
invoke: div
args: ["i64:10", "i64:0"]
expect:
  trap:
    code: DIVIDE_BY_ZERO
`, cliDoc(t, "math.cue")))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir, "--filter", "div_*"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Scenarios: 1 passed, 0 failed, 1 total")
}

func TestTestCommandUpdateGoldens(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "add.yaml", fmt.Sprintf(`name: add_snapshot
program: %s
invoke: add
args: ["i64:2", "i64:3"]
run_token: golden-add
expect:
  value: "i64:5"
golden: true
`, cliDoc(t, "math.cue")))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir, "--update"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "1 updated")

	// A second plain run compares against the fresh snapshot.
	buf.Reset()
	cmd = NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ All scenarios passed")
}

func TestTestCommandDirNotFound(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/scenarios"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario directory not found")
}

func TestTestCommandNotADirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"testdata/math.cue"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "not a directory")
}

func TestTestCommandBadFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir(), "--filter", "["})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "bad filter")
}

func TestTestCommandEmptyDir(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Scenarios: 0 passed, 0 failed, 0 total")
}

func TestTestCommandJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "good.yaml", addScenario(t, "add_pair", "5"))
	writeScenario(t, dir, "bad.yaml", addScenario(t, "add_wrong", "6"))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_SCENARIOS", resp.Error.Code)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, data["total"])
	assert.EqualValues(t, 1, data["passed"])
	assert.EqualValues(t, 1, data["failed"])
}
