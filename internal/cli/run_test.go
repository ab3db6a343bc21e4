package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowdamiz/lmlang-sub002/internal/store"
)

func TestRunValue(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "add", "--arg", "a:i64:2", "--arg", "b:i64:3"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "✓ run")
	assert.Contains(t, output, "value 5")
}

func TestRunValueJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "add",
		"--arg", "a:i64:2", "--arg", "b:i64:3", "--token", "cli-test-add"})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "value", data["kind"])
	assert.Equal(t, "cli-test-add", data["run"])
	value, ok := data["value"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "i64", value["kind"])
	assert.EqualValues(t, 5, value["v"])
}

func TestRunArgOrderIrrelevant(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "div", "--arg", "b:i64:4", "--arg", "a:i64:12"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "value 3")
}

func TestRunTrap(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "div", "--arg", "a:i64:10", "--arg", "b:i64:0"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "trap DIVIDE_BY_ZERO")

	output := buf.String()
	assert.Contains(t, output, "✗ run")
	assert.Contains(t, output, "trap DIVIDE_BY_ZERO at node 7")
}

func TestRunTrapJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "div", "--arg", "a:i64:10", "--arg", "b:i64:0"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TRAP", resp.Error.Code)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "trap", data["kind"])
}

func TestRunViolation(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", Verbose: true}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "checked_dec", "--arg", "n:i64:-3"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "precondition violation")

	output := buf.String()
	assert.Contains(t, output, "precondition violated at node 15")
	assert.Contains(t, output, "-3 must be >= 0")
	assert.Contains(t, output, "arg 0 = -3")
}

func TestRunCallAcrossFunctions(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "twice", "--arg", "n:i64:21"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "value 42")
}

func TestRunUnknownFunction(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "nope"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `function "nope" not found`)
}

func TestRunBadArgumentShape(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "add", "--arg", "a=i64=2"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "bad arguments")
	assert.Contains(t, err.Error(), "name:kind:literal")
}

func TestRunMissingParameter(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "add", "--arg", "a:i64:2"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `parameter "b" not supplied`)
}

func TestRunUnknownParameter(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "add",
		"--arg", "a:i64:2", "--arg", "c:i64:3"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `function "add" has no parameter "c"`)
}

func TestRunDuplicateParameter(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "add",
		"--arg", "a:i64:2", "--arg", "a:i64:3"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `parameter "a" given twice`)
}

func TestRunMissingDocument(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"/nonexistent/doc.cue", "--fn", "add"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "document not found")
}

func TestRunWithTrace(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "add",
		"--arg", "a:i64:2", "--arg", "b:i64:3", "--trace"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "trace:")
	assert.Contains(t, output, "depth=1")
	assert.Contains(t, output, "param")
	assert.Contains(t, output, "return")
}

func TestRunRecordsToDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "add",
		"--arg", "a:i64:2", "--arg", "b:i64:3",
		"--db", dbPath, "--token", "cli-rec-1"})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "run cli-rec-1")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	rec, err := st.ReadRun(context.Background(), "cli-rec-1")
	require.NoError(t, err)
	assert.Equal(t, "add", rec.FunctionName)
	assert.Equal(t, "value", rec.Kind)
	assert.False(t, rec.Traced)
}

func TestRunRecordsTrace(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "add",
		"--arg", "a:i64:2", "--arg", "b:i64:3",
		"--db", dbPath, "--token", "cli-rec-2", "--trace"})

	err := cmd.Execute()
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	entries, err := st.ReadTrace(context.Background(), "cli-rec-2")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "param", entries[0].Op)
	assert.Equal(t, "add", entries[2].Op)
	assert.Equal(t, "return", entries[3].Op)
}

func TestRunTrapStillRecorded(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"testdata/math.cue", "--fn", "div",
		"--arg", "a:i64:10", "--arg", "b:i64:0",
		"--db", dbPath, "--token", "cli-rec-3"})

	err := cmd.Execute()
	require.Error(t, err) // trap maps to exit 1

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	rec, err := st.ReadRun(context.Background(), "cli-rec-3")
	require.NoError(t, err)
	assert.Equal(t, "trap", rec.Kind)
}

func TestRunHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Invoke a function")
	assert.Contains(t, output, "--arg")
	assert.Contains(t, output, "name:kind:literal")
	assert.Contains(t, output, "Exit codes")
}
