package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a result's outcome in canonical form. Golden files
// hold exactly these bytes, so a snapshot mismatch is a byte-level
// behavior change: different value, trap, trace, or step count.
func Snapshot(res *Result) ([]byte, error) {
	if res.Outcome == nil {
		return nil, fmt.Errorf("scenario %s has no outcome to snapshot", res.ScenarioName)
	}
	return res.Outcome.CanonicalJSON()
}

// RunWithGolden executes a scenario and compares its canonical outcome
// against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result; test failure (via goldie) occurs when the
// outcome doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	data, err := Snapshot(result)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)

	return result, nil
}

// GoldenPath returns where a scenario's snapshot lives relative to its
// scenario directory. The suite runner reads and writes here.
func GoldenPath(dir, name string) string {
	return filepath.Join(dir, "golden", name+".golden")
}

// CompareGolden checks a result against the snapshot stored under the
// scenario directory. A missing snapshot is an error, not a mismatch;
// run the suite with golden updates on to create it.
func CompareGolden(dir string, res *Result) (bool, error) {
	want, err := os.ReadFile(GoldenPath(dir, res.ScenarioName))
	if err != nil {
		return false, fmt.Errorf("read golden: %w", err)
	}
	got, err := Snapshot(res)
	if err != nil {
		return false, err
	}
	return bytes.Equal(got, want), nil
}

// UpdateGolden writes the result's snapshot under the scenario
// directory, creating the golden/ subdirectory as needed.
func UpdateGolden(dir string, res *Result) error {
	data, err := Snapshot(res)
	if err != nil {
		return err
	}
	path := GoldenPath(dir, res.ScenarioName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create golden dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write golden: %w", err)
	}
	return nil
}
