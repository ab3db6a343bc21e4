package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/snowdamiz/lmlang-sub002/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Filter string
	Update bool
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run a directory of YAML scenarios",
		Long: `Run every *.yaml scenario in a directory and report the results.

Each scenario compiles its document, invokes a function with fixed
arguments, and checks the outcome: expected value, expected trap,
expected contract violation, trace assertions, or a golden snapshot
of the canonical outcome payload. Program paths inside scenarios
resolve relative to the scenario directory; golden snapshots live in
<scenarios-dir>/golden/.

Exit codes:
  0 - All scenarios passed
  1 - At least one scenario failed
  2 - Command error (directory not found, bad filter)

Examples:
  lmlang test ./scenarios
  lmlang test ./scenarios --filter 'div_*'
  lmlang test ./scenarios --update
  lmlang test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "glob matched against scenario names")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden snapshots instead of comparing")

	return cmd
}

func runScenarios(opts *TestOptions, dir string, cmd *cobra.Command) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return NewExitError(ExitCommandError, fmt.Sprintf("scenario directory not found: %s", dir))
		}
		return WrapExitError(ExitCommandError, "cannot access scenario directory", err)
	}
	if !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("not a directory: %s", dir))
	}

	result, err := harness.RunSuite(dir, harness.SuiteConfig{
		Filter:        opts.Filter,
		UpdateGoldens: opts.Update,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	if opts.Format == "json" {
		return outputSuiteJSON(cmd, result)
	}
	return outputSuiteText(cmd, result)
}

// outputSuiteJSON outputs the suite result as JSON.
func outputSuiteJSON(cmd *cobra.Command, result *harness.SuiteResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_SCENARIOS",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	if err := writeJSON(cmd.OutOrStdout(), response); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputSuiteText outputs the suite result as text.
func outputSuiteText(cmd *cobra.Command, result *harness.SuiteResult) error {
	w := cmd.OutOrStdout()

	for _, failure := range result.Failures {
		fmt.Fprintf(w, "✗ %s (%s)\n", failure.Scenario, failure.Path)
		for _, msg := range failure.Errors {
			fmt.Fprintf(w, "    %s\n", msg)
		}
	}
	if len(result.Failures) > 0 {
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Scenarios: %d passed, %d failed", result.Passed, result.Failed)
	if result.Updated > 0 {
		fmt.Fprintf(w, ", %d updated", result.Updated)
	}
	fmt.Fprintf(w, ", %d total\n", result.Total)

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	if result.Total > 0 {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
	return nil
}
