package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snowdamiz/lmlang-sub002/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunToken string // optional: verify a single run
}

// RunReplay holds the verification result for one archived run.
type RunReplay struct {
	RunToken     string `json:"run_token"`
	Match        bool   `json:"match"`
	StoredKind   string `json:"stored_kind,omitempty"`
	ReplayedKind string `json:"replayed_kind,omitempty"`
	StoredHash   string `json:"stored_hash,omitempty"`
	ReplayedHash string `json:"replayed_hash,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ReplayReport holds the overall verification result.
type ReplayReport struct {
	Document string      `json:"document"`
	Runs     []RunReplay `json:"runs"`
	Total    int         `json:"total"`
	AllMatch bool        `json:"all_match"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <document.cue>",
		Short: "Re-execute archived runs and verify they reproduce",
		Long: `Re-execute archived runs against the document and verify each one
reproduces its stored outcome byte for byte.

Every run replays with its stored arguments, run token, recursion
limit, and contract flag; a deterministic engine must produce the
identical canonical payload. The document must be the one that
produced the runs - a fingerprint mismatch is reported per run.

Exit codes:
  0 - All runs reproduce
  1 - At least one run diverged
  2 - Command error (bad document, database not found)

Examples:
  lmlang replay ./docs/math.cue --db ./runs.db
  lmlang replay ./docs/math.cue --db ./runs.db --run 018f4c1e-demo
  lmlang replay ./docs/math.cue --db ./runs.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunToken, "run", "", "verify a single run token")

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()

	prog, err := loadProgram(path)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return WrapExitError(ExitCommandError, "failed to compile document", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	tokens, err := replayTokens(opts, st, cmd)
	if err != nil {
		return err
	}

	if len(tokens) == 0 {
		if opts.Format == "json" {
			report := ReplayReport{Document: path, Runs: []RunReplay{}, AllMatch: true}
			return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: report})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}

	report := ReplayReport{Document: path, AllMatch: true}
	for _, token := range tokens {
		res, err := st.VerifyRun(ctx, prog, token)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", token))
			}
			// Fingerprint mismatches and replay failures count against
			// the verification rather than aborting the sweep.
			report.Runs = append(report.Runs, RunReplay{RunToken: token, Error: err.Error()})
			report.AllMatch = false
			continue
		}

		report.Runs = append(report.Runs, RunReplay{
			RunToken:     res.RunToken,
			Match:        res.Match,
			StoredKind:   res.StoredKind,
			ReplayedKind: res.ReplayedKind,
			StoredHash:   res.StoredHash,
			ReplayedHash: res.ReplayedHash,
		})
		if !res.Match {
			report.AllMatch = false
		}
	}
	report.Total = len(report.Runs)

	if opts.Format == "json" {
		return outputReplayJSON(cmd, report)
	}
	return outputReplayText(cmd, report, opts.Verbose)
}

// replayTokens resolves which runs to verify: one pinned by --run, or
// every archived run in listing order.
func replayTokens(opts *ReplayOptions, st *store.Store, cmd *cobra.Command) ([]string, error) {
	if opts.RunToken != "" {
		return []string{opts.RunToken}, nil
	}

	recs, err := st.ListRuns(cmd.Context())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	tokens := make([]string, 0, len(recs))
	for _, rec := range recs {
		tokens = append(tokens, rec.RunToken)
	}
	return tokens, nil
}

// outputReplayJSON outputs the replay report as JSON.
func outputReplayJSON(cmd *cobra.Command, report ReplayReport) error {
	response := CLIResponse{Status: "ok", Data: report}
	if !report.AllMatch {
		response.Status = "error"
		response.Error = &CLIError{Code: "E_REPLAY", Message: "replay verification failed"}
	}

	if err := writeJSON(cmd.OutOrStdout(), response); err != nil {
		return err
	}
	if !report.AllMatch {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	return nil
}

// outputReplayText outputs the replay report as text.
func outputReplayText(cmd *cobra.Command, report ReplayReport, verbose bool) error {
	w := cmd.OutOrStdout()

	for _, run := range report.Runs {
		switch {
		case run.Error != "":
			fmt.Fprintf(w, "✗ %s: %s\n", run.RunToken, run.Error)
		case run.Match:
			fmt.Fprintf(w, "✓ %s (%s)\n", run.RunToken, run.StoredKind)
		default:
			fmt.Fprintf(w, "✗ %s: stored %s, replayed %s\n", run.RunToken, run.StoredKind, run.ReplayedKind)
			if verbose {
				fmt.Fprintf(w, "  stored hash:   %s\n", run.StoredHash)
				fmt.Fprintf(w, "  replayed hash: %s\n", run.ReplayedHash)
			}
		}
	}
	fmt.Fprintln(w)

	if report.AllMatch {
		fmt.Fprintf(w, "✓ %d run(s) reproduce\n", report.Total)
		return nil
	}
	fmt.Fprintln(w, "✗ replay verification failed")
	return NewExitError(ExitFailure, "replay verification failed")
}
