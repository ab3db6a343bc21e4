package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snowdamiz/lmlang-sub002/internal/engine"
	"github.com/snowdamiz/lmlang-sub002/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunToken string
}

// TraceEntryView is one archived trace entry in display form. Values
// render as text; the canonical encoding lives in the run payload.
type TraceEntryView struct {
	Seq    int      `json:"seq"`
	Depth  int      `json:"depth"`
	Node   uint64   `json:"node"`
	Op     string   `json:"op"`
	Inputs []string `json:"inputs,omitempty"`
	Output string   `json:"output,omitempty"`
}

// TraceReport holds the archived run and its timeline.
type TraceReport struct {
	RunToken     string           `json:"run_token"`
	FunctionName string           `json:"fn_name"`
	Kind         string           `json:"kind"`
	Steps        int              `json:"steps"`
	Traced       bool             `json:"traced"`
	Payload      json.RawMessage  `json:"payload"`
	Entries      []TraceEntryView `json:"entries"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the timeline of an archived run",
		Long: `Show an archived run: its outcome and the per-node execution
timeline recorded when the run was traced.

Entries appear in evaluation order with their frame depth, node id,
and operation mnemonic. Untraced runs have an outcome but no timeline.

Examples:
  lmlang trace --db ./runs.db --run 018f4c1e-demo
  lmlang trace --db ./runs.db --run 018f4c1e-demo --verbose
  lmlang trace --db ./runs.db --run 018f4c1e-demo --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraceCmd(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunToken, "run", "", "run token to show (required)")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func runTraceCmd(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	rec, err := st.ReadRun(ctx, opts.RunToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", opts.RunToken))
		}
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	entries, err := st.ReadTrace(ctx, opts.RunToken)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read trace", err)
	}

	report := buildTraceReport(rec, entries)

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: report})
	}
	return outputTraceText(cmd.OutOrStdout(), rec, entries, opts.Verbose)
}

// buildTraceReport converts an archived run into display form.
func buildTraceReport(rec store.RunRecord, entries []engine.TraceEntry) TraceReport {
	views := make([]TraceEntryView, 0, len(entries))
	for _, e := range entries {
		view := TraceEntryView{
			Seq:   e.Seq,
			Depth: e.Depth,
			Node:  uint64(e.Node),
			Op:    e.Op,
		}
		for _, in := range e.Inputs {
			view.Inputs = append(view.Inputs, fmt.Sprintf("port%d=%s", in.Port, in.Value.Text()))
		}
		if e.Output != nil {
			view.Output = e.Output.Text()
		}
		views = append(views, view)
	}

	return TraceReport{
		RunToken:     rec.RunToken,
		FunctionName: rec.FunctionName,
		Kind:         rec.Kind,
		Steps:        rec.Steps,
		Traced:       rec.Traced,
		Payload:      json.RawMessage(rec.Payload),
		Entries:      views,
	}
}

// outputTraceText renders the archived run as a readable timeline.
func outputTraceText(w io.Writer, rec store.RunRecord, entries []engine.TraceEntry, verbose bool) error {
	fmt.Fprintf(w, "Run: %s\n", rec.RunToken)
	fmt.Fprintf(w, "Function: %s (fn %d)\n", rec.FunctionName, rec.Function)
	fmt.Fprintf(w, "Kind: %s, %d step(s)\n", rec.Kind, rec.Steps)
	if verbose {
		fmt.Fprintf(w, "Archived: seq %d, engine %s, ir %s\n", rec.Seq, rec.EngineVersion, rec.IRVersion)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(entries) == 0 {
		fmt.Fprintln(w, "  (no trace entries - run was not traced)")
		return nil
	}
	for _, entry := range entries {
		writeTraceEntry(w, entry, verbose)
	}
	return nil
}

// writeTraceEntry renders one entry; verbose adds values.
func writeTraceEntry(w io.Writer, e engine.TraceEntry, verbose bool) {
	if !verbose {
		fmt.Fprintf(w, "  [%d] depth=%d node=%d %s\n", e.Seq, e.Depth, e.Node, e.Op)
		return
	}

	line := fmt.Sprintf("  [%d] depth=%d node=%d %s", e.Seq, e.Depth, e.Node, e.Op)
	if len(e.Inputs) > 0 {
		parts := make([]string, len(e.Inputs))
		for i, in := range e.Inputs {
			parts[i] = fmt.Sprintf("port%d=%s", in.Port, in.Value.Text())
		}
		line += " (" + strings.Join(parts, ", ") + ")"
	}
	if e.Output != nil {
		line += " -> " + e.Output.Text()
	}
	fmt.Fprintln(w, line)
}
