package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"github.com/snowdamiz/lmlang-sub002/internal/engine"
	"github.com/snowdamiz/lmlang-sub002/internal/ir"
	"github.com/snowdamiz/lmlang-sub002/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Function string
	Args     []string
	Limit    int
	Trace    bool
	Database string
	Token    string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <document.cue>",
		Short: "Invoke a function from a graph document",
		Long: `Compile a graph document and invoke one of its functions.

Arguments are named: each --arg pairs a parameter name with a typed
literal, kind:literal after the name. The outcome - value, trap, or
contract violation - is printed; traps and violations are data, so the
command itself does not abort, but they map to exit code 1.

With --db, the run and its trace entries are archived for later
inspection (lmlang trace) and replay verification (lmlang replay).

Exit codes:
  0 - Invocation returned a value
  1 - Invocation trapped or violated a contract
  2 - Command error (bad document, unknown function, bad arguments)

Examples:
  lmlang run ./docs/math.cue --fn add --arg a:i64:2 --arg b:i64:3
  lmlang run ./docs/math.cue --fn div --arg a:i64:10 --arg b:i64:0 --trace
  lmlang run ./docs/math.cue --fn add --arg a:i64:2 --arg b:i64:3 --db ./runs.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvoke(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Function, "fn", "", "function to invoke (required)")
	_ = cmd.MarkFlagRequired("fn")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "argument as name:kind:literal (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "recursion limit (0 uses the engine default)")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "record a per-node execution trace")
	cmd.Flags().StringVar(&opts.Database, "db", "", "archive the run in this SQLite database")
	cmd.Flags().StringVar(&opts.Token, "token", "", "fixed run token (default: generated)")

	return cmd
}

func runInvoke(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	prog, err := loadProgram(path)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return WrapExitError(ExitCommandError, "failed to compile document", err)
	}

	fn, ok := prog.FunctionByName(opts.Function)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("function %q not found in %s", opts.Function, path))
	}

	args, err := parseNamedArgs(fn, opts.Args)
	if err != nil {
		return WrapExitError(ExitCommandError, "bad arguments", err)
	}

	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithPrintWriter(cmd.OutOrStdout()),
		engine.WithTracing(opts.Trace),
	}
	if opts.Limit > 0 {
		engineOpts = append(engineOpts, engine.WithRecursionLimit(opts.Limit))
	}
	if opts.Token != "" {
		engineOpts = append(engineOpts, engine.WithRunTokens(engine.NewFixedSource(opts.Token)))
	}

	eng, err := engine.New(prog, engineOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build engine", err)
	}

	out := eng.Invoke(fn.ID, args)

	if opts.Database != "" {
		if err := recordRun(cmd.Context(), opts, prog, fn.Name, args, out, formatter); err != nil {
			return err
		}
	}

	return outputOutcome(formatter, out, opts.Trace)
}

// recordRun archives the outcome in the run store.
func recordRun(ctx context.Context, opts *RunOptions, prog *ir.Program, fnName string, args []ir.Value, out *engine.Outcome, formatter *OutputFormatter) error {
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	limit := opts.Limit
	if limit <= 0 {
		limit = engine.DefaultRecursionLimit
	}
	meta := store.RunMeta{
		ProgramHash:    ir.MustFingerprintProgram(prog),
		FunctionName:   fnName,
		Args:           args,
		RecursionLimit: limit,
		ContractChecks: true,
		EngineVersion:  ir.EngineVersion,
		IRVersion:      ir.IRVersion,
	}
	if err := st.WriteRun(ctx, out, meta); err != nil {
		return WrapExitError(ExitCommandError, "failed to record run", err)
	}

	formatter.VerboseLog("recorded run %s in %s", out.RunToken, opts.Database)
	return nil
}

// outputOutcome renders the outcome and maps its kind to an exit code.
func outputOutcome(formatter *OutputFormatter, out *engine.Outcome, traced bool) error {
	if formatter.Format == "json" {
		return outputOutcomeJSON(formatter, out)
	}
	return outputOutcomeText(formatter, out, traced)
}

func outputOutcomeJSON(formatter *OutputFormatter, out *engine.Outcome) error {
	raw, err := out.CanonicalJSON()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode outcome", err)
	}

	response := CLIResponse{Status: "ok", Data: json.RawMessage(raw)}
	switch out.Kind() {
	case engine.OutcomeTrap:
		response.Status = "error"
		response.Error = &CLIError{Code: "E_TRAP", Message: out.Trap.Error()}
	case engine.OutcomeViolation:
		response.Status = "error"
		response.Error = &CLIError{Code: "E_VIOLATION", Message: out.Violation.Error()}
	}

	if err := writeJSON(formatter.Writer, response); err != nil {
		return err
	}
	return outcomeExit(out)
}

func outputOutcomeText(formatter *OutputFormatter, out *engine.Outcome, traced bool) error {
	w := formatter.Writer

	switch out.Kind() {
	case engine.OutcomeValue:
		if out.Value != nil {
			fmt.Fprintf(w, "✓ run %s: value %s (%d steps)\n", out.RunToken, out.Value.Text(), out.Steps)
		} else {
			fmt.Fprintf(w, "✓ run %s: no value (%d steps)\n", out.RunToken, out.Steps)
		}

	case engine.OutcomeTrap:
		trap := out.Trap
		if trap.Node.IsValid() {
			fmt.Fprintf(w, "✗ run %s: trap %s at node %d: %s\n", out.RunToken, trap.Code, trap.Node, trap.Message)
		} else {
			fmt.Fprintf(w, "✗ run %s: trap %s: %s\n", out.RunToken, trap.Code, trap.Message)
		}
		if formatter.Verbose && len(trap.Details) > 0 {
			keys := make([]string, 0, len(trap.Details))
			for k := range trap.Details {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "  %s: %s\n", k, trap.Details[k])
			}
		}

	case engine.OutcomeViolation:
		v := out.Violation
		fmt.Fprintf(w, "✗ run %s: %s violated at node %d: %s\n", out.RunToken, v.Kind, v.Contract, v.Message)
		if formatter.Verbose {
			for i, arg := range v.Args {
				fmt.Fprintf(w, "  arg %d = %s\n", i, arg.Text())
			}
			if v.ActualReturn != nil {
				fmt.Fprintf(w, "  actual return = %s\n", v.ActualReturn.Text())
			}
			for _, nv := range v.Counterexample {
				fmt.Fprintf(w, "  node %d = %s\n", nv.Node, nv.Value.Text())
			}
		}
	}

	if traced && out.Trace != nil {
		fmt.Fprintln(w, "trace:")
		for _, entry := range out.Trace {
			writeTraceEntry(w, entry, formatter.Verbose)
		}
	}

	return outcomeExit(out)
}

// outcomeExit maps the outcome kind to the command's error result.
func outcomeExit(out *engine.Outcome) error {
	switch out.Kind() {
	case engine.OutcomeTrap:
		return NewExitError(ExitFailure, fmt.Sprintf("trap %s", out.Trap.Code))
	case engine.OutcomeViolation:
		return NewExitError(ExitFailure, fmt.Sprintf("%s violation at node %d", out.Violation.Kind, out.Violation.Contract))
	default:
		return nil
	}
}
