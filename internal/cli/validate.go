package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/snowdamiz/lmlang-sub002/internal/compiler"
	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Watch bool
}

// ValidationIssue is one defect found in a document, in document
// coordinates (field + source line) or graph coordinates (fn/node/edge).
type ValidationIssue struct {
	Code    string `json:"code"`
	Where   string `json:"where,omitempty"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results for one document.
type ValidationResult struct {
	Document string            `json:"document"`
	Valid    bool              `json:"valid"`
	Summary  *ProgramSummary   `json:"summary,omitempty"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <document.cue>",
		Short: "Validate a graph document",
		Long: `Validate a CUE graph document: format version, document shape,
type and const references, and graph structure (port arities, producer
uniqueness, acyclicity, contract isolation).

Reports every defect at once with E-coded positions. With --watch, the
document is revalidated on every write until interrupted.

Exit codes:
  0 - Document valid
  1 - Validation errors found
  2 - Command error (document missing, unreadable)

Examples:
  lmlang validate ./docs/math.cue
  lmlang validate ./docs/math.cue --watch
  lmlang validate ./docs/math.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "revalidate on document changes")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if err := statDocument(path); err != nil {
		_ = formatter.Error(compiler.ErrCodeRead, err.Error(), nil)
		return err
	}

	if !opts.Watch {
		return validateOnce(path, formatter)
	}
	return watchValidate(cmd.Context(), path, formatter)
}

// validateOnce runs one validation pass over the document.
func validateOnce(path string, formatter *OutputFormatter) error {
	errs := compiler.ValidateFile(path)
	if len(errs) == 0 {
		return outputValidateSuccess(path, formatter)
	}

	issues := make([]ValidationIssue, 0, len(errs))
	for _, err := range errs {
		issues = append(issues, issueFromError(err))
	}
	return outputValidationErrors(path, formatter, issues)
}

// watchValidate revalidates the document whenever it changes on disk.
// Validation failures keep the watch alive; only watcher and setup
// errors abort.
func watchValidate(ctx context.Context, path string, formatter *OutputFormatter) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start watcher", err)
	}
	defer watcher.Close()

	// Watch the directory: editors typically replace the file on save,
	// which would drop a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return WrapExitError(ExitCommandError, "failed to watch document directory", err)
	}

	_ = validateOnce(path, formatter)
	formatter.VerboseLog("watching %s", path)

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if formatter.Format != "json" {
				fmt.Fprintf(formatter.Writer, "--- %s changed\n", path)
			}
			_ = validateOnce(path, formatter)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			formatter.VerboseLog("watch error: %v", err)
		}
	}
}

// issueFromError converts a compiler or graph validation error into
// the common issue shape.
func issueFromError(err error) ValidationIssue {
	var cerr *compiler.CompileError
	if errors.As(err, &cerr) {
		issue := ValidationIssue{
			Code:    cerr.Code,
			Where:   cerr.Field,
			Message: cerr.Message,
		}
		if cerr.Pos.IsValid() {
			issue.Line = cerr.Pos.Line()
		}
		return issue
	}

	var verr ir.ValidationError
	if errors.As(err, &verr) {
		return ValidationIssue{
			Code:    verr.Code,
			Where:   graphLocation(verr),
			Message: verr.Message,
		}
	}

	return ValidationIssue{Code: compiler.ErrCodeCUE, Message: err.Error()}
}

// graphLocation renders the fn/node/edge coordinates of a graph defect.
func graphLocation(verr ir.ValidationError) string {
	loc := ""
	if verr.Function.IsValid() {
		loc = fmt.Sprintf("fn %d", verr.Function)
	}
	if verr.Node.IsValid() {
		loc += fmt.Sprintf(" node %d", verr.Node)
	}
	if verr.Edge.IsValid() {
		loc += fmt.Sprintf(" edge %d", verr.Edge)
	}
	if loc == "" {
		return ""
	}
	if loc[0] == ' ' {
		loc = loc[1:]
	}
	return loc
}

// outputValidateSuccess outputs a successful validation pass.
func outputValidateSuccess(path string, formatter *OutputFormatter) error {
	// The document is clean, so compiling again for the summary
	// cannot fail in a way validation did not already report.
	summary := ProgramSummary{}
	if prog, err := compiler.CompileFile(path); err == nil {
		summary = summarize(prog)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{
			Document: path,
			Valid:    true,
			Summary:  &summary,
		})
	}

	fmt.Fprintf(formatter.Writer, "✓ %s valid: %d module(s), %d function(s), %d node(s), %d edge(s)\n",
		path, summary.Modules, summary.Functions, summary.Nodes, summary.Edges)
	return nil
}

// outputValidationErrors outputs every defect and fails the command.
func outputValidationErrors(path string, formatter *OutputFormatter, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		result := ValidationResult{Document: path, Valid: false, Errors: issues}
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: issues[0].Code, Message: issues[0].Message},
		}
		if err := writeJSON(formatter.Writer, response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	fmt.Fprintf(formatter.Writer, "✗ %s invalid\n\n", path)
	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", issue.Line)
		}
		if issue.Where != "" {
			fmt.Fprintf(formatter.Writer, "  %s %s: %s\n\n", issue.Code, issue.Where, issue.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}
