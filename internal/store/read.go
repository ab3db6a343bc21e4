package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/snowdamiz/lmlang-sub002/internal/engine"
	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// RunRecord is one stored outcome row. Payload is the canonical JSON
// outcome document without its trace; the trace lives in trace_entries.
// Args holds the invocation arguments in canonical JSON, kept so the
// run can be replayed.
type RunRecord struct {
	RunToken       string
	Seq            int64
	ProgramHash    string
	Function       ir.FuncID
	FunctionName   string
	Args           string
	Kind           string
	Steps          int
	Payload        string
	RecursionLimit int
	ContractChecks bool
	Traced         bool
	EngineVersion  string
	IRVersion      string
}

// ReadRun retrieves a single run by token.
// Returns ErrNotFound if the token was never recorded.
func (s *Store) ReadRun(ctx context.Context, token string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_token, seq, program_hash, fn, fn_name, args, kind, steps, payload, recursion_limit, contract_checks, traced, engine_version, ir_version
		FROM runs
		WHERE run_token = ?
	`, token)

	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("read run %q: %w", token, ErrNotFound)
	}
	return rec, err
}

// ListRuns returns every stored run with deterministic ordering:
// ORDER BY seq ASC, run_token ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) when the store is empty.
func (s *Store) ListRuns(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_token, seq, program_hash, fn, fn_name, args, kind, steps, payload, recursion_limit, contract_checks, traced, engine_version, ir_version
		FROM runs
		ORDER BY seq ASC, run_token COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	if records == nil {
		records = []RunRecord{}
	}

	return records, nil
}

// ReadTrace returns the recorded trace of a run in execution order.
// Returns an empty slice (not nil) for runs recorded without tracing,
// and ErrNotFound for tokens the store has never seen.
func (s *Store) ReadTrace(ctx context.Context, token string) ([]engine.TraceEntry, error) {
	if _, err := s.ReadRun(ctx, token); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, fn, depth, node, op, inputs, output
		FROM trace_entries
		WHERE run_token = ?
		ORDER BY idx ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}
	defer rows.Close()

	var entries []engine.TraceEntry
	for rows.Next() {
		entry, err := scanTraceEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace: %w", err)
	}

	if entries == nil {
		entries = []engine.TraceEntry{}
	}

	return entries, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRecord, error) {
	var rec RunRecord
	var checks, traced int
	err := sc.Scan(
		&rec.RunToken,
		&rec.Seq,
		&rec.ProgramHash,
		&rec.Function,
		&rec.FunctionName,
		&rec.Args,
		&rec.Kind,
		&rec.Steps,
		&rec.Payload,
		&rec.RecursionLimit,
		&checks,
		&traced,
		&rec.EngineVersion,
		&rec.IRVersion,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, err
		}
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	rec.ContractChecks = checks != 0
	rec.Traced = traced != 0
	return rec, nil
}

func scanTraceEntry(sc scanner) (engine.TraceEntry, error) {
	var entry engine.TraceEntry
	var inputs string
	var output sql.NullString
	err := sc.Scan(
		&entry.Seq,
		&entry.Function,
		&entry.Depth,
		&entry.Node,
		&entry.Op,
		&inputs,
		&output,
	)
	if err != nil {
		return engine.TraceEntry{}, fmt.Errorf("scan trace entry: %w", err)
	}

	entry.Inputs, err = unmarshalInputs(inputs)
	if err != nil {
		return engine.TraceEntry{}, fmt.Errorf("scan trace entry %d: %w", entry.Seq, err)
	}
	entry.Output, err = unmarshalOutput(output)
	if err != nil {
		return engine.TraceEntry{}, fmt.Errorf("scan trace entry %d: %w", entry.Seq, err)
	}

	return entry, nil
}
