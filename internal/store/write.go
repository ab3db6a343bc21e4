package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/snowdamiz/lmlang-sub002/internal/engine"
	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// RunMeta carries the context of an invocation that the outcome itself
// does not know: which program produced it and under what configuration.
type RunMeta struct {
	// ProgramHash is the fingerprint of the invoked program
	// (ir.FingerprintProgram).
	ProgramHash string

	// FunctionName is the invoked function's name at write time. Stored
	// denormalized so listings stay readable without the program.
	FunctionName string

	// Args are the invocation arguments. Stored so VerifyRun can replay
	// the run later.
	Args []ir.Value

	// RecursionLimit is the engine's configured call depth ceiling.
	RecursionLimit int

	// ContractChecks records whether contract checking was on.
	ContractChecks bool

	// EngineVersion and IRVersion pin the producing toolchain
	// (ir.EngineVersion, ir.IRVersion).
	EngineVersion string
	IRVersion     string
}

// WriteRun inserts one outcome and its trace entries atomically.
// Uses ON CONFLICT DO NOTHING for idempotency - writing the same run
// token twice is a silent no-op, trace entries included.
//
// The run's seq is assigned inside the transaction as max(seq)+1: a
// logical clock, so listing order reflects write order without clocks.
func (s *Store) WriteRun(ctx context.Context, out *engine.Outcome, meta RunMeta) error {
	payload, err := marshalOutcome(out)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	args, err := marshalArgs(meta.Args)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return fmt.Errorf("write run: next seq: %w", err)
	}

	checks := 0
	if meta.ContractChecks {
		checks = 1
	}
	traced := 0
	if out.Trace != nil {
		traced = 1
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(run_token, seq, program_hash, fn, fn_name, args, kind, steps, payload, recursion_limit, contract_checks, traced, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		out.RunToken,
		seq,
		meta.ProgramHash,
		out.Function,
		meta.FunctionName,
		args,
		string(out.Kind()),
		out.Steps,
		payload,
		meta.RecursionLimit,
		checks,
		traced,
		meta.EngineVersion,
		meta.IRVersion,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write run: rows affected: %w", err)
	}
	if inserted == 0 {
		// Run token already recorded; entries were written with it.
		return tx.Commit()
	}

	for _, entry := range out.Trace {
		if err := writeTraceEntry(ctx, tx, out.RunToken, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write run: commit: %w", err)
	}
	return nil
}

func writeTraceEntry(ctx context.Context, tx *sql.Tx, token string, entry engine.TraceEntry) error {
	inputs, err := marshalInputs(entry.Inputs)
	if err != nil {
		return fmt.Errorf("write trace entry %d: %w", entry.Seq, err)
	}
	output, err := marshalOutput(entry.Output)
	if err != nil {
		return fmt.Errorf("write trace entry %d: %w", entry.Seq, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trace_entries
		(run_token, idx, fn, depth, node, op, inputs, output)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		token,
		entry.Seq,
		entry.Function,
		entry.Depth,
		entry.Node,
		entry.Op,
		inputs,
		output,
	)
	if err != nil {
		return fmt.Errorf("write trace entry %d: %w", entry.Seq, err)
	}
	return nil
}
