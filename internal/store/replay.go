package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/snowdamiz/lmlang-sub002/internal/engine"
	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// VerifyResult reports whether a stored run reproduces bit-for-bit when
// replayed against the same program.
type VerifyResult struct {
	RunToken     string
	Match        bool
	StoredHash   string
	ReplayedHash string
	StoredKind   string
	ReplayedKind string
}

// VerifyRun re-executes a stored run and compares the fresh payload
// against the stored one. The replay engine pins the stored run token,
// recursion limit, and contract-check flag, so a deterministic engine
// must reproduce the stored payload byte for byte; a mismatch means
// either the program changed or determinism broke.
//
// The program must fingerprint to the stored program_hash; replaying a
// run against a different program is an error, not a mismatch.
//
// Replay evaluates against the program's current by-ref capture cells.
// Runs over functions that mutate shared cells may legitimately diverge
// and will advance that state again.
func (s *Store) VerifyRun(ctx context.Context, prog *ir.Program, token string) (VerifyResult, error) {
	rec, err := s.ReadRun(ctx, token)
	if err != nil {
		return VerifyResult{}, err
	}

	fingerprint, err := ir.FingerprintProgram(prog)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify run %q: %w", token, err)
	}
	if fingerprint != rec.ProgramHash {
		return VerifyResult{}, fmt.Errorf("verify run %q: program fingerprint %s does not match stored %s", token, fingerprint, rec.ProgramHash)
	}

	args, err := unmarshalArgs(rec.Args)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify run %q: %w", token, err)
	}

	// The original invocation already logged; the replay stays quiet.
	eng, err := engine.New(prog,
		engine.WithRecursionLimit(rec.RecursionLimit),
		engine.WithContractChecks(rec.ContractChecks),
		engine.WithRunTokens(engine.NewFixedSource(token)),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify run %q: %w", token, err)
	}
	out := eng.Invoke(rec.Function, args)

	replayed, err := marshalOutcome(out)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verify run %q: %w", token, err)
	}

	return VerifyResult{
		RunToken:     token,
		Match:        replayed == rec.Payload,
		StoredHash:   ir.HashOutcome([]byte(rec.Payload)),
		ReplayedHash: ir.HashOutcome([]byte(replayed)),
		StoredKind:   rec.Kind,
		ReplayedKind: string(out.Kind()),
	}, nil
}
