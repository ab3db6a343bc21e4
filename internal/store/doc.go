// Package store provides SQLite-backed durable storage for run outcomes
// and traces.
//
// The store is the tooling-side sink: the engine itself never persists
// anything. Each invocation becomes one row in runs (canonical-JSON
// payload, outcome kind, step count) plus, when tracing was on, one row
// per trace entry.
//
// # Patterns
//
//   - All ordering uses seq INTEGER (a logical clock assigned at write
//     time), NEVER timestamps. Listings are replay-stable.
//   - Listing queries order by seq ASC, run_token ASC COLLATE BINARY.
//   - Writes are idempotent: INSERT ... ON CONFLICT DO NOTHING, one
//     transaction per run, trace entries included.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// Payloads are canonical JSON per RFC 8785 (ir.MarshalCanonical), so a
// stored run can be byte-compared and hashed exactly like a live one.
package store
