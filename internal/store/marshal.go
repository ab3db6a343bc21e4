package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/snowdamiz/lmlang-sub002/internal/engine"
	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// marshalArgs converts invocation arguments to canonical JSON TEXT.
// Stored so a run can be replayed bit-for-bit later.
func marshalArgs(args []ir.Value) (string, error) {
	docs := make([]any, len(args))
	for i, v := range args {
		docs[i] = v
	}
	data, err := ir.MarshalCanonical(docs)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

// unmarshalArgs parses stored invocation arguments.
func unmarshalArgs(data string) ([]ir.Value, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	args := make([]ir.Value, len(raw))
	for i, r := range raw {
		v, err := ir.DecodeValue(r)
		if err != nil {
			return nil, fmt.Errorf("unmarshal args: argument %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}

// marshalOutcome converts an outcome to canonical JSON TEXT for storage.
// The trace is stripped first: entries live in their own table, and the
// payload must hash identically whether or not tracing was on.
func marshalOutcome(out *engine.Outcome) (string, error) {
	stripped := *out
	stripped.Trace = nil
	data, err := stripped.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("marshal outcome: %w", err)
	}
	return string(data), nil
}

// marshalInputs converts a trace entry's inputs to canonical JSON TEXT.
func marshalInputs(inputs []engine.PortValue) (string, error) {
	docs := make([]any, len(inputs))
	for i, pv := range inputs {
		docs[i] = map[string]any{"port": pv.Port, "value": pv.Value}
	}
	data, err := ir.MarshalCanonical(docs)
	if err != nil {
		return "", fmt.Errorf("marshal inputs: %w", err)
	}
	return string(data), nil
}

// marshalOutput converts a trace entry's output to canonical JSON TEXT,
// or SQL NULL for void operations.
func marshalOutput(output ir.Value) (sql.NullString, error) {
	if output == nil {
		return sql.NullString{}, nil
	}
	data, err := ir.MarshalCanonical(output)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal output: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalInputs parses canonical JSON TEXT back into port values.
// Zero-input entries come back as empty non-nil slices, matching what
// the trace recorder produces, so round-tripped entries compare equal.
func unmarshalInputs(data string) ([]engine.PortValue, error) {
	if data == "" || data == "[]" {
		return []engine.PortValue{}, nil
	}
	var raw []struct {
		Port  ir.Port         `json:"port"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal inputs: %w", err)
	}
	inputs := make([]engine.PortValue, len(raw))
	for i, r := range raw {
		v, err := ir.DecodeValue(r.Value)
		if err != nil {
			return nil, fmt.Errorf("unmarshal inputs: port %d: %w", r.Port, err)
		}
		inputs[i] = engine.PortValue{Port: r.Port, Value: v}
	}
	return inputs, nil
}

// unmarshalOutput parses a stored output column, mapping NULL to nil.
func unmarshalOutput(data sql.NullString) (ir.Value, error) {
	if !data.Valid {
		return nil, nil
	}
	v, err := ir.DecodeValue([]byte(data.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal output: %w", err)
	}
	return v, nil
}
