package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed fingerprints. The version suffix
// enables future algorithm migration without colliding with old hashes.
const (
	DomainFunction = "lmlang/function/v1"
	DomainProgram  = "lmlang/program/v1"
	DomainOutcome  = "lmlang/outcome/v1"
)

// hashWithDomain computes SHA-256 with domain separation:
// SHA256(domain + 0x00 + data). The null byte prevents domain/data
// boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashOutcome fingerprints pre-marshaled canonical outcome bytes. The
// store and the determinism checks compare these instead of raw payloads.
func HashOutcome(canonical []byte) string {
	return hashWithDomain(DomainOutcome, canonical)
}

// FingerprintFunction computes a content-addressed fingerprint of one
// function graph: signature, captures, nodes, and both edge tables, all
// in id order. Two functions with identical structure and ids hash
// identically regardless of map iteration order or build history.
func FingerprintFunction(f *Function) (string, error) {
	doc, err := functionDoc(f)
	if err != nil {
		return "", err
	}
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("fingerprint function %q: %w", f.Name, err)
	}
	return hashWithDomain(DomainFunction, canonical), nil
}

// FingerprintProgram computes a content-addressed fingerprint of the
// whole program: the type table, the module tree, and every function
// fingerprint, in id order.
func FingerprintProgram(p *Program) (string, error) {
	types := make([]any, 0, p.Types.Len())
	for _, id := range p.Types.IDs() {
		def, err := p.Types.Resolve(id)
		if err != nil {
			return "", err
		}
		name, _ := p.Types.NameOf(id)
		entry := map[string]any{
			"id":   id,
			"name": name,
			"def":  def.DefKind(),
		}
		if c, ok := def.(ConstDef); ok {
			entry["value"] = c.Value
		}
		types = append(types, entry)
	}

	modules := make([]any, 0, len(p.modules))
	for _, id := range p.Modules() {
		m := p.modules[id]
		entry := map[string]any{
			"id":     m.ID,
			"name":   m.Name,
			"parent": m.Parent,
		}
		funcs := make([]any, len(m.Functions))
		for i, fid := range m.Functions {
			funcs[i] = fid
		}
		entry["functions"] = funcs
		modules = append(modules, entry)
	}

	funcs := make([]any, 0, len(p.funcs))
	for _, id := range p.Functions() {
		fp, err := FingerprintFunction(p.funcs[id])
		if err != nil {
			return "", err
		}
		funcs = append(funcs, map[string]any{"id": id, "hash": fp})
	}

	canonical, err := MarshalCanonical(map[string]any{
		"types":     types,
		"modules":   modules,
		"functions": funcs,
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint program: %w", err)
	}
	return hashWithDomain(DomainProgram, canonical), nil
}

// functionDoc flattens a function into canonical-JSON-ready maps.
func functionDoc(f *Function) (map[string]any, error) {
	params := make([]any, len(f.Params))
	for i, p := range f.Params {
		params[i] = map[string]any{"name": p.Name, "type": p.Type}
	}

	captures := make([]any, len(f.Captures))
	for i, c := range f.Captures {
		entry := map[string]any{
			"name": c.Name,
			"mode": c.Mode.String(),
			"type": c.Type,
		}
		if c.Mode == CaptureByValue && c.Cell != nil && c.Cell.Value != nil {
			entry["value"] = c.Cell.Value
		}
		captures[i] = entry
	}

	nodes := make([]any, 0, len(f.Nodes))
	for _, id := range f.SortedNodeIDs() {
		attrs := OpAttrs(f.Nodes[id].Op)
		attrs["id"] = id
		nodes = append(nodes, attrs)
	}

	semantic := make([]any, 0, len(f.Semantic))
	for _, id := range f.SortedSemanticIDs() {
		e := f.Semantic[id]
		semantic = append(semantic, map[string]any{
			"id": e.ID, "from": e.From, "to": e.To, "port": e.Port,
		})
	}

	flow := make([]any, 0, len(f.Flow))
	for _, id := range f.SortedFlowIDs() {
		e := f.Flow[id]
		flow = append(flow, map[string]any{
			"id": e.ID, "from": e.From, "to": e.To, "when": e.When.String(),
		})
	}

	return map[string]any{
		"id":       f.ID,
		"name":     f.Name,
		"params":   params,
		"result":   f.Result,
		"captures": captures,
		"nodes":    nodes,
		"semantic": semantic,
		"flow":     flow,
	}, nil
}

// MustFingerprintFunction is like FingerprintFunction but panics on
// error. Use only in tests or when inputs are known to be valid.
func MustFingerprintFunction(f *Function) string {
	fp, err := FingerprintFunction(f)
	if err != nil {
		panic(err)
	}
	return fp
}

// MustFingerprintProgram is like FingerprintProgram but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFingerprintProgram(p *Program) string {
	fp, err := FingerprintProgram(p)
	if err != nil {
		panic(err)
	}
	return fp
}
