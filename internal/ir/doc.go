// Package ir defines the graph program representation: typed values, the
// type registry, operation nodes, semantic and flow edges, functions,
// modules, and the Program that owns them.
//
// This package contains the data model and the pure graph algorithms that
// close over it (validation, canonical ordering, contract tagging,
// fingerprinting). All other internal packages import ir; ir imports
// nothing internal. This keeps the representation the foundational layer
// with no circular dependencies.
//
// Key design constraints:
//   - Identifiers are opaque uint32 handles; zero is never valid and ids
//     are never reused after removal.
//   - A (consumer, port) pair has at most one semantic producer.
//   - The union of semantic and flow edges must be acyclic per function.
//   - All JSON tags use snake_case.
//   - Canonical serialization is RFC 8785 style: UTF-16 key order, NFC
//     strings, no HTML escaping.
package ir
