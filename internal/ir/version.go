package ir

// Version constants for the representation and engine.
const (
	// IRVersion is the graph representation schema version.
	IRVersion = "1"

	// EngineVersion is the interpreter release version.
	EngineVersion = "0.1.0"

	// DocumentFormat is the graph document format version the compiler
	// accepts; documents gate on it with a semver range.
	DocumentFormat = "1.0.0"
)
