package ir

// Opaque identifier types for the five graph entity kinds. Each is a
// distinct type so a FuncID cannot be passed where a NodeID is expected.
// Zero is the invalid sentinel for all of them; allocators start at 1 and
// never hand out the same id twice, even after the entity is removed.
type (
	// NodeID identifies an operation node within a Program.
	NodeID uint32

	// EdgeID identifies a semantic or flow edge within a Program.
	// Semantic and flow edges draw from the same allocator, so an EdgeID
	// is unique across both kinds.
	EdgeID uint32

	// FuncID identifies a function definition.
	FuncID uint32

	// ModuleID identifies a module in the ownership tree.
	ModuleID uint32

	// TypeID identifies an entry in the type registry.
	TypeID uint32
)

// IsValid reports whether the id refers to an allocated entity.
func (id NodeID) IsValid() bool { return id != 0 }

// IsValid reports whether the id refers to an allocated entity.
func (id EdgeID) IsValid() bool { return id != 0 }

// IsValid reports whether the id refers to an allocated entity.
func (id FuncID) IsValid() bool { return id != 0 }

// IsValid reports whether the id refers to an allocated entity.
func (id ModuleID) IsValid() bool { return id != 0 }

// IsValid reports whether the id refers to an allocated entity.
func (id TypeID) IsValid() bool { return id != 0 }

// Port addresses one input slot of a node. Ports are dense and zero-based;
// a node's valid ports are 0..arity-1. Node outputs need no port because
// every node has at most one output.
type Port int
