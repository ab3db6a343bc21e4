package ir

// Module is one node of the program's ownership tree. Every function and
// every child module has exactly one owner; the tree is strict (no
// sharing, no cycles by construction since parents are fixed at creation).
type Module struct {
	ID     ModuleID `json:"id"`
	Name   string   `json:"name"`
	Parent ModuleID `json:"parent,omitempty"` // zero for the root

	Functions []FuncID   `json:"functions,omitempty"`
	Children  []ModuleID `json:"children,omitempty"`
	Types     []TypeID   `json:"types,omitempty"`
}

// IsRoot reports whether the module has no parent.
func (m *Module) IsRoot() bool { return !m.Parent.IsValid() }
