package ir

import (
	"fmt"
	"slices"
)

// ScalarKind enumerates the built-in scalar types.
type ScalarKind uint8

const (
	ScalarInvalid ScalarKind = iota
	ScalarI8
	ScalarI16
	ScalarI32
	ScalarI64
	ScalarU8
	ScalarU16
	ScalarU32
	ScalarU64
	ScalarF64
	ScalarBool
	ScalarString
)

// String returns the canonical scalar name ("i64", "bool", ...). These
// names double as the registry names of the pre-registered builtins.
func (k ScalarKind) String() string {
	switch k {
	case ScalarI8:
		return "i8"
	case ScalarI16:
		return "i16"
	case ScalarI32:
		return "i32"
	case ScalarI64:
		return "i64"
	case ScalarU8:
		return "u8"
	case ScalarU16:
		return "u16"
	case ScalarU32:
		return "u32"
	case ScalarU64:
		return "u64"
	case ScalarF64:
		return "f64"
	case ScalarBool:
		return "bool"
	case ScalarString:
		return "string"
	default:
		return "invalid"
	}
}

// Bits returns the integer width, or 0 for non-integer scalars.
func (k ScalarKind) Bits() uint8 {
	switch k {
	case ScalarI8, ScalarU8:
		return 8
	case ScalarI16, ScalarU16:
		return 16
	case ScalarI32, ScalarU32:
		return 32
	case ScalarI64, ScalarU64:
		return 64
	default:
		return 0
	}
}

// IsInteger reports whether the scalar is a fixed-width integer.
func (k ScalarKind) IsInteger() bool {
	return k.Bits() != 0
}

// Signed reports whether the scalar is a signed integer.
func (k ScalarKind) Signed() bool {
	switch k {
	case ScalarI8, ScalarI16, ScalarI32, ScalarI64:
		return true
	default:
		return false
	}
}

// TypeDef is a sealed interface over the type definition kinds. Only
// ScalarDef, StructDef, EnumDef, ArrayDef, and ConstDef implement it.
type TypeDef interface {
	typeDef() // Sealed - only these types implement it

	// DefKind returns "scalar", "struct", "enum", "array", or "const".
	DefKind() string
}

// ScalarDef declares a built-in scalar type.
type ScalarDef struct {
	Scalar ScalarKind `json:"scalar"`
}

func (ScalarDef) typeDef() {}

// DefKind returns "scalar".
func (ScalarDef) DefKind() string { return "scalar" }

// FieldDef declares one field of a struct type.
type FieldDef struct {
	Name string `json:"name"`
	Type TypeID `json:"type"`
}

// StructDef declares a product type. Field order is declaration order and
// is part of the type's identity.
type StructDef struct {
	Fields []FieldDef `json:"fields"`
}

func (StructDef) typeDef() {}

// DefKind returns "struct".
func (StructDef) DefKind() string { return "struct" }

// VariantDef declares one variant of an enum type. Payload is zero for
// payload-free variants.
type VariantDef struct {
	Name    string `json:"name"`
	Payload TypeID `json:"payload,omitempty"`
}

// EnumDef declares a sum type.
type EnumDef struct {
	Variants []VariantDef `json:"variants"`
}

func (EnumDef) typeDef() {}

// DefKind returns "enum".
func (EnumDef) DefKind() string { return "enum" }

// ArrayDef declares a homogeneous array type. Len < 0 means the length is
// dynamic; a non-negative Len fixes it.
type ArrayDef struct {
	Elem TypeID `json:"elem"`
	Len  int    `json:"len"`
}

func (ArrayDef) typeDef() {}

// DefKind returns "array".
func (ArrayDef) DefKind() string { return "array" }

// ConstDef registers a constant literal. Const nodes reference a ConstDef
// by TypeID and evaluate to a clone of its value.
type ConstDef struct {
	Value Value `json:"-"`
}

func (ConstDef) typeDef() {}

// DefKind returns "const".
func (ConstDef) DefKind() string { return "const" }

// DuplicateTypeNameError is returned by Register when the declared name is
// already taken. Existing identifies the registration that owns the name.
type DuplicateTypeNameError struct {
	Name     string `json:"name"`
	Existing TypeID `json:"existing"`
}

func (e *DuplicateTypeNameError) Error() string {
	return fmt.Sprintf("type name %q already registered as type %d", e.Name, e.Existing)
}

// TypeNotFoundError is returned by Resolve for an unknown TypeID.
type TypeNotFoundError struct {
	ID TypeID `json:"id"`
}

func (e *TypeNotFoundError) Error() string {
	return fmt.Sprintf("type %d not found", e.ID)
}

// TypeRegistry holds the append-only type table of a Program. Ids are
// stable for the registry's lifetime; registrations are never removed or
// redefined. The registry is not safe for concurrent mutation; concurrent
// reads are fine once building is done.
type TypeRegistry struct {
	defs  map[TypeID]TypeDef
	names map[string]TypeID
	name  map[TypeID]string
	next  uint32
}

// NewTypeRegistry creates a registry with every scalar builtin
// pre-registered under its canonical name ("i8".."u64", "f64", "bool",
// "string"). Builtin ids are assigned in ScalarKind order, so they are
// identical across programs.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{
		defs:  make(map[TypeID]TypeDef),
		names: make(map[string]TypeID),
		name:  make(map[TypeID]string),
	}
	for k := ScalarI8; k <= ScalarString; k++ {
		if _, err := r.Register(k.String(), ScalarDef{Scalar: k}); err != nil {
			panic(err) // fresh registry cannot collide
		}
	}
	return r
}

// Register adds a named type definition and returns its id. The name must
// be unused; a *DuplicateTypeNameError identifies the existing owner
// otherwise.
func (r *TypeRegistry) Register(name string, def TypeDef) (TypeID, error) {
	if existing, ok := r.names[name]; ok {
		return 0, &DuplicateTypeNameError{Name: name, Existing: existing}
	}
	r.next++
	id := TypeID(r.next)
	r.defs[id] = def
	r.names[name] = id
	r.name[id] = name
	return id, nil
}

// Resolve returns the definition for id, or a *TypeNotFoundError.
func (r *TypeRegistry) Resolve(id TypeID) (TypeDef, error) {
	def, ok := r.defs[id]
	if !ok {
		return nil, &TypeNotFoundError{ID: id}
	}
	return def, nil
}

// Lookup returns the id registered under name.
func (r *TypeRegistry) Lookup(name string) (TypeID, bool) {
	id, ok := r.names[name]
	return id, ok
}

// NameOf returns the registered name for id.
func (r *TypeRegistry) NameOf(id TypeID) (string, bool) {
	n, ok := r.name[id]
	return n, ok
}

// Scalar returns the pre-registered builtin id for a scalar kind.
func (r *TypeRegistry) Scalar(k ScalarKind) TypeID {
	id, ok := r.names[k.String()]
	if !ok {
		return 0
	}
	return id
}

// IDs returns all registered ids in ascending order.
func (r *TypeRegistry) IDs() []TypeID {
	ids := make([]TypeID, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered types.
func (r *TypeRegistry) Len() int { return len(r.defs) }
