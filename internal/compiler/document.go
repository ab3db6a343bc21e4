package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"
	"github.com/Masterminds/semver/v3"

	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// FormatConstraint is the range of document format versions this
// compiler accepts. Bumping the major version of ir.DocumentFormat
// means widening or replacing this range.
const FormatConstraint = ">=1.0.0 <2.0.0"

var formatRange = mustConstraint(FormatConstraint)

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(fmt.Sprintf("compiler: bad format constraint %q: %v", s, err))
	}
	return c
}

// Compile builds a program from an evaluated graph document. The
// document names types, consts, functions, and nested modules; node
// graphs reference earlier declarations by name. Compilation stops at
// the first defect; the graph itself is not validated here, because
// the interpreter validates on construction and editors may want to
// hold malformed intermediates.
func Compile(v cue.Value) (*ir.Program, error) {
	c := newCompiler(false)
	if err := c.run(v); err != nil {
		return nil, err
	}
	return c.b.Program(), nil
}

// CompileFile reads, evaluates, and compiles a single-file document.
func CompileFile(path string) (*ir.Program, error) {
	v, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	return Compile(v)
}

// Validate reports every defect it can find: all document-level errors
// first, and graph-level validation only when the document itself is
// clean, since a half-built program produces spurious graph noise.
func Validate(v cue.Value) []error {
	c := newCompiler(true)
	if err := c.run(v); err != nil {
		return append(c.errs, err)
	}
	if len(c.errs) > 0 {
		return c.errs
	}
	var errs []error
	for _, ve := range c.b.Program().Validate() {
		errs = append(errs, ve)
	}
	return errs
}

// ValidateFile is Validate over a document file.
func ValidateFile(path string) []error {
	v, err := loadFile(path)
	if err != nil {
		return []error{err}
	}
	return Validate(v)
}

func loadFile(path string) (cue.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, errf(ErrCodeRead, "document", token.NoPos, "%v", err)
	}
	v := cuecontext.New().CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError("document", err)
	}
	return v, nil
}

// compiler holds the state of one compilation. Pass A walks the module
// tree declaring types, consts, and function signatures; pass B
// compiles each function body against the full namespace, so bodies
// may call functions declared after them.
type compiler struct {
	b       *ir.Builder
	funcs   map[string]ir.FuncID
	bodies  []body
	errs    []error
	collect bool
}

// body is a function whose graph still awaits pass B.
type body struct {
	fn    ir.FuncID
	field string
	v     cue.Value
}

func newCompiler(collect bool) *compiler {
	return &compiler{
		b:       ir.NewBuilder(),
		funcs:   make(map[string]ir.FuncID),
		collect: collect,
	}
}

// sink routes an error by mode: collected and swallowed when gathering
// everything, passed through when failing fast. Callers invoke it at
// declaration boundaries, so one bad declaration never hides the next.
func (c *compiler) sink(err error) error {
	if err == nil {
		return nil
	}
	if c.collect {
		c.errs = append(c.errs, err)
		return nil
	}
	return err
}

func (c *compiler) run(v cue.Value) error {
	if err := v.Err(); err != nil {
		return formatCUEError("document", err)
	}
	// Nothing below the version gate is trustworthy, so a format
	// failure aborts even when collecting.
	if err := c.checkFormat(v); err != nil {
		return err
	}
	moduleVal := v.LookupPath(cue.ParsePath("module"))
	if !moduleVal.Exists() {
		return c.sink(errf(ErrCodeModule, "module", v.Pos(), "document needs a module block"))
	}
	if err := c.declareModule(moduleVal, c.b.Program().Root, "module"); err != nil {
		return err
	}
	for _, bd := range c.bodies {
		if err := c.sink(c.compileBody(bd)); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) checkFormat(v cue.Value) error {
	fv := v.LookupPath(cue.ParsePath("format_version"))
	if !fv.Exists() {
		return errf(ErrCodeFormatVersion, "format_version", v.Pos(), "document needs a format_version")
	}
	s, err := fv.String()
	if err != nil {
		return formatCUEError("format_version", err)
	}
	ver, err := semver.NewVersion(s)
	if err != nil {
		return errf(ErrCodeFormatVersion, "format_version", fv.Pos(), "bad version %q: %v", s, err)
	}
	if !formatRange.Check(ver) {
		return errf(ErrCodeFormatRange, "format_version", fv.Pos(), "version %s outside supported range %s", s, FormatConstraint)
	}
	return nil
}

func (c *compiler) declareModule(mv cue.Value, mid ir.ModuleID, path string) error {
	if err := c.declareTypes(mv, mid, path); err != nil {
		return err
	}
	if err := c.declareConsts(mv, mid, path); err != nil {
		return err
	}
	if err := c.declareFunctions(mv, mid, path); err != nil {
		return err
	}

	modsVal := mv.LookupPath(cue.ParsePath("modules"))
	if !modsVal.Exists() {
		return nil
	}
	iter, err := modsVal.Fields()
	if err != nil {
		return c.sink(formatCUEError(path+".modules", err))
	}
	for iter.Next() {
		name := iter.Label()
		field := path + ".modules." + name
		child, err := c.b.AddModule(mid, name)
		if err != nil {
			if err := c.sink(errf(ErrCodeModule, field, iter.Value().Pos(), "%v", err)); err != nil {
				return err
			}
			continue
		}
		if err := c.declareModule(iter.Value(), child, field); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) declareTypes(mv cue.Value, mid ir.ModuleID, path string) error {
	typesVal := mv.LookupPath(cue.ParsePath("types"))
	if !typesVal.Exists() {
		return nil
	}
	iter, err := typesVal.Fields()
	if err != nil {
		return c.sink(formatCUEError(path+".types", err))
	}
	for iter.Next() {
		name := iter.Label()
		if err := c.sink(c.declareType(iter.Value(), mid, name, path+".types."+name)); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) declareType(tv cue.Value, mid ir.ModuleID, name, field string) error {
	def, err := c.parseTypeDef(tv, field)
	if err != nil {
		return err
	}
	id, err := c.b.RegisterType(name, def)
	if err != nil {
		return errf(ErrCodeType, field, tv.Pos(), "%v", err)
	}
	c.attach(mid, id)
	return nil
}

func (c *compiler) parseTypeDef(tv cue.Value, field string) (ir.TypeDef, error) {
	types := c.b.Program().Types

	if av := tv.LookupPath(cue.ParsePath("array")); av.Exists() {
		ev := av.LookupPath(cue.ParsePath("elem"))
		if !ev.Exists() {
			return nil, errf(ErrCodeType, field, av.Pos(), "array type needs an elem")
		}
		elem, err := parseTypeRef(types, ev, field+".array.elem")
		if err != nil {
			return nil, err
		}
		length := -1
		if lv := av.LookupPath(cue.ParsePath("len")); lv.Exists() {
			n, err := lv.Int64()
			if err != nil {
				return nil, formatCUEError(field+".array.len", err)
			}
			if n < 0 {
				return nil, errf(ErrCodeType, field+".array.len", lv.Pos(), "fixed length must be non-negative, got %d", n)
			}
			length = int(n)
		}
		return ir.ArrayDef{Elem: elem, Len: length}, nil
	}

	if sv := tv.LookupPath(cue.ParsePath("struct")); sv.Exists() {
		iter, err := sv.List()
		if err != nil {
			return nil, formatCUEError(field+".struct", err)
		}
		var fields []ir.FieldDef
		for i := 0; iter.Next(); i++ {
			item := iter.Value()
			ffield := fmt.Sprintf("%s.struct[%d]", field, i)
			fname, err := item.LookupPath(cue.ParsePath("name")).String()
			if err != nil {
				return nil, formatCUEError(ffield+".name", err)
			}
			typ, err := parseTypeRef(types, item.LookupPath(cue.ParsePath("type")), ffield+".type")
			if err != nil {
				return nil, err
			}
			fields = append(fields, ir.FieldDef{Name: fname, Type: typ})
		}
		return ir.StructDef{Fields: fields}, nil
	}

	if ev := tv.LookupPath(cue.ParsePath("enum")); ev.Exists() {
		iter, err := ev.List()
		if err != nil {
			return nil, formatCUEError(field+".enum", err)
		}
		var variants []ir.VariantDef
		for i := 0; iter.Next(); i++ {
			item := iter.Value()
			vfield := fmt.Sprintf("%s.enum[%d]", field, i)
			vname, err := item.LookupPath(cue.ParsePath("name")).String()
			if err != nil {
				return nil, formatCUEError(vfield+".name", err)
			}
			variant := ir.VariantDef{Name: vname}
			if pv := item.LookupPath(cue.ParsePath("payload")); pv.Exists() {
				variant.Payload, err = parseTypeRef(types, pv, vfield+".payload")
				if err != nil {
					return nil, err
				}
			}
			variants = append(variants, variant)
		}
		return ir.EnumDef{Variants: variants}, nil
	}

	return nil, errf(ErrCodeType, field, tv.Pos(), "type needs an array, struct, or enum definition")
}

func (c *compiler) declareConsts(mv cue.Value, mid ir.ModuleID, path string) error {
	constsVal := mv.LookupPath(cue.ParsePath("consts"))
	if !constsVal.Exists() {
		return nil
	}
	iter, err := constsVal.Fields()
	if err != nil {
		return c.sink(formatCUEError(path+".consts", err))
	}
	for iter.Next() {
		name := iter.Label()
		if err := c.sink(c.declareConst(iter.Value(), mid, name, path+".consts."+name)); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) declareConst(cv cue.Value, mid ir.ModuleID, name, field string) error {
	val, err := parseValue(cv, field)
	if err != nil {
		return err
	}
	id, err := c.b.RegisterConst(name, val)
	if err != nil {
		return errf(ErrCodeConst, field, cv.Pos(), "%v", err)
	}
	c.attach(mid, id)
	return nil
}

// attach records a declaration on its owning module so exporters can
// reconstruct the tree. The registry namespace stays program-global.
func (c *compiler) attach(mid ir.ModuleID, id ir.TypeID) {
	if m, ok := c.b.Program().Module(mid); ok {
		m.Types = append(m.Types, id)
	}
}

func (c *compiler) declareFunctions(mv cue.Value, mid ir.ModuleID, path string) error {
	fnsVal := mv.LookupPath(cue.ParsePath("functions"))
	if !fnsVal.Exists() {
		return nil
	}
	iter, err := fnsVal.Fields()
	if err != nil {
		return c.sink(formatCUEError(path+".functions", err))
	}
	for iter.Next() {
		name := iter.Label()
		if err := c.sink(c.declareFunction(iter.Value(), mid, name, path+".functions."+name)); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) declareFunction(fv cue.Value, mid ir.ModuleID, name, field string) error {
	if _, dup := c.funcs[name]; dup {
		return errf(ErrCodeDuplicateFunc, field, fv.Pos(), "function %q declared twice", name)
	}
	params, err := c.parseParams(fv, field)
	if err != nil {
		return err
	}
	resultVal := fv.LookupPath(cue.ParsePath("result"))
	if !resultVal.Exists() {
		return errf(ErrCodeFunction, field+".result", fv.Pos(), "function needs a result type")
	}
	result, err := parseTypeRef(c.b.Program().Types, resultVal, field+".result")
	if err != nil {
		return err
	}
	fn, err := c.b.AddFunction(mid, name, params, result)
	if err != nil {
		return errf(ErrCodeFunction, field, fv.Pos(), "%v", err)
	}
	c.funcs[name] = fn
	c.bodies = append(c.bodies, body{fn: fn, field: field, v: fv})
	return nil
}

func (c *compiler) parseParams(fv cue.Value, field string) ([]ir.ParamDef, error) {
	pv := fv.LookupPath(cue.ParsePath("params"))
	if !pv.Exists() {
		return nil, nil
	}
	iter, err := pv.List()
	if err != nil {
		return nil, formatCUEError(field+".params", err)
	}
	var params []ir.ParamDef
	for i := 0; iter.Next(); i++ {
		item := iter.Value()
		pfield := fmt.Sprintf("%s.params[%d]", field, i)
		name, err := item.LookupPath(cue.ParsePath("name")).String()
		if err != nil {
			return nil, formatCUEError(pfield+".name", err)
		}
		typ, err := parseTypeRef(c.b.Program().Types, item.LookupPath(cue.ParsePath("type")), pfield+".type")
		if err != nil {
			return nil, err
		}
		params = append(params, ir.ParamDef{Name: name, Type: typ})
	}
	return params, nil
}
