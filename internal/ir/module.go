package ir

import "goron/internal/types"

// Module owns the functions and globals of one translation unit, plus the
// type interner they share.
type Module struct {
	Name  string
	Types *types.Interner

	Funcs   []*Func
	Globals []*Global

	// CompilerUsed lists globals retained against link-time DCE.
	CompilerUsed []*Global
}

// NewModule builds an empty module with a fresh interner.
func NewModule(name string) *Module {
	return &Module{Name: name, Types: types.NewInterner()}
}

// NewFunc creates a function and appends it to the module.
func (m *Module) NewFunc(name string, fnTy types.TypeID, linkage Linkage) *Func {
	f := &Func{
		Parent:  m,
		Name:    name,
		FnTy:    fnTy,
		PtrTy:   m.Types.Pointer(fnTy),
		Linkage: linkage,
	}
	info, ok := m.Types.FnInfo(fnTy)
	if !ok {
		panic("ir: NewFunc with non-function type")
	}
	for i, p := range info.Params {
		f.Params = append(f.Params, &Arg{Parent: f, Index: i, Ty: p})
	}
	m.Funcs = append(m.Funcs, f)
	return f
}

// InsertFuncBefore creates a function placed before pos in module order, so a
// module walk does not revisit it.
func (m *Module) InsertFuncBefore(pos *Func, name string, fnTy types.TypeID, linkage Linkage) *Func {
	f := m.NewFunc(name, fnTy, linkage)
	m.Funcs = m.Funcs[:len(m.Funcs)-1]
	for i, ff := range m.Funcs {
		if ff == pos {
			m.Funcs = append(m.Funcs, nil)
			copy(m.Funcs[i+1:], m.Funcs[i:])
			m.Funcs[i] = f
			return f
		}
	}
	m.Funcs = append(m.Funcs, f)
	return f
}

// NewGlobal creates a global variable and appends it to the module.
func (m *Module) NewGlobal(name string, elem types.TypeID, linkage Linkage, init Value) *Global {
	g := &Global{
		Parent:  m,
		Name:    name,
		Elem:    elem,
		PtrTy:   m.Types.Pointer(elem),
		Linkage: linkage,
		Init:    init,
	}
	m.Globals = append(m.Globals, g)
	return g
}

// NamedGlobal returns the global with the given name, or nil.
func (m *Module) NamedGlobal(name string) *Global {
	for _, g := range m.Globals {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// NamedFunc returns the function with the given name, or nil.
func (m *Module) NamedFunc(name string) *Func {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// EraseFunc removes a function from the module.
func (m *Module) EraseFunc(f *Func) {
	for i, ff := range m.Funcs {
		if ff == f {
			m.Funcs = append(m.Funcs[:i], m.Funcs[i+1:]...)
			f.Parent = nil
			return
		}
	}
}

// EraseGlobal removes a global from the module and from CompilerUsed.
func (m *Module) EraseGlobal(g *Global) {
	for i, gg := range m.Globals {
		if gg == g {
			m.Globals = append(m.Globals[:i], m.Globals[i+1:]...)
			break
		}
	}
	for i, gg := range m.CompilerUsed {
		if gg == g {
			m.CompilerUsed = append(m.CompilerUsed[:i], m.CompilerUsed[i+1:]...)
			break
		}
	}
	g.Parent = nil
	g.Init = nil
}

// AppendToCompilerUsed retains globals against link-time DCE.
func (m *Module) AppendToCompilerUsed(gvs ...*Global) {
	for _, g := range gvs {
		found := false
		for _, have := range m.CompilerUsed {
			if have == g {
				found = true
				break
			}
		}
		if !found {
			m.CompilerUsed = append(m.CompilerUsed, g)
		}
	}
}

// GetOrInsertFunction returns the named function, declaring it when absent.
func (m *Module) GetOrInsertFunction(name string, fnTy types.TypeID) *Func {
	if f := m.NamedFunc(name); f != nil {
		return f
	}
	return m.NewFunc(name, fnTy, ExternalLinkage)
}
