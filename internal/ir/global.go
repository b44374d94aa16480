package ir

import "goron/internal/types"

// Global is a module-level variable. Its value type is a pointer to Elem;
// Init is nil for declarations.
type Global struct {
	Parent *Module
	Name   string
	Elem   types.TypeID
	PtrTy  types.TypeID

	Linkage               Linkage
	Constant              bool
	ExternallyInitialized bool
	Align                 uint32
	Section               string

	Init Value
}

// Type returns the pointer type of the global's address.
func (g *Global) Type() types.TypeID { return g.PtrTy }

// ValueName returns the global's name.
func (g *Global) ValueName() string { return g.Name }

// HasInitializer reports whether the global carries an initializer.
func (g *Global) HasInitializer() bool { return g.Init != nil }
