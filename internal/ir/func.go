package ir

import "goron/internal/types"

// Func is a function definition or declaration. Its value type is a pointer
// to the function type, so taking a function's address needs no cast.
type Func struct {
	Parent *Module
	Name   string
	FnTy   types.TypeID
	PtrTy  types.TypeID

	Linkage  Linkage
	CallConv uint32
	Section  string
	Comdat   string

	// Attrs are function-level attributes; Annotations carry user pragmas
	// consulted by the obfuscation filter (e.g. "+indbr", "-cse").
	Attrs       []string
	Annotations []string
	Subprogram  string

	Params []*Arg
	Blocks []*Block
}

// Type returns the pointer-to-function type.
func (f *Func) Type() types.TypeID { return f.PtrTy }

// ValueName returns the function name.
func (f *Func) ValueName() string { return f.Name }

// IsDeclaration reports whether the function has no body.
func (f *Func) IsDeclaration() bool { return len(f.Blocks) == 0 }

// Entry returns the entry block.
func (f *Func) Entry() *Block {
	if f.IsDeclaration() {
		panic("ir: Entry on declaration " + f.Name)
	}
	return f.Blocks[0]
}

// FnInfo returns the function type payload.
func (f *Func) FnInfo() types.FnInfo {
	info, ok := f.Parent.Types.FnInfo(f.FnTy)
	if !ok {
		panic("ir: function " + f.Name + " has no function type")
	}
	return info
}

// NewBlock appends a fresh block to the function.
func (f *Func) NewBlock(name string) *Block {
	b := &Block{Name: name, Parent: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// InsertBlockAfter places b immediately after pos in block order.
func (f *Func) InsertBlockAfter(pos, b *Block) {
	b.Parent = f
	for i, bb := range f.Blocks {
		if bb == pos {
			f.Blocks = append(f.Blocks, nil)
			copy(f.Blocks[i+2:], f.Blocks[i+1:])
			f.Blocks[i+1] = b
			return
		}
	}
	f.Blocks = append(f.Blocks, b)
}

// SpliceBodyFrom moves every block (and block ownership) from src into f,
// leaving src as a declaration.
func (f *Func) SpliceBodyFrom(src *Func) {
	for _, b := range src.Blocks {
		b.Parent = f
	}
	f.Blocks = append(f.Blocks, src.Blocks...)
	src.Blocks = nil
}

// CopyAttributesFrom clones attributes, calling convention, section, comdat
// and subprogram from src.
func (f *Func) CopyAttributesFrom(src *Func) {
	f.CallConv = src.CallConv
	f.Section = src.Section
	f.Comdat = src.Comdat
	f.Subprogram = src.Subprogram
	f.Attrs = append([]string(nil), src.Attrs...)
	f.Annotations = append([]string(nil), src.Annotations...)
}
