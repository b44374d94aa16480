package ir

import "goron/internal/types"

// Builder inserts instructions at a tracked position, keeping creation order
// when several instructions are emitted before the same anchor.
type Builder struct {
	M   *Module
	blk *Block
	pos int
}

// NewBuilder creates a builder with no insertion point.
func NewBuilder(m *Module) *Builder {
	return &Builder{M: m}
}

// SetInsertAtEnd points the builder past the last instruction of b.
func (bld *Builder) SetInsertAtEnd(b *Block) {
	bld.blk = b
	bld.pos = len(b.Instrs)
}

// SetInsertAtFront points the builder at the first position of b.
func (bld *Builder) SetInsertAtFront(b *Block) {
	bld.blk = b
	bld.pos = 0
}

// SetInsertBefore points the builder immediately before an instruction.
func (bld *Builder) SetInsertBefore(i *Instr) {
	bld.blk = i.Parent
	bld.pos = i.Parent.IndexOf(i)
	if bld.pos < 0 {
		panic("ir: SetInsertBefore on detached instruction")
	}
}

func (bld *Builder) insert(i *Instr) *Instr {
	if bld.blk == nil {
		panic("ir: builder has no insertion point")
	}
	bld.blk.InsertAt(bld.pos, i)
	bld.pos++
	return i
}

// Int32 returns an i32 constant.
func (bld *Builder) Int32(v uint32) *Const {
	return NewInt(bld.M.Types, bld.M.Types.Builtins().I32, uint64(v))
}

// CreateAlloca reserves a stack slot of ty.
func (bld *Builder) CreateAlloca(ty types.TypeID, align uint32, name string) *Instr {
	return bld.insert(&Instr{
		Op:       OpAlloca,
		Ty:       bld.M.Types.Pointer(ty),
		AllocaTy: ty,
		Align:    align,
		Name:     name,
	})
}

// CreateLoad reads through ptr; the result type is the pointee.
func (bld *Builder) CreateLoad(ptr Value, name string) *Instr {
	elem, ok := bld.M.Types.PointerElem(ptr.Type())
	if !ok {
		panic("ir: load through non-pointer")
	}
	return bld.insert(&Instr{Op: OpLoad, Ty: elem, Name: name, Operands: []Value{ptr}})
}

// CreateStore writes val through ptr.
func (bld *Builder) CreateStore(val, ptr Value) *Instr {
	return bld.insert(&Instr{
		Op:       OpStore,
		Ty:       bld.M.Types.Builtins().Void,
		Operands: []Value{val, ptr},
	})
}

func (bld *Builder) binop(op Op, l, r Value, name string) *Instr {
	return bld.insert(&Instr{Op: op, Ty: l.Type(), Name: name, Operands: []Value{l, r}})
}

// CreateAdd emits integer addition.
func (bld *Builder) CreateAdd(l, r Value, name string) *Instr { return bld.binop(OpAdd, l, r, name) }

// CreateSub emits integer subtraction.
func (bld *Builder) CreateSub(l, r Value, name string) *Instr { return bld.binop(OpSub, l, r, name) }

// CreateXor emits bitwise exclusive or.
func (bld *Builder) CreateXor(l, r Value, name string) *Instr { return bld.binop(OpXor, l, r, name) }

// CreateURem emits unsigned remainder.
func (bld *Builder) CreateURem(l, r Value, name string) *Instr { return bld.binop(OpURem, l, r, name) }

// CreateICmp emits an integer comparison.
func (bld *Builder) CreateICmp(pred ICmpPred, l, r Value, name string) *Instr {
	return bld.insert(&Instr{
		Op:       OpICmp,
		Ty:       bld.M.Types.Builtins().I1,
		Pred:     pred,
		Name:     name,
		Operands: []Value{l, r},
	})
}

// CreateSelect chooses between t and f on cond.
func (bld *Builder) CreateSelect(cond, t, f Value, name string) *Instr {
	return bld.insert(&Instr{Op: OpSelect, Ty: t.Type(), Name: name, Operands: []Value{cond, t, f}})
}

// CreateGEP computes an element pointer over base.
func (bld *Builder) CreateGEP(base Value, indices []Value, inBounds bool, name string) *Instr {
	ops := make([]Value, 0, 1+len(indices))
	ops = append(ops, base)
	ops = append(ops, indices...)
	return bld.insert(&Instr{
		Op:       OpGEP,
		Ty:       GEPResultType(bld.M.Types, base.Type(), indices),
		InBounds: inBounds,
		Name:     name,
		Operands: ops,
	})
}

// GEPResultType resolves the pointer type produced by indexing baseTy.
// The first index steps over the pointer itself; the rest descend into the
// pointee aggregate.
func GEPResultType(in *types.Interner, baseTy types.TypeID, indices []Value) types.TypeID {
	elem, ok := in.PointerElem(baseTy)
	if !ok {
		panic("ir: GEP over non-pointer")
	}
	for _, idx := range indices[1:] {
		tt := in.MustLookup(elem)
		switch tt.Kind {
		case types.KindArray:
			elem = tt.Elem
		case types.KindStruct:
			info, _ := in.StructInfo(elem)
			ci, ok := idx.(*Const)
			if !ok || ci.Kind != ConstInt {
				panic("ir: struct GEP index must be a constant")
			}
			elem = info.Fields[ci.IntVal()]
		default:
			panic("ir: GEP into non-aggregate")
		}
	}
	return in.Pointer(elem)
}

// CreateBitCast reinterprets a pointer value as ty.
func (bld *Builder) CreateBitCast(v Value, ty types.TypeID, name string) *Instr {
	return bld.insert(&Instr{Op: OpBitCast, Ty: ty, Name: name, Operands: []Value{v}})
}

// CreatePhi emits an empty phi; fill it with AddIncoming.
func (bld *Builder) CreatePhi(ty types.TypeID, name string) *Instr {
	return bld.insert(&Instr{Op: OpPhi, Ty: ty, Name: name})
}

// AddIncoming appends an incoming (value, predecessor) edge to a phi.
func AddIncoming(phi *Instr, v Value, pred *Block) {
	if phi.Op != OpPhi {
		panic("ir: AddIncoming on non-phi")
	}
	phi.Operands = append(phi.Operands, v)
	phi.Blocks = append(phi.Blocks, pred)
}

// CalleeFnInfo resolves the function type behind a callable value.
func CalleeFnInfo(in *types.Interner, callee Value) types.FnInfo {
	fnTy, ok := in.PointerElem(callee.Type())
	if !ok {
		panic("ir: callee is not a function pointer")
	}
	info, ok := in.FnInfo(fnTy)
	if !ok {
		panic("ir: callee does not have a function type")
	}
	return info
}

// CreateCall emits a direct or indirect call.
func (bld *Builder) CreateCall(callee Value, args []Value, name string) *Instr {
	info := CalleeFnInfo(bld.M.Types, callee)
	ops := make([]Value, 0, 1+len(args))
	ops = append(ops, callee)
	ops = append(ops, args...)
	if info.Result == bld.M.Types.Builtins().Void {
		name = ""
	}
	return bld.insert(&Instr{Op: OpCall, Ty: info.Result, Name: name, Operands: ops})
}

// CreateInvoke emits a call with normal and unwind edges.
func (bld *Builder) CreateInvoke(callee Value, args []Value, normal, unwind *Block, name string) *Instr {
	info := CalleeFnInfo(bld.M.Types, callee)
	ops := make([]Value, 0, 1+len(args))
	ops = append(ops, callee)
	ops = append(ops, args...)
	if info.Result == bld.M.Types.Builtins().Void {
		name = ""
	}
	return bld.insert(&Instr{
		Op:       OpInvoke,
		Ty:       info.Result,
		Name:     name,
		Operands: ops,
		Blocks:   []*Block{normal, unwind},
	})
}

// CreateRet returns v from the function.
func (bld *Builder) CreateRet(v Value) *Instr {
	return bld.insert(&Instr{Op: OpRet, Ty: bld.M.Types.Builtins().Void, Operands: []Value{v}})
}

// CreateRetVoid returns from a void function.
func (bld *Builder) CreateRetVoid() *Instr {
	return bld.insert(&Instr{Op: OpRet, Ty: bld.M.Types.Builtins().Void})
}

// CreateBr branches unconditionally to dest.
func (bld *Builder) CreateBr(dest *Block) *Instr {
	return bld.insert(&Instr{Op: OpBr, Ty: bld.M.Types.Builtins().Void, Blocks: []*Block{dest}})
}

// CreateCondBr branches on cond.
func (bld *Builder) CreateCondBr(cond Value, then, els *Block) *Instr {
	return bld.insert(&Instr{
		Op:       OpCondBr,
		Ty:       bld.M.Types.Builtins().Void,
		Operands: []Value{cond},
		Blocks:   []*Block{then, els},
	})
}

// NewIndirectBr builds (without inserting) an indirect branch through addr.
// Destinations are added with AddDestination.
func NewIndirectBr(m *Module, addr Value) *Instr {
	return &Instr{Op: OpIndirectBr, Ty: m.Types.Builtins().Void, Operands: []Value{addr}}
}

// AddDestination appends a possible target to an indirect branch.
func AddDestination(ibr *Instr, dest *Block) {
	if ibr.Op != OpIndirectBr {
		panic("ir: AddDestination on non-indirectbr")
	}
	ibr.Blocks = append(ibr.Blocks, dest)
}

// CreateUnreachable marks dead control flow.
func (bld *Builder) CreateUnreachable() *Instr {
	return bld.insert(&Instr{Op: OpUnreachable, Ty: bld.M.Types.Builtins().Void})
}
