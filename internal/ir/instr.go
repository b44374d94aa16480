package ir

import "goron/internal/types"

// Op enumerates instruction opcodes.
type Op uint8

const (
	// OpAlloca reserves a stack slot.
	OpAlloca Op = iota
	// OpLoad reads through a pointer.
	OpLoad
	// OpStore writes through a pointer. Operands: value, pointer.
	OpStore
	// OpAdd is integer addition.
	OpAdd
	// OpSub is integer subtraction.
	OpSub
	// OpXor is bitwise exclusive or.
	OpXor
	// OpURem is unsigned remainder.
	OpURem
	// OpICmp is an integer comparison; result is i1.
	OpICmp
	// OpSelect chooses between two values. Operands: cond, true, false.
	OpSelect
	// OpGEP computes an element pointer. Operands: base, indices...
	OpGEP
	// OpBitCast reinterprets a pointer.
	OpBitCast
	// OpPhi merges values across predecessors; Blocks holds incoming blocks.
	OpPhi
	// OpCall calls a function. Operands: callee, args...
	OpCall

	// OpRet returns from the function. Operands: none or the value.
	OpRet
	// OpBr branches unconditionally. Blocks: dest.
	OpBr
	// OpCondBr branches on an i1. Operands: cond. Blocks: then, else.
	OpCondBr
	// OpIndirectBr branches to a computed address. Operands: addr.
	// Blocks enumerates every possible destination.
	OpIndirectBr
	// OpInvoke calls with an unwind edge. Operands: callee, args...
	// Blocks: normal dest, unwind dest.
	OpInvoke
	// OpUnreachable marks dead control flow.
	OpUnreachable
)

// ICmpPred enumerates integer comparison predicates.
type ICmpPred uint8

const (
	// PredEQ compares for equality.
	PredEQ ICmpPred = iota
	// PredNE compares for inequality.
	PredNE
	// PredSGT is signed greater-than.
	PredSGT
	// PredSLT is signed less-than.
	PredSLT
	// PredULT is unsigned less-than.
	PredULT
)

func (p ICmpPred) String() string {
	switch p {
	case PredEQ:
		return "eq"
	case PredNE:
		return "ne"
	case PredSGT:
		return "sgt"
	case PredSLT:
		return "slt"
	case PredULT:
		return "ult"
	}
	return "?"
}

// Instr is a single instruction. Operands are uniform so passes can rewrite
// them generically; Blocks holds control-flow targets and phi incoming blocks.
type Instr struct {
	Op     Op
	Ty     types.TypeID
	Name   string
	Parent *Block

	Operands []Value
	Blocks   []*Block

	// Aux payloads, meaningful per opcode.
	AllocaTy   types.TypeID
	Align      uint32
	Pred       ICmpPred
	InBounds   bool
	CallConv   uint32
	Tail       bool
	ParamAttrs [][]string
	Loc        string
}

// Type returns the instruction's result type.
func (i *Instr) Type() types.TypeID { return i.Ty }

// ValueName returns the instruction's result name.
func (i *Instr) ValueName() string { return i.Name }

// IsTerminator reports whether the opcode terminates a block.
func (i *Instr) IsTerminator() bool {
	switch i.Op {
	case OpRet, OpBr, OpCondBr, OpIndirectBr, OpInvoke, OpUnreachable:
		return true
	}
	return false
}

// Callee returns the called value of a call or invoke.
func (i *Instr) Callee() Value {
	if i.Op != OpCall && i.Op != OpInvoke {
		panic("ir: Callee on non-call instruction")
	}
	return i.Operands[0]
}

// CallArgs returns the argument operands of a call or invoke.
func (i *Instr) CallArgs() []Value {
	if i.Op != OpCall && i.Op != OpInvoke {
		panic("ir: CallArgs on non-call instruction")
	}
	return i.Operands[1:]
}

// ReplaceUsesOfWith rewrites every operand equal to old with new.
func (i *Instr) ReplaceUsesOfWith(old, new Value) {
	for idx, op := range i.Operands {
		if op == old {
			i.Operands[idx] = new
		}
	}
}

// PhiIncoming returns the value flowing in from the given predecessor index.
func (i *Instr) PhiIncoming(idx int) (Value, *Block) {
	if i.Op != OpPhi {
		panic("ir: PhiIncoming on non-phi instruction")
	}
	return i.Operands[idx], i.Blocks[idx]
}
