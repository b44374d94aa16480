package ir

// LowerConstantExpr rewrites constant-expression operands into explicit
// instructions, so later operand scans see direct global references instead
// of globals buried inside folded expressions. Phi operands are materialized
// at the incoming block's terminator. Returns whether anything changed.
func LowerConstantExpr(f *Func) bool {
	changed := false
	bld := NewBuilder(f.Parent)
	for _, b := range f.Blocks {
		instrs := append([]*Instr(nil), b.Instrs...)
		for _, in := range instrs {
			for idx, op := range in.Operands {
				c, ok := op.(*Const)
				if !ok || !isConstExpr(c) {
					continue
				}
				if in.Op == OpPhi {
					bld.SetInsertBefore(in.Blocks[idx].Term())
				} else {
					bld.SetInsertBefore(in)
				}
				in.Operands[idx] = materializeConstExpr(bld, c)
				changed = true
			}
		}
	}
	return changed
}

func isConstExpr(c *Const) bool {
	switch c.Kind {
	case ConstExprSub, ConstExprGEP, ConstExprBitCast:
		return true
	}
	return false
}

// materializeConstExpr emits instructions computing c at the builder's
// position, lowering nested expressions innermost-first.
func materializeConstExpr(bld *Builder, c *Const) Value {
	lower := func(v Value) Value {
		if vc, ok := v.(*Const); ok && isConstExpr(vc) {
			return materializeConstExpr(bld, vc)
		}
		return v
	}
	switch c.Kind {
	case ConstExprSub:
		return bld.CreateSub(lower(c.Elems[0]), lower(c.Elems[1]), "")
	case ConstExprGEP:
		base := lower(c.Elems[0])
		indices := make([]Value, 0, len(c.Elems)-1)
		for _, e := range c.Elems[1:] {
			indices = append(indices, lower(e))
		}
		return bld.CreateGEP(base, indices, true, "")
	case ConstExprBitCast:
		return bld.CreateBitCast(lower(c.Elems[0]), c.Ty, "")
	}
	panic("ir: materializeConstExpr on non-expression constant")
}
