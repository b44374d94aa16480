package ir

// Use is one operand slot referencing a value.
type Use struct {
	User  *Instr
	OpIdx int
}

// UsesOf scans the module for operand slots referencing v, in deterministic
// module order. The result is a snapshot: callers may mutate the IR while
// walking it.
func UsesOf(m *Module, v Value) []Use {
	var uses []Use
	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				for idx, op := range in.Operands {
					if op == v {
						uses = append(uses, Use{User: in, OpIdx: idx})
					}
				}
			}
		}
	}
	return uses
}

// ReplaceAllUsesWith rewrites every instruction operand referencing old to
// new, across the whole module.
func ReplaceAllUsesWith(m *Module, old, new Value) {
	for _, u := range UsesOf(m, old) {
		u.User.Operands[u.OpIdx] = new
	}
}

// ReplaceAllUsesInFunc rewrites operands referencing old within one function.
func ReplaceAllUsesInFunc(f *Func, old, new Value) {
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			in.ReplaceUsesOfWith(old, new)
		}
	}
}

// EraseInstr unlinks an instruction from its block.
func EraseInstr(i *Instr) {
	if i.Parent != nil {
		i.Parent.Remove(i)
	}
	i.Operands = nil
	i.Blocks = nil
}

// HasUses reports whether any instruction operand references v.
func HasUses(m *Module, v Value) bool {
	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				for _, op := range in.Operands {
					if op == v {
						return true
					}
				}
			}
		}
	}
	return false
}

// ConstUsers returns the globals whose initializer tree references v,
// in module order.
func ConstUsers(m *Module, v Value) []*Global {
	var users []*Global
	for _, g := range m.Globals {
		if g.Init == nil {
			continue
		}
		if g.Init == v {
			users = append(users, g)
			continue
		}
		if c, ok := g.Init.(*Const); ok && c.RefersTo(v) {
			users = append(users, g)
		}
	}
	return users
}
