package ir

import (
	"errors"
	"fmt"
)

// Validate checks module invariants.
// Returns error if any invariant is violated.
func Validate(m *Module) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, f := range m.Funcs {
		if f == nil || f.IsDeclaration() {
			continue
		}
		if err := validateFunc(f); err != nil {
			errs = append(errs, fmt.Errorf("function %s: %w", f.Name, err))
		}
	}
	return errors.Join(errs...)
}

func validateFunc(f *Func) error {
	var errs []error

	if err := validateBlocksTerminated(f); err != nil {
		errs = append(errs, err)
	}
	if err := validateBlockTargets(f); err != nil {
		errs = append(errs, err)
	}
	if err := validatePhis(f); err != nil {
		errs = append(errs, err)
	}
	if err := validateOperands(f); err != nil {
		errs = append(errs, err)
	}
	if err := validateCalls(f); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateBlocksTerminated checks that every block ends with exactly one
// terminator, in the last position.
func validateBlocksTerminated(f *Func) error {
	var errs []error
	for i, b := range f.Blocks {
		if !b.Terminated() {
			errs = append(errs, fmt.Errorf("bb%d (%s): unterminated block", i, b.Name))
			continue
		}
		for j, in := range b.Instrs[:len(b.Instrs)-1] {
			if in.IsTerminator() {
				errs = append(errs, fmt.Errorf("bb%d (%s): terminator at position %d is not last", i, b.Name, j))
			}
		}
	}
	return errors.Join(errs...)
}

// validateBlockTargets checks that all branch targets belong to the function.
func validateBlockTargets(f *Func) error {
	var errs []error
	owned := make(map[*Block]bool, len(f.Blocks))
	for _, b := range f.Blocks {
		owned[b] = true
	}
	for i, b := range f.Blocks {
		if !b.Terminated() {
			continue
		}
		for _, t := range b.Term().Blocks {
			if !owned[t] {
				errs = append(errs, fmt.Errorf("bb%d (%s): branch target %s is not in function", i, b.Name, t.Name))
			}
		}
	}
	return errors.Join(errs...)
}

// validatePhis checks phi placement and incoming-edge consistency.
func validatePhis(f *Func) error {
	var errs []error
	for i, b := range f.Blocks {
		firstNonPhi := b.FirstNonPhiIndex()
		for j, in := range b.Instrs {
			if in.Op != OpPhi {
				continue
			}
			if j >= firstNonPhi {
				errs = append(errs, fmt.Errorf("bb%d (%s): phi at position %d after non-phi", i, b.Name, j))
			}
			if len(in.Operands) != len(in.Blocks) {
				errs = append(errs, fmt.Errorf("bb%d (%s): phi has %d values for %d blocks", i, b.Name, len(in.Operands), len(in.Blocks)))
			}
			for _, pred := range in.Blocks {
				found := false
				for _, s := range pred.Succs() {
					if s == b {
						found = true
						break
					}
				}
				if !found {
					errs = append(errs, fmt.Errorf("bb%d (%s): phi incoming block %s is not a predecessor", i, b.Name, pred.Name))
				}
			}
		}
		if i == 0 && firstNonPhi > 0 {
			errs = append(errs, fmt.Errorf("entry block %s has phi instructions", b.Name))
		}
	}
	return errors.Join(errs...)
}

// validateOperands checks that instruction operands resolve to values owned
// by this function or the module.
func validateOperands(f *Func) error {
	var errs []error
	for i, b := range f.Blocks {
		for j, in := range b.Instrs {
			for k, op := range in.Operands {
				switch v := op.(type) {
				case nil:
					errs = append(errs, fmt.Errorf("bb%d instr %d: nil operand %d", i, j, k))
				case *Instr:
					if v.Parent == nil || v.Parent.Parent != f {
						errs = append(errs, fmt.Errorf("bb%d instr %d: operand %d refers to a detached instruction", i, j, k))
					}
				case *Arg:
					if v.Parent != f {
						errs = append(errs, fmt.Errorf("bb%d instr %d: operand %d refers to a foreign argument", i, j, k))
					}
				case *Global:
					if v.Parent != f.Parent {
						errs = append(errs, fmt.Errorf("bb%d instr %d: operand %d refers to an erased global %s", i, j, k, v.Name))
					}
				case *Func:
					if v.Parent != f.Parent {
						errs = append(errs, fmt.Errorf("bb%d instr %d: operand %d refers to an erased function %s", i, j, k, v.Name))
					}
				}
			}
		}
	}
	return errors.Join(errs...)
}

// validateCalls checks call argument counts against callee signatures.
func validateCalls(f *Func) error {
	var errs []error
	in := f.Parent.Types
	for i, b := range f.Blocks {
		for j, inst := range b.Instrs {
			if inst.Op != OpCall && inst.Op != OpInvoke {
				continue
			}
			fnTy, ok := in.PointerElem(inst.Callee().Type())
			if !ok {
				errs = append(errs, fmt.Errorf("bb%d instr %d: callee is not a function pointer", i, j))
				continue
			}
			info, ok := in.FnInfo(fnTy)
			if !ok {
				errs = append(errs, fmt.Errorf("bb%d instr %d: callee type is not a function", i, j))
				continue
			}
			got := len(inst.CallArgs())
			want := len(info.Params)
			if got < want || (got > want && !info.Variadic) {
				errs = append(errs, fmt.Errorf("bb%d instr %d: call has %d args, callee takes %d", i, j, got, want))
			}
		}
	}
	return errors.Join(errs...)
}
