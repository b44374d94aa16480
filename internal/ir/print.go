package ir

import (
	"fmt"
	"io"
	"strings"

	"goron/internal/types"
)

// DumpModule writes a deterministic human-readable representation of m.
// Two structurally identical modules print identically, so the dump doubles
// as the reproducibility witness in tests.
func DumpModule(w io.Writer, m *Module) error {
	if w == nil || m == nil {
		return nil
	}
	p := &printer{m: m, in: m.Types}

	fmt.Fprintf(w, "; module %s\n", m.Name)
	for _, g := range m.Globals {
		fmt.Fprintf(w, "%s\n", p.global(g))
	}
	if len(m.CompilerUsed) > 0 {
		names := make([]string, 0, len(m.CompilerUsed))
		for _, g := range m.CompilerUsed {
			names = append(names, "@"+g.Name)
		}
		fmt.Fprintf(w, "; compiler.used = [%s]\n", strings.Join(names, ", "))
	}
	for _, f := range m.Funcs {
		fmt.Fprintln(w)
		if err := p.fn(w, f); err != nil {
			return err
		}
	}
	return nil
}

type printer struct {
	m  *Module
	in *types.Interner

	names  map[Value]string
	blocks map[*Block]string
}

func (p *printer) global(g *Global) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "@%s = %s ", g.Name, g.Linkage)
	if g.ExternallyInitialized {
		sb.WriteString("externally_initialized ")
	}
	if g.Constant {
		sb.WriteString("constant ")
	} else {
		sb.WriteString("global ")
	}
	sb.WriteString(p.in.String(g.Elem))
	if g.Init != nil {
		sb.WriteString(" ")
		sb.WriteString(p.constValue(g.Init))
	}
	if g.Align > 0 {
		fmt.Fprintf(&sb, ", align %d", g.Align)
	}
	if g.Section != "" {
		fmt.Fprintf(&sb, ", section %q", g.Section)
	}
	return sb.String()
}

func (p *printer) fn(w io.Writer, f *Func) error {
	p.names = make(map[Value]string)
	p.blocks = make(map[*Block]string)

	next := 0
	temp := func() string {
		next++
		return fmt.Sprintf("%%t%d", next-1)
	}
	for _, a := range f.Params {
		if a.Name != "" {
			p.names[a] = "%" + a.Name
		} else {
			p.names[a] = temp()
		}
	}
	for bi, b := range f.Blocks {
		if b.Name != "" {
			p.blocks[b] = b.Name
		} else {
			p.blocks[b] = fmt.Sprintf("bb%d", bi)
		}
		for _, in := range b.Instrs {
			if in.Ty == p.in.Builtins().Void {
				continue
			}
			if in.Name != "" {
				p.names[in] = "%" + in.Name
			} else {
				p.names[in] = temp()
			}
		}
	}

	info := f.FnInfo()
	kw := "define"
	if f.IsDeclaration() {
		kw = "declare"
	}
	var params []string
	for _, a := range f.Params {
		s := p.in.String(a.Ty)
		for _, at := range a.Attrs {
			s += " " + at
		}
		s += " " + p.names[a]
		params = append(params, s)
	}
	variadic := ""
	if info.Variadic {
		variadic = ", ..."
	}
	fmt.Fprintf(w, "%s %s %s @%s(%s%s)", kw, f.Linkage, p.in.String(info.Result), f.Name, strings.Join(params, ", "), variadic)
	if f.Section != "" {
		fmt.Fprintf(w, " section %q", f.Section)
	}
	if f.IsDeclaration() {
		fmt.Fprintln(w)
		return nil
	}
	fmt.Fprintln(w, " {")
	for _, b := range f.Blocks {
		fmt.Fprintf(w, "%s:\n", p.blocks[b])
		for _, in := range b.Instrs {
			fmt.Fprintf(w, "  %s\n", p.instr(in))
		}
	}
	fmt.Fprintln(w, "}")
	return nil
}

func (p *printer) val(v Value) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case *Const:
		return p.constValue(x)
	case *Global:
		return "@" + x.Name
	case *Func:
		return "@" + x.Name
	default:
		if n, ok := p.names[v]; ok {
			return n
		}
		return "%?"
	}
}

func (p *printer) typedVal(v Value) string {
	return p.in.String(v.Type()) + " " + p.val(v)
}

func (p *printer) constValue(v Value) string {
	switch c := v.(type) {
	case *Global:
		return "@" + c.Name
	case *Func:
		return "@" + c.Name
	case *Const:
		switch c.Kind {
		case ConstInt:
			return fmt.Sprintf("%d", c.Val)
		case ConstNull:
			return "null"
		case ConstZero:
			return "zeroinitializer"
		case ConstData:
			var sb strings.Builder
			sb.WriteString(`c"`)
			for i := 0; i < c.NumElements(); i++ {
				e := c.ElementAsInt(i)
				if e >= 0x20 && e < 0x7f && e != '"' && e != '\\' {
					sb.WriteByte(byte(e))
				} else {
					fmt.Fprintf(&sb, "\\%02X", e)
				}
			}
			sb.WriteString(`"`)
			return sb.String()
		case ConstArray:
			return p.aggregate("[", "]", c.Elems)
		case ConstStruct:
			return p.aggregate("{", "}", c.Elems)
		case ConstBlockAddr:
			return fmt.Sprintf("blockaddress(@%s, %%%s)", c.Fn.Name, p.blockName(c.Block))
		case ConstExprSub:
			return fmt.Sprintf("sub(%s, %s)", p.constValue(c.Elems[0]), p.constValue(c.Elems[1]))
		case ConstExprGEP:
			parts := make([]string, 0, len(c.Elems))
			for _, e := range c.Elems {
				parts = append(parts, p.constValue(e))
			}
			return fmt.Sprintf("getelementptr(%s)", strings.Join(parts, ", "))
		case ConstExprBitCast:
			return fmt.Sprintf("bitcast(%s to %s)", p.constValue(c.Elems[0]), p.in.String(c.Ty))
		}
	}
	return "<const>"
}

func (p *printer) blockName(b *Block) string {
	if n, ok := p.blocks[b]; ok {
		return n
	}
	if b.Name != "" {
		return b.Name
	}
	return "bb?"
}

func (p *printer) aggregate(open, close string, elems []Value) string {
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		parts = append(parts, p.in.String(e.Type())+" "+p.constValue(e))
	}
	return open + strings.Join(parts, ", ") + close
}

func (p *printer) instr(in *Instr) string {
	lead := ""
	if in.Ty != p.in.Builtins().Void {
		lead = p.names[in] + " = "
	}
	switch in.Op {
	case OpAlloca:
		return fmt.Sprintf("%salloca %s, align %d", lead, p.in.String(in.AllocaTy), in.Align)
	case OpLoad:
		return fmt.Sprintf("%sload %s, %s", lead, p.in.String(in.Ty), p.typedVal(in.Operands[0]))
	case OpStore:
		return fmt.Sprintf("store %s, %s", p.typedVal(in.Operands[0]), p.typedVal(in.Operands[1]))
	case OpAdd, OpSub, OpXor, OpURem:
		op := map[Op]string{OpAdd: "add", OpSub: "sub", OpXor: "xor", OpURem: "urem"}[in.Op]
		return fmt.Sprintf("%s%s %s %s, %s", lead, op, p.in.String(in.Ty), p.val(in.Operands[0]), p.val(in.Operands[1]))
	case OpICmp:
		return fmt.Sprintf("%sicmp %s %s %s, %s", lead, in.Pred, p.in.String(in.Operands[0].Type()), p.val(in.Operands[0]), p.val(in.Operands[1]))
	case OpSelect:
		return fmt.Sprintf("%sselect i1 %s, %s, %s", lead, p.val(in.Operands[0]), p.typedVal(in.Operands[1]), p.typedVal(in.Operands[2]))
	case OpGEP:
		inb := ""
		if in.InBounds {
			inb = "inbounds "
		}
		parts := make([]string, 0, len(in.Operands))
		for _, o := range in.Operands {
			parts = append(parts, p.typedVal(o))
		}
		return fmt.Sprintf("%sgetelementptr %s%s", lead, inb, strings.Join(parts, ", "))
	case OpBitCast:
		return fmt.Sprintf("%sbitcast %s to %s", lead, p.typedVal(in.Operands[0]), p.in.String(in.Ty))
	case OpPhi:
		parts := make([]string, 0, len(in.Operands))
		for i := range in.Operands {
			parts = append(parts, fmt.Sprintf("[ %s, %%%s ]", p.val(in.Operands[i]), p.blockName(in.Blocks[i])))
		}
		return fmt.Sprintf("%sphi %s %s", lead, p.in.String(in.Ty), strings.Join(parts, ", "))
	case OpCall:
		kw := "call "
		if in.Tail {
			kw = "tail call "
		}
		return lead + kw + p.callTail(in)
	case OpInvoke:
		return fmt.Sprintf("%sinvoke %s to label %%%s unwind label %%%s",
			lead, p.callTail(in), p.blockName(in.Blocks[0]), p.blockName(in.Blocks[1]))
	case OpRet:
		if len(in.Operands) == 0 {
			return "ret void"
		}
		return "ret " + p.typedVal(in.Operands[0])
	case OpBr:
		return "br label %" + p.blockName(in.Blocks[0])
	case OpCondBr:
		return fmt.Sprintf("br i1 %s, label %%%s, label %%%s", p.val(in.Operands[0]), p.blockName(in.Blocks[0]), p.blockName(in.Blocks[1]))
	case OpIndirectBr:
		parts := make([]string, 0, len(in.Blocks))
		for _, b := range in.Blocks {
			parts = append(parts, "label %"+p.blockName(b))
		}
		return fmt.Sprintf("indirectbr %s, [%s]", p.typedVal(in.Operands[0]), strings.Join(parts, ", "))
	case OpUnreachable:
		return "unreachable"
	}
	return "<instr>"
}

func (p *printer) callTail(in *Instr) string {
	args := make([]string, 0, len(in.CallArgs()))
	for _, a := range in.CallArgs() {
		args = append(args, p.typedVal(a))
	}
	return fmt.Sprintf("%s %s(%s)", p.in.String(in.Ty), p.val(in.Callee()), strings.Join(args, ", "))
}

// DumpString renders a module to a string.
func DumpString(m *Module) string {
	var sb strings.Builder
	_ = DumpModule(&sb, m)
	return sb.String()
}
