package ir

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"goron/internal/types"
)

// Current schema version - increment when the payload format changes
const moduleSchemaVersion uint16 = 1

const (
	refNone uint8 = iota
	refConst
	refGlobal
	refFunc
	refArg
	refInstr
)

type valueRef struct {
	Kind  uint8
	A     int32
	B     int32
	Const *constPayload
}

type constPayload struct {
	Kind      uint8
	Ty        uint32
	Val       uint64
	Data      []byte
	ElemWidth uint8
	Elems     []valueRef
	Fn        int32
	Block     int32
}

type instrPayload struct {
	Op         uint8
	Ty         uint32
	Name       string
	Operands   []valueRef
	Blocks     []int32
	AllocaTy   uint32
	Align      uint32
	Pred       uint8
	InBounds   bool
	CallConv   uint32
	Tail       bool
	ParamAttrs [][]string
	Loc        string
}

type blockPayload struct {
	Name   string
	Instrs []instrPayload
}

type argPayload struct {
	Name  string
	Ty    uint32
	Attrs []string
}

type funcPayload struct {
	Name        string
	FnTy        uint32
	Linkage     uint8
	CallConv    uint32
	Section     string
	Comdat      string
	Subprogram  string
	Attrs       []string
	Annotations []string
	Params      []argPayload
	Blocks      []blockPayload
}

type globalPayload struct {
	Name     string
	Elem     uint32
	Linkage  uint8
	Constant bool
	ExtInit  bool
	Align    uint32
	Section  string
	HasInit  bool
	Init     valueRef
}

type modulePayload struct {
	Schema       uint16
	Name         string
	Types        types.Snapshot
	Globals      []globalPayload
	Funcs        []funcPayload
	CompilerUsed []int32
}

type encoder struct {
	globalIdx map[*Global]int32
	funcIdx   map[*Func]int32

	// per-function state
	blockIdx map[*Block]int32
	instrIdx map[*Instr][2]int32
	argIdx   map[*Arg]int32
}

// EncodeModule serializes m as msgpack.
func EncodeModule(w io.Writer, m *Module) error {
	e := &encoder{
		globalIdx: make(map[*Global]int32, len(m.Globals)),
		funcIdx:   make(map[*Func]int32, len(m.Funcs)),
	}
	for i, g := range m.Globals {
		e.globalIdx[g] = int32(i) //nolint:gosec // G115: bounded by module size
	}
	for i, f := range m.Funcs {
		e.funcIdx[f] = int32(i) //nolint:gosec // G115: bounded by module size
	}

	payload := modulePayload{
		Schema: moduleSchemaVersion,
		Name:   m.Name,
		Types:  m.Types.Snapshot(),
	}
	for _, g := range m.Globals {
		gp := globalPayload{
			Name:     g.Name,
			Elem:     uint32(g.Elem),
			Linkage:  uint8(g.Linkage),
			Constant: g.Constant,
			ExtInit:  g.ExternallyInitialized,
			Align:    g.Align,
			Section:  g.Section,
		}
		if g.Init != nil {
			gp.HasInit = true
			gp.Init = e.ref(g.Init)
		}
		payload.Globals = append(payload.Globals, gp)
	}
	for _, f := range m.Funcs {
		payload.Funcs = append(payload.Funcs, e.fn(f))
	}
	for _, g := range m.CompilerUsed {
		payload.CompilerUsed = append(payload.CompilerUsed, e.globalIdx[g])
	}
	return msgpack.NewEncoder(w).Encode(&payload)
}

func (e *encoder) fn(f *Func) funcPayload {
	e.blockIdx = make(map[*Block]int32, len(f.Blocks))
	e.instrIdx = make(map[*Instr][2]int32)
	e.argIdx = make(map[*Arg]int32, len(f.Params))
	for i, a := range f.Params {
		e.argIdx[a] = int32(i) //nolint:gosec // G115: bounded by arity
	}
	for bi, b := range f.Blocks {
		e.blockIdx[b] = int32(bi) //nolint:gosec // G115: bounded by block count
		for ii, in := range b.Instrs {
			e.instrIdx[in] = [2]int32{int32(bi), int32(ii)} //nolint:gosec // G115: bounded by body size
		}
	}

	fp := funcPayload{
		Name:        f.Name,
		FnTy:        uint32(f.FnTy),
		Linkage:     uint8(f.Linkage),
		CallConv:    f.CallConv,
		Section:     f.Section,
		Comdat:      f.Comdat,
		Subprogram:  f.Subprogram,
		Attrs:       f.Attrs,
		Annotations: f.Annotations,
	}
	for _, a := range f.Params {
		fp.Params = append(fp.Params, argPayload{Name: a.Name, Ty: uint32(a.Ty), Attrs: a.Attrs})
	}
	for _, b := range f.Blocks {
		bp := blockPayload{Name: b.Name}
		for _, in := range b.Instrs {
			bp.Instrs = append(bp.Instrs, e.instr(in))
		}
		fp.Blocks = append(fp.Blocks, bp)
	}
	return fp
}

func (e *encoder) instr(in *Instr) instrPayload {
	ip := instrPayload{
		Op:         uint8(in.Op),
		Ty:         uint32(in.Ty),
		Name:       in.Name,
		AllocaTy:   uint32(in.AllocaTy),
		Align:      in.Align,
		Pred:       uint8(in.Pred),
		InBounds:   in.InBounds,
		CallConv:   in.CallConv,
		Tail:       in.Tail,
		ParamAttrs: in.ParamAttrs,
		Loc:        in.Loc,
	}
	for _, op := range in.Operands {
		ip.Operands = append(ip.Operands, e.ref(op))
	}
	for _, b := range in.Blocks {
		ip.Blocks = append(ip.Blocks, e.blockIdx[b])
	}
	return ip
}

func (e *encoder) ref(v Value) valueRef {
	switch x := v.(type) {
	case *Const:
		return valueRef{Kind: refConst, Const: e.constTree(x)}
	case *Global:
		return valueRef{Kind: refGlobal, A: e.globalIdx[x]}
	case *Func:
		return valueRef{Kind: refFunc, A: e.funcIdx[x]}
	case *Arg:
		return valueRef{Kind: refArg, A: e.argIdx[x]}
	case *Instr:
		pos := e.instrIdx[x]
		return valueRef{Kind: refInstr, A: pos[0], B: pos[1]}
	}
	return valueRef{Kind: refNone}
}

func (e *encoder) constTree(c *Const) *constPayload {
	cp := &constPayload{
		Kind:      uint8(c.Kind),
		Ty:        uint32(c.Ty),
		Val:       c.Val,
		Data:      c.Data,
		ElemWidth: c.ElemWidth,
	}
	for _, el := range c.Elems {
		cp.Elems = append(cp.Elems, e.ref(el))
	}
	if c.Kind == ConstBlockAddr {
		cp.Fn = e.funcIdx[c.Fn]
		for bi, b := range c.Fn.Blocks {
			if b == c.Block {
				cp.Block = int32(bi) //nolint:gosec // G115: bounded by block count
				break
			}
		}
	}
	return cp
}

type decoder struct {
	m       *Module
	payload *modulePayload

	// per-function state
	f      *Func
	blocks []*Block
	instrs [][]*Instr
}

// DecodeModule deserializes a module written by EncodeModule.
func DecodeModule(r io.Reader) (*Module, error) {
	var payload modulePayload
	if err := msgpack.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("ir: decode module: %w", err)
	}
	if payload.Schema != moduleSchemaVersion {
		return nil, fmt.Errorf("ir: unsupported module schema %d", payload.Schema)
	}

	m := &Module{Name: payload.Name, Types: types.FromSnapshot(payload.Types)}
	d := &decoder{m: m, payload: &payload}

	// Shells first: globals, functions, args, blocks and instruction stubs,
	// so forward references resolve while filling operands.
	for _, gp := range payload.Globals {
		m.NewGlobal(gp.Name, types.TypeID(gp.Elem), Linkage(gp.Linkage), nil)
	}
	for gi, gp := range payload.Globals {
		g := m.Globals[gi]
		g.Constant = gp.Constant
		g.ExternallyInitialized = gp.ExtInit
		g.Align = gp.Align
		g.Section = gp.Section
	}
	allInstrs := make([][][]*Instr, len(payload.Funcs))
	for fi, fp := range payload.Funcs {
		f := m.NewFunc(fp.Name, types.TypeID(fp.FnTy), Linkage(fp.Linkage))
		f.CallConv = fp.CallConv
		f.Section = fp.Section
		f.Comdat = fp.Comdat
		f.Subprogram = fp.Subprogram
		f.Attrs = fp.Attrs
		f.Annotations = fp.Annotations
		for i, ap := range fp.Params {
			f.Params[i].Name = ap.Name
			f.Params[i].Attrs = ap.Attrs
		}
		allInstrs[fi] = make([][]*Instr, len(fp.Blocks))
		for bi, bp := range fp.Blocks {
			b := f.NewBlock(bp.Name)
			for range bp.Instrs {
				stub := &Instr{}
				b.Append(stub)
				allInstrs[fi][bi] = append(allInstrs[fi][bi], stub)
			}
		}
	}

	// Fill instruction bodies and global initializers.
	for fi, fp := range payload.Funcs {
		d.f = m.Funcs[fi]
		d.blocks = d.f.Blocks
		d.instrs = allInstrs[fi]
		for bi, bp := range fp.Blocks {
			for ii := range bp.Instrs {
				if err := d.fillInstr(allInstrs[fi][bi][ii], &bp.Instrs[ii]); err != nil {
					return nil, err
				}
			}
		}
	}
	d.f, d.blocks, d.instrs = nil, nil, nil
	for gi, gp := range payload.Globals {
		if !gp.HasInit {
			continue
		}
		v, err := d.value(gp.Init)
		if err != nil {
			return nil, fmt.Errorf("ir: global %s: %w", gp.Name, err)
		}
		m.Globals[gi].Init = v
	}
	for _, gi := range payload.CompilerUsed {
		if int(gi) < len(m.Globals) {
			m.AppendToCompilerUsed(m.Globals[gi])
		}
	}
	return m, nil
}

func (d *decoder) fillInstr(in *Instr, ip *instrPayload) error {
	in.Op = Op(ip.Op)
	in.Ty = types.TypeID(ip.Ty)
	in.Name = ip.Name
	in.AllocaTy = types.TypeID(ip.AllocaTy)
	in.Align = ip.Align
	in.Pred = ICmpPred(ip.Pred)
	in.InBounds = ip.InBounds
	in.CallConv = ip.CallConv
	in.Tail = ip.Tail
	in.ParamAttrs = ip.ParamAttrs
	in.Loc = ip.Loc
	for _, ref := range ip.Operands {
		v, err := d.value(ref)
		if err != nil {
			return fmt.Errorf("ir: function %s: %w", d.f.Name, err)
		}
		in.Operands = append(in.Operands, v)
	}
	for _, bi := range ip.Blocks {
		if int(bi) >= len(d.blocks) {
			return fmt.Errorf("ir: function %s: block ref %d out of range", d.f.Name, bi)
		}
		in.Blocks = append(in.Blocks, d.blocks[bi])
	}
	return nil
}

func (d *decoder) value(ref valueRef) (Value, error) {
	switch ref.Kind {
	case refConst:
		return d.constTree(ref.Const)
	case refGlobal:
		if int(ref.A) >= len(d.m.Globals) {
			return nil, fmt.Errorf("global ref %d out of range", ref.A)
		}
		return d.m.Globals[ref.A], nil
	case refFunc:
		if int(ref.A) >= len(d.m.Funcs) {
			return nil, fmt.Errorf("func ref %d out of range", ref.A)
		}
		return d.m.Funcs[ref.A], nil
	case refArg:
		if d.f == nil || int(ref.A) >= len(d.f.Params) {
			return nil, fmt.Errorf("arg ref %d out of range", ref.A)
		}
		return d.f.Params[ref.A], nil
	case refInstr:
		if d.instrs == nil || int(ref.A) >= len(d.instrs) || int(ref.B) >= len(d.instrs[ref.A]) {
			return nil, fmt.Errorf("instr ref %d.%d out of range", ref.A, ref.B)
		}
		return d.instrs[ref.A][ref.B], nil
	}
	return nil, errors.New("empty value reference")
}

func (d *decoder) constTree(cp *constPayload) (*Const, error) {
	if cp == nil {
		return nil, errors.New("missing constant payload")
	}
	c := &Const{
		Kind:      ConstKind(cp.Kind),
		Ty:        types.TypeID(cp.Ty),
		Val:       cp.Val,
		Data:      cp.Data,
		ElemWidth: cp.ElemWidth,
	}
	for _, ref := range cp.Elems {
		v, err := d.value(ref)
		if err != nil {
			return nil, err
		}
		c.Elems = append(c.Elems, v)
	}
	if c.Kind == ConstBlockAddr {
		if int(cp.Fn) >= len(d.m.Funcs) {
			return nil, fmt.Errorf("blockaddress func ref %d out of range", cp.Fn)
		}
		c.Fn = d.m.Funcs[cp.Fn]
		if int(cp.Block) >= len(c.Fn.Blocks) {
			return nil, fmt.Errorf("blockaddress block ref %d out of range", cp.Block)
		}
		c.Block = c.Fn.Blocks[cp.Block]
	}
	return c, nil
}

// ReadModuleFile loads a serialized module from disk.
func ReadModuleFile(path string) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			panic(closeErr)
		}
	}()
	m, err := DecodeModule(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// WriteModuleFile stores a module atomically: serialize to a temp file in the
// destination directory, then rename over the target.
func WriteModuleFile(path string, m *Module) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(f.Name())
	}()
	if err := EncodeModule(f, m); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}
