package ir

import (
	"encoding/binary"

	"fortio.org/safecast"

	"goron/internal/types"
)

// ConstKind enumerates constant kinds.
type ConstKind uint8

const (
	// ConstInt is an integer constant.
	ConstInt ConstKind = iota
	// ConstNull is a null pointer constant.
	ConstNull
	// ConstZero is an aggregate zero initializer.
	ConstZero
	// ConstData is a packed sequence of integer elements (string data).
	ConstData
	// ConstArray is an array of constant elements.
	ConstArray
	// ConstStruct is a struct of constant elements.
	ConstStruct
	// ConstBlockAddr is the address of a basic block.
	ConstBlockAddr
	// ConstExprSub is a compile-time subtraction.
	ConstExprSub
	// ConstExprGEP is a compile-time element-pointer computation.
	ConstExprGEP
	// ConstExprBitCast is a compile-time pointer cast.
	ConstExprBitCast
)

// Const is an immutable constant tree. Elems holds operands for aggregate and
// expression kinds; globals and functions may appear directly as elements
// because their addresses are constants.
type Const struct {
	Kind ConstKind
	Ty   types.TypeID

	Val       uint64  // ConstInt
	Data      []byte  // ConstData raw little-endian bytes
	ElemWidth uint8   // ConstData element width in bits
	Elems     []Value // aggregate elements or expression operands
	Fn        *Func   // ConstBlockAddr
	Block     *Block  // ConstBlockAddr
}

// Type returns the constant's type.
func (c *Const) Type() types.TypeID { return c.Ty }

// ValueName returns the empty string; constants are unnamed.
func (c *Const) ValueName() string { return "" }

// NewInt builds an integer constant of the given type, truncated to width.
func NewInt(in *types.Interner, ty types.TypeID, v uint64) *Const {
	tt := in.MustLookup(ty)
	if tt.Kind != types.KindInt {
		panic("ir: NewInt on non-integer type")
	}
	return &Const{Kind: ConstInt, Ty: ty, Val: truncToWidth(v, tt.Width)}
}

func truncToWidth(v uint64, width uint8) uint64 {
	if width >= 64 {
		return v
	}
	return v & (1<<width - 1)
}

// IntVal returns the integer payload of an integer constant.
func (c *Const) IntVal() uint64 {
	if c.Kind != ConstInt {
		panic("ir: IntVal on non-integer constant")
	}
	return c.Val
}

// NewNull builds a null pointer constant.
func NewNull(ty types.TypeID) *Const {
	return &Const{Kind: ConstNull, Ty: ty}
}

// NewZero builds an aggregate zero initializer.
func NewZero(ty types.TypeID) *Const {
	return &Const{Kind: ConstZero, Ty: ty}
}

// NullValue returns the zero value of ty: 0 for integers, null for pointers,
// zeroinitializer for aggregates.
func NullValue(in *types.Interner, ty types.TypeID) *Const {
	switch in.MustLookup(ty).Kind {
	case types.KindInt:
		return NewInt(in, ty, 0)
	case types.KindPointer:
		return NewNull(ty)
	default:
		return NewZero(ty)
	}
}

// NewData builds a packed data constant over elements of elemWidth bits.
// The raw bytes are stored little-endian per element, matching the layout the
// encrypted pool is emitted with.
func NewData(in *types.Interner, elemWidth uint8, raw []byte) *Const {
	if elemWidth != 8 && elemWidth != 16 && elemWidth != 32 {
		panic("ir: unsupported data element width")
	}
	step := int(elemWidth / 8)
	if len(raw)%step != 0 {
		panic("ir: data length not a multiple of element size")
	}
	n, err := safecast.Conv[uint32](len(raw) / step)
	if err != nil {
		panic(err)
	}
	ty := in.ArrayOf(in.Intern(types.MakeInt(elemWidth)), n)
	return &Const{Kind: ConstData, Ty: ty, ElemWidth: elemWidth, Data: append([]byte(nil), raw...)}
}

// NumElements returns the element count of a data constant.
func (c *Const) NumElements() int {
	if c.Kind != ConstData {
		panic("ir: NumElements on non-data constant")
	}
	return len(c.Data) / int(c.ElemWidth/8)
}

// ElementAsInt returns element i of a data constant.
func (c *Const) ElementAsInt(i int) uint64 {
	if c.Kind != ConstData {
		panic("ir: ElementAsInt on non-data constant")
	}
	switch c.ElemWidth {
	case 8:
		return uint64(c.Data[i])
	case 16:
		return uint64(binary.LittleEndian.Uint16(c.Data[i*2:]))
	case 32:
		return uint64(binary.LittleEndian.Uint32(c.Data[i*4:]))
	}
	panic("ir: unsupported data element width")
}

// NewArray builds an array constant; every element must be a constant value.
func NewArray(in *types.Interner, elemTy types.TypeID, elems []Value) *Const {
	n, err := safecast.Conv[uint32](len(elems))
	if err != nil {
		panic(err)
	}
	return &Const{
		Kind:  ConstArray,
		Ty:    in.ArrayOf(elemTy, n),
		Elems: append([]Value(nil), elems...),
	}
}

// NewStruct builds a struct constant of the given struct type.
func NewStruct(ty types.TypeID, elems []Value) *Const {
	return &Const{Kind: ConstStruct, Ty: ty, Elems: append([]Value(nil), elems...)}
}

// BlockAddress returns the address-of-block constant, an i8*.
func BlockAddress(in *types.Interner, f *Func, b *Block) *Const {
	return &Const{
		Kind:  ConstBlockAddr,
		Ty:    in.Pointer(in.Builtins().I8),
		Fn:    f,
		Block: b,
	}
}

// ExprSub builds the compile-time difference l - r. Integer operands fold to
// a plain integer constant truncated to the operand width.
func ExprSub(in *types.Interner, l, r Value) *Const {
	lc, lok := l.(*Const)
	rc, rok := r.(*Const)
	if lok && rok && lc.Kind == ConstInt && rc.Kind == ConstInt {
		tt := in.MustLookup(lc.Ty)
		return &Const{Kind: ConstInt, Ty: lc.Ty, Val: truncToWidth(lc.Val-rc.Val, tt.Width)}
	}
	return &Const{Kind: ConstExprSub, Ty: l.Type(), Elems: []Value{l, r}}
}

// ExprGEP builds a compile-time element-pointer computation over base.
func ExprGEP(in *types.Interner, base Value, indices ...Value) *Const {
	elems := make([]Value, 0, 1+len(indices))
	elems = append(elems, base)
	elems = append(elems, indices...)
	return &Const{Kind: ConstExprGEP, Ty: GEPResultType(in, base.Type(), indices), Elems: elems}
}

// ExprBitCast builds a compile-time pointer cast.
func ExprBitCast(v Value, ty types.TypeID) *Const {
	return &Const{Kind: ConstExprBitCast, Ty: ty, Elems: []Value{v}}
}

// RefersTo reports whether the constant tree references target, directly or
// through nested aggregates and expressions.
func (c *Const) RefersTo(target Value) bool {
	for _, e := range c.Elems {
		if e == target {
			return true
		}
		if ec, ok := e.(*Const); ok && ec.RefersTo(target) {
			return true
		}
	}
	return false
}

// IsSafeToDestroyConstant reports whether a constant can be dropped when its
// last user goes away. Globals and functions are owned by the module, plain
// constant trees by nobody.
func IsSafeToDestroyConstant(v Value) bool {
	_, isConst := v.(*Const)
	return isConst
}
