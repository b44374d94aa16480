package types

import (
	"fmt"
	"strings"

	"fortio.org/safecast"
)

// Builtins stores TypeIDs for common primitive types.
type Builtins struct {
	Invalid TypeID
	Void    TypeID
	Label   TypeID
	I1      TypeID
	I8      TypeID
	I16     TypeID
	I32     TypeID
	I64     TypeID
}

// Interner provides stable TypeIDs by hashing structural descriptors.
// Struct types are nominal: two lookups with the same name yield the same ID.
type Interner struct {
	types    []Type
	index    map[Type]TypeID
	fnIndex  map[string]TypeID
	byName   map[string]TypeID
	builtins Builtins
	structs  []StructInfo
	fns      []FnInfo
}

// NewInterner constructs an interner seeded with built-in primitives.
func NewInterner() *Interner {
	in := &Interner{
		index:   make(map[Type]TypeID, 64),
		fnIndex: make(map[string]TypeID, 16),
		byName:  make(map[string]TypeID, 8),
	}
	in.structs = append(in.structs, StructInfo{}) // reserve 0 as invalid sentinel
	in.fns = append(in.fns, FnInfo{})
	in.builtins.Invalid = in.internRaw(Type{Kind: KindInvalid})
	in.builtins.Void = in.Intern(Type{Kind: KindVoid})
	in.builtins.Label = in.Intern(Type{Kind: KindLabel})
	in.builtins.I1 = in.Intern(MakeInt(1))
	in.builtins.I8 = in.Intern(MakeInt(8))
	in.builtins.I16 = in.Intern(MakeInt(16))
	in.builtins.I32 = in.Intern(MakeInt(32))
	in.builtins.I64 = in.Intern(MakeInt(64))
	return in
}

// Builtins returns TypeIDs for primitive types.
func (in *Interner) Builtins() Builtins {
	return in.builtins
}

// Intern ensures the provided descriptor has a stable TypeID.
func (in *Interner) Intern(t Type) TypeID {
	if t.Kind == KindInvalid {
		return NoTypeID
	}
	if id, ok := in.index[t]; ok {
		return id
	}
	return in.internRaw(t)
}

// internRaw adds the descriptor to the storage without consulting the map.
func (in *Interner) internRaw(t Type) TypeID {
	lenTypes, err := safecast.Conv[uint32](len(in.types))
	if err != nil {
		panic(fmt.Errorf("len(types) overflow: %w", err))
	}
	id := TypeID(lenTypes)
	in.types = append(in.types, t)
	in.index[t] = id
	return id
}

// Lookup returns the descriptor for a TypeID.
func (in *Interner) Lookup(id TypeID) (Type, bool) {
	if id == NoTypeID || int(id) >= len(in.types) {
		return Type{}, false
	}
	return in.types[id], true
}

// MustLookup panics when id is invalid.
func (in *Interner) MustLookup(id TypeID) Type {
	tt, ok := in.Lookup(id)
	if !ok {
		panic("types: invalid TypeID")
	}
	return tt
}

// Pointer interns a typed pointer to elem.
func (in *Interner) Pointer(elem TypeID) TypeID {
	return in.Intern(Type{Kind: KindPointer, Elem: elem})
}

// ArrayOf interns a fixed-length array type.
func (in *Interner) ArrayOf(elem TypeID, count uint32) TypeID {
	return in.Intern(Type{Kind: KindArray, Elem: elem, Count: count})
}

// StructOf interns a named struct. Struct identity is nominal: re-interning
// the same name returns the existing ID and ignores the new field list.
func (in *Interner) StructOf(name string, fields []TypeID) TypeID {
	if id, ok := in.byName[name]; ok {
		return id
	}
	payload, err := safecast.Conv[uint32](len(in.structs))
	if err != nil {
		panic(fmt.Errorf("len(structs) overflow: %w", err))
	}
	in.structs = append(in.structs, StructInfo{Name: name, Fields: append([]TypeID(nil), fields...)})
	id := in.internRaw(Type{Kind: KindStruct, Payload: payload})
	in.byName[name] = id
	return id
}

// FuncOf interns a function type.
func (in *Interner) FuncOf(params []TypeID, result TypeID, variadic bool) TypeID {
	key := fnKey(params, result, variadic)
	if id, ok := in.fnIndex[key]; ok {
		return id
	}
	payload, err := safecast.Conv[uint32](len(in.fns))
	if err != nil {
		panic(fmt.Errorf("len(fns) overflow: %w", err))
	}
	in.fns = append(in.fns, FnInfo{
		Params:   append([]TypeID(nil), params...),
		Result:   result,
		Variadic: variadic,
	})
	id := in.internRaw(Type{Kind: KindFunc, Payload: payload})
	in.fnIndex[key] = id
	return id
}

func fnKey(params []TypeID, result TypeID, variadic bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d(", result)
	for i, p := range params {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%d", p)
	}
	if variadic {
		sb.WriteString(",...")
	}
	sb.WriteByte(')')
	return sb.String()
}

// StructInfo returns the payload for a struct TypeID.
func (in *Interner) StructInfo(id TypeID) (StructInfo, bool) {
	tt, ok := in.Lookup(id)
	if !ok || tt.Kind != KindStruct || int(tt.Payload) >= len(in.structs) {
		return StructInfo{}, false
	}
	return in.structs[tt.Payload], true
}

// FnInfo returns the payload for a function TypeID.
func (in *Interner) FnInfo(id TypeID) (FnInfo, bool) {
	tt, ok := in.Lookup(id)
	if !ok || tt.Kind != KindFunc || int(tt.Payload) >= len(in.fns) {
		return FnInfo{}, false
	}
	return in.fns[tt.Payload], true
}

// ArrayInfo returns element type and length for an array TypeID.
func (in *Interner) ArrayInfo(id TypeID) (TypeID, uint32, bool) {
	tt, ok := in.Lookup(id)
	if !ok || tt.Kind != KindArray {
		return NoTypeID, 0, false
	}
	return tt.Elem, tt.Count, true
}

// PointerElem returns the pointee type for a pointer TypeID.
func (in *Interner) PointerElem(id TypeID) (TypeID, bool) {
	tt, ok := in.Lookup(id)
	if !ok || tt.Kind != KindPointer {
		return NoTypeID, false
	}
	return tt.Elem, true
}

// IsInt reports whether id is an integer of the given width.
func (in *Interner) IsInt(id TypeID, width uint8) bool {
	tt, ok := in.Lookup(id)
	return ok && tt.Kind == KindInt && tt.Width == width
}

// IsPointer reports whether id is a pointer type.
func (in *Interner) IsPointer(id TypeID) bool {
	tt, ok := in.Lookup(id)
	return ok && tt.Kind == KindPointer
}
