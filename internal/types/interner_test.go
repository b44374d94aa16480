package types_test

import (
	"testing"

	"goron/internal/types"
)

func TestInterner_Dedup(t *testing.T) {
	in := types.NewInterner()

	i32a := in.Intern(types.MakeInt(32))
	i32b := in.Intern(types.MakeInt(32))
	if i32a != i32b {
		t.Errorf("interning i32 twice gave %d and %d", i32a, i32b)
	}
	if i32a != in.Builtins().I32 {
		t.Errorf("interned i32 %d differs from builtin %d", i32a, in.Builtins().I32)
	}

	p1 := in.Pointer(i32a)
	p2 := in.Pointer(i32a)
	if p1 != p2 {
		t.Errorf("interning i32* twice gave %d and %d", p1, p2)
	}

	a1 := in.ArrayOf(in.Builtins().I8, 6)
	a2 := in.ArrayOf(in.Builtins().I8, 6)
	a3 := in.ArrayOf(in.Builtins().I8, 7)
	if a1 != a2 {
		t.Errorf("interning [6 x i8] twice gave %d and %d", a1, a2)
	}
	if a1 == a3 {
		t.Error("[6 x i8] and [7 x i8] interned to the same id")
	}
}

func TestInterner_FuncTypes(t *testing.T) {
	in := types.NewInterner()
	i32 := in.Builtins().I32

	f1 := in.FuncOf([]types.TypeID{i32, i32}, i32, false)
	f2 := in.FuncOf([]types.TypeID{i32, i32}, i32, false)
	f3 := in.FuncOf([]types.TypeID{i32}, i32, false)
	f4 := in.FuncOf([]types.TypeID{i32, i32}, i32, true)

	if f1 != f2 {
		t.Errorf("same signature interned to %d and %d", f1, f2)
	}
	if f1 == f3 || f1 == f4 {
		t.Error("distinct signatures share a TypeID")
	}

	info, ok := in.FnInfo(f4)
	if !ok {
		t.Fatal("FnInfo lookup failed")
	}
	if !info.Variadic || len(info.Params) != 2 || info.Result != i32 {
		t.Errorf("unexpected FnInfo: %+v", info)
	}
}

func TestInterner_StructNominal(t *testing.T) {
	in := types.NewInterner()
	i8p := in.Pointer(in.Builtins().I8)

	s1 := in.StructOf("struct.__NSConstantString_tag", []types.TypeID{i8p, in.Builtins().I32})
	s2 := in.StructOf("struct.__NSConstantString_tag", nil)
	if s1 != s2 {
		t.Errorf("same struct name interned to %d and %d", s1, s2)
	}
	info, ok := in.StructInfo(s1)
	if !ok || info.Name != "struct.__NSConstantString_tag" || len(info.Fields) != 2 {
		t.Errorf("unexpected StructInfo: %+v", info)
	}
}

func TestInterner_String(t *testing.T) {
	in := types.NewInterner()
	i8 := in.Builtins().I8

	tests := []struct {
		id   types.TypeID
		want string
	}{
		{in.Builtins().Void, "void"},
		{in.Builtins().I32, "i32"},
		{in.Pointer(i8), "i8*"},
		{in.ArrayOf(i8, 6), "[6 x i8]"},
		{in.Pointer(in.Pointer(i8)), "i8**"},
	}
	for _, tt := range tests {
		if got := in.String(tt.id); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	in := types.NewInterner()
	i32 := in.Builtins().I32
	i8p := in.Pointer(in.Builtins().I8)
	arr := in.ArrayOf(in.Builtins().I8, 12)
	fn := in.FuncOf([]types.TypeID{i8p, i8p}, in.Builtins().Void, false)
	st := in.StructOf("struct.pair", []types.TypeID{i32, i32})

	restored := types.FromSnapshot(in.Snapshot())

	if got := restored.Pointer(restored.Builtins().I8); got != i8p {
		t.Errorf("pointer id changed after round trip: %d != %d", got, i8p)
	}
	if got := restored.ArrayOf(restored.Builtins().I8, 12); got != arr {
		t.Errorf("array id changed after round trip: %d != %d", got, arr)
	}
	if got := restored.FuncOf([]types.TypeID{i8p, i8p}, restored.Builtins().Void, false); got != fn {
		t.Errorf("func id changed after round trip: %d != %d", got, fn)
	}
	if got := restored.StructOf("struct.pair", nil); got != st {
		t.Errorf("struct id changed after round trip: %d != %d", got, st)
	}
	if restored.String(arr) != "[12 x i8]" {
		t.Errorf("restored interner renders %q", restored.String(arr))
	}
}
