package types

// Snapshot is a serializable image of an Interner. TypeIDs are positions in
// Types, so a round trip preserves every ID.
type Snapshot struct {
	Types   []Type
	Structs []StructInfo
	Fns     []FnInfo
}

// Snapshot captures the interner state for serialization.
func (in *Interner) Snapshot() Snapshot {
	return Snapshot{
		Types:   append([]Type(nil), in.types...),
		Structs: append([]StructInfo(nil), in.structs...),
		Fns:     append([]FnInfo(nil), in.fns...),
	}
}

// FromSnapshot rebuilds an interner from a snapshot, reconstructing the
// lookup maps and builtin handles.
func FromSnapshot(s Snapshot) *Interner {
	in := &Interner{
		index:   make(map[Type]TypeID, len(s.Types)),
		fnIndex: make(map[string]TypeID, len(s.Fns)),
		byName:  make(map[string]TypeID, len(s.Structs)),
		types:   append([]Type(nil), s.Types...),
		structs: append([]StructInfo(nil), s.Structs...),
		fns:     append([]FnInfo(nil), s.Fns...),
	}
	for i, t := range in.types {
		id := TypeID(i) //nolint:gosec // G115: bounded by existing type count
		if t.Kind == KindInvalid {
			continue
		}
		in.index[t] = id
		switch t.Kind {
		case KindStruct:
			if int(t.Payload) < len(in.structs) {
				in.byName[in.structs[t.Payload].Name] = id
			}
		case KindFunc:
			if int(t.Payload) < len(in.fns) {
				info := in.fns[t.Payload]
				in.fnIndex[fnKey(info.Params, info.Result, info.Variadic)] = id
			}
		}
	}
	in.builtins = Builtins{
		Invalid: NoTypeID,
		Void:    in.Intern(Type{Kind: KindVoid}),
		Label:   in.Intern(Type{Kind: KindLabel}),
		I1:      in.Intern(MakeInt(1)),
		I8:      in.Intern(MakeInt(8)),
		I16:     in.Intern(MakeInt(16)),
		I32:     in.Intern(MakeInt(32)),
		I64:     in.Intern(MakeInt(64)),
	}
	return in
}
