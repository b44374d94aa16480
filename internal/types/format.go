package types

import "fmt"

// String renders a TypeID the way the IR printer expects it.
func (in *Interner) String(id TypeID) string {
	tt, ok := in.Lookup(id)
	if !ok {
		return "<invalid>"
	}
	switch tt.Kind {
	case KindVoid:
		return "void"
	case KindLabel:
		return "label"
	case KindInt:
		return fmt.Sprintf("i%d", tt.Width)
	case KindPointer:
		return in.String(tt.Elem) + "*"
	case KindArray:
		return fmt.Sprintf("[%d x %s]", tt.Count, in.String(tt.Elem))
	case KindStruct:
		if info, ok := in.StructInfo(id); ok {
			return "%" + info.Name
		}
		return "%<struct>"
	case KindFunc:
		info, ok := in.FnInfo(id)
		if !ok {
			return "<fn>"
		}
		s := in.String(info.Result) + " ("
		for i, p := range info.Params {
			if i > 0 {
				s += ", "
			}
			s += in.String(p)
		}
		if info.Variadic {
			if len(info.Params) > 0 {
				s += ", "
			}
			s += "..."
		}
		return s + ")"
	}
	return "<invalid>"
}
