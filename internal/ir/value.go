package ir

import "goron/internal/types"

// Value is anything an instruction operand may reference: constants, globals,
// functions, arguments and instructions.
type Value interface {
	Type() types.TypeID
	ValueName() string
}

// Linkage enumerates symbol linkage kinds.
type Linkage uint8

const (
	// ExternalLinkage is visible outside the module.
	ExternalLinkage Linkage = iota
	// InternalLinkage is module-local (C static).
	InternalLinkage
	// PrivateLinkage is module-local and omitted from symbol tables.
	PrivateLinkage
	// LinkOnceLinkage may be discarded or merged at link time.
	LinkOnceLinkage
)

// IsLocal reports whether the linkage is module-local.
func (l Linkage) IsLocal() bool {
	return l == InternalLinkage || l == PrivateLinkage
}

func (l Linkage) String() string {
	switch l {
	case ExternalLinkage:
		return "external"
	case InternalLinkage:
		return "internal"
	case PrivateLinkage:
		return "private"
	case LinkOnceLinkage:
		return "linkonce"
	}
	return "unknown"
}

// Arg is a function parameter.
type Arg struct {
	Parent *Func
	Index  int
	Name   string
	Ty     types.TypeID
	Attrs  []string
}

// Type returns the parameter type.
func (a *Arg) Type() types.TypeID { return a.Ty }

// ValueName returns the parameter name.
func (a *Arg) ValueName() string { return a.Name }

// HasAttr reports whether the parameter carries the named attribute.
func (a *Arg) HasAttr(name string) bool {
	for _, at := range a.Attrs {
		if at == name {
			return true
		}
	}
	return false
}
