package value

import (
	"strconv"
)

// Kind is the type of a value at runtime.
type Kind int

const (
	// KindVoid is the zero Kind, so the zero Value is Void.
	KindVoid Kind = iota
	KindInt
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

// Value is a universal value for the VM/runtime.
type Value struct {
	Kind Kind
	Int  int64
	Str  string
}

// String renders the value the way print writes it: decimal for Int, the
// raw text for String and nothing for Void.
func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindString:
		return v.Str
	default:
		return ""
	}
}

// Truthy reports whether v selects the then-branch of a conditional. Only a
// nonzero Int is truthy.
func (v Value) Truthy() bool {
	return v.Kind == KindInt && v.Int != 0
}

// Helpers

func Int(v int64) Value {
	return Value{Kind: KindInt, Int: v}
}

func Str(s string) Value {
	return Value{Kind: KindString, Str: s}
}

func Void() Value {
	return Value{}
}

func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}
