package io

// IO is the minimal interface needed by builtin IO functions (e.g. print).
type IO interface {
	Println(string)
}
