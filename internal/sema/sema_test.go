package sema_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nx/internal/ast"
	"nx/internal/parser"
	"nx/internal/sema"
)

func parse(t *testing.T, src string) *ast.Program {
	t.Helper()
	prog, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("expected no parser errors, got %v", err)
	}
	return prog
}

func TestAnalyzeValidPrograms(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"hello", `fn main() { print("hello"); }`},
		{"forward call", `fn main() { print(add(1, 2)); } fn add(a, b) { return a + b; }`},
		{"recursion", `fn fact(n) { if n < 2 { return 1; } return n * fact(n - 1); } fn main() { print(fact(5)); }`},
		{"outer variable visible in block", `fn main() { let x = 1; if x { print(x); x = 2; } }`},
		{"let shadows in block", `fn main() { let x = 1; while x < 3 { let x = 10; print(x); break; } }`},
		{"redeclare in same scope", `fn main() { let x = 1; let x = x + 1; print(x); }`},
		{"break in nested if", `fn main() { while 1 { if 1 { break; } else { continue; } } }`},
		{"nested loops", `fn main() { while 1 { while 1 { break; } break; } }`},
		{"bare return", `fn f() { return; } fn main() { f(); }`},
		{"params visible", `fn f(a, b) { return a * b; } fn main() { print(f(2, 3)); }`},
		{"variable named like function", `fn x() { return 1; } fn main() { let x = x(); print(x); }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, sema.Analyze(parse(t, tt.src)))
		})
	}
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"missing main", `fn f() { }`, "missing main function"},
		{"empty program", ``, "missing main function"},
		{"main with params", `fn main(a) { }`, "main must take no parameters"},
		{"duplicate function", `fn f() { } fn f() { } fn main() { }`, "duplicate function `f`"},
		{"redefine print", `fn print(x) { } fn main() { }`, "`print` is a builtin"},
		{"duplicate param", `fn f(a, a) { } fn main() { }`, "duplicate parameter `a` in function `f`"},
		{"undefined variable", `fn main() { print(y); }`, "undefined variable `y`"},
		{"assign undeclared", `fn main() { y = 1; }`, "undefined variable `y`"},
		{"let sees itself", `fn main() { let x = x + 1; }`, "undefined variable `x`"},
		{"block scope ends", `fn main() { if 1 { let t = 1; } print(t); }`, "undefined variable `t`"},
		{"else has own scope", `fn main() { if 1 { let t = 1; } else { print(t); } }`, "undefined variable `t`"},
		{"loop scope ends", `fn main() { while 0 { let t = 1; } print(t); }`, "undefined variable `t`"},
		{"no caller locals", `fn f() { return x; } fn main() { let x = 1; f(); }`, "undefined variable `x`"},
		{"undefined function", `fn main() { g(); }`, "undefined function `g`"},
		{"arity too many", `fn f(a) { } fn main() { f(1, 2); }`, "function `f` expects 1 arguments, got 2"},
		{"arity too few", `fn f(a, b) { } fn main() { f(1); }`, "function `f` expects 2 arguments, got 1"},
		{"print arity", `fn main() { print(1, 2); }`, "function `print` expects 1 arguments, got 2"},
		{"print no args", `fn main() { print(); }`, "function `print` expects 1 arguments, got 0"},
		{"break outside loop", `fn main() { break; }`, "break used outside loop"},
		{"continue outside loop", `fn main() { if 1 { continue; } }`, "continue used outside loop"},
		{"loop flag does not leak into callee", `fn f() { break; } fn main() { while 1 { f(); } }`, "break used outside loop"},
		{"loop flag restored", `fn main() { while 1 { } break; }`, "break used outside loop"},
		{"error in condition", `fn main() { while z { } }`, "undefined variable `z`"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sema.Analyze(parse(t, tt.src))
			require.Error(t, err)
			var serr *sema.Error
			require.True(t, errors.As(err, &serr), "expected *sema.Error, got %T", err)
			assert.Contains(t, serr.Msg, tt.msg)
		})
	}
}

func TestAnalyzeErrorPosition(t *testing.T) {
	err := sema.Analyze(parse(t, "fn main() {\n  print(nope);\n}"))
	require.Error(t, err)
	assert.Equal(t, "2:9: undefined variable `nope`", err.Error())
}

func TestAnalyzeDuplicatesPointAtFirstDeclaration(t *testing.T) {
	err := sema.Analyze(parse(t, `fn f() { } fn f() { } fn main() { }`))
	require.Error(t, err)
	assert.Equal(t, "1:15: duplicate function `f` (first declared at 1:4)", err.Error())

	err = sema.Analyze(parse(t, `fn f(a, a) { } fn main() { }`))
	require.Error(t, err)
	assert.Equal(t, "1:9: duplicate parameter `a` in function `f` (first declared at 1:6)", err.Error())
}

func TestAnalyzeDoesNotMutate(t *testing.T) {
	prog := parse(t, `fn main() { let x = 1; print(x); }`)
	before := ast.Dump(prog)
	require.NoError(t, sema.Analyze(prog))
	assert.Equal(t, before, ast.Dump(prog))
}

func TestScope(t *testing.T) {
	outer := sema.NewScope(nil)
	require.NoError(t, outer.Insert(&sema.Symbol{Name: "a"}))
	assert.Error(t, outer.Insert(&sema.Symbol{Name: "a"}))

	inner := sema.NewScope(outer)
	assert.NotNil(t, inner.Lookup("a"))
	inner.Declare(&sema.Symbol{Name: "b", Arity: 1})
	inner.Declare(&sema.Symbol{Name: "b", Arity: 2})
	assert.Equal(t, 2, inner.Lookup("b").Arity)
	assert.Nil(t, outer.Lookup("b"))
}
