package ir

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// program builds main from the given body followed by the entry prologue.
func program(body ...Instruction) *Program {
	p := NewProgram()
	p.Functions["main"] = FuncInfo{Entry: 0, Arity: 0}
	for _, in := range body {
		p.Emit(in)
	}
	p.Entry = p.Emit(Instruction{Op: OpCall, Str: "main"})
	p.Emit(Instruction{Op: OpHalt})
	return p
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		prog func() *Program
		msg  string
	}{
		{
			name: "valid",
			prog: func() *Program {
				return program(Instruction{Op: OpPushVoid}, Instruction{Op: OpReturn})
			},
		},
		{
			name: "unpatched jump",
			prog: func() *Program {
				return program(Instruction{Op: OpJump, Arg: Placeholder})
			},
			msg: "instruction 0: unpatched jump",
		},
		{
			name: "jump past end",
			prog: func() *Program {
				return program(Instruction{Op: OpJumpIfFalse, Arg: 3})
			},
			msg: "instruction 0: jump target 3 out of range",
		},
		{
			name: "undefined callee",
			prog: func() *Program {
				return program(Instruction{Op: OpCall, Str: "g", Arg: 0})
			},
			msg: "call to undefined function g",
		},
		{
			name: "arity mismatch",
			prog: func() *Program {
				p := program(Instruction{Op: OpCall, Str: "main", Arg: 2})
				return p
			},
			msg: "call to main with 2 arguments, expects 0",
		},
		{
			name: "missing main",
			prog: func() *Program {
				p := program()
				delete(p.Functions, "main")
				p.Functions["other"] = FuncInfo{}
				return p
			},
			msg: "missing main function",
		},
		{
			name: "main with params",
			prog: func() *Program {
				p := program()
				p.Functions["main"] = FuncInfo{Entry: 0, Arity: 1}
				return p
			},
			msg: "main must take no parameters",
		},
		{
			name: "entry out of range",
			prog: func() *Program {
				p := program()
				p.Entry = 50
				return p
			},
			msg: "entry 50 out of range",
		},
		{
			name: "unknown opcode",
			prog: func() *Program {
				return program(Instruction{Op: OpCode(200)})
			},
			msg: "unknown opcode 200",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.prog().Validate()
			if tt.msg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestOpCodeNames(t *testing.T) {
	for op := OpHalt; op <= OpPrint; op++ {
		assert.NotContains(t, op.String(), "op(", "opcode %d has no name", op)
	}
	assert.Equal(t, "op(200)", OpCode(200).String())
	assert.True(t, OpJump.IsJump())
	assert.True(t, OpJumpIfFalse.IsJump())
	assert.False(t, OpCall.IsJump())
}

func TestFuncAt(t *testing.T) {
	p := NewProgram()
	p.Functions["f"] = FuncInfo{Entry: 0}
	p.Functions["main"] = FuncInfo{Entry: 2}
	p.Emit(Instruction{Op: OpPushVoid})
	p.Emit(Instruction{Op: OpReturn})
	p.Emit(Instruction{Op: OpPushVoid})
	p.Emit(Instruction{Op: OpReturn})
	p.Entry = p.Emit(Instruction{Op: OpCall, Str: "main"})
	p.Emit(Instruction{Op: OpHalt})

	assert.Equal(t, "f", p.FuncAt(1))
	assert.Equal(t, "main", p.FuncAt(2))
	assert.Equal(t, "main", p.FuncAt(3))
	assert.Equal(t, "", p.FuncAt(4))
}

func TestDisassemble(t *testing.T) {
	p := NewProgram()
	p.Functions["main"] = FuncInfo{Entry: 0}
	p.Emit(Instruction{Op: OpScopeEnter})
	p.Emit(Instruction{Op: OpPushString, Str: strings.Repeat("x", 50)})
	p.Emit(Instruction{Op: OpPrint})
	p.Emit(Instruction{Op: OpPop})
	p.Emit(Instruction{Op: OpScopeExit})
	p.Emit(Instruction{Op: OpPushVoid})
	p.Emit(Instruction{Op: OpReturn})
	p.Entry = p.Emit(Instruction{Op: OpCall, Str: "main"})
	p.Emit(Instruction{Op: OpHalt})

	out := p.DisassembleWithName("demo.nx")
	assert.Contains(t, out, "; === demo.nx ===")
	assert.Contains(t, out, "; 9 instructions, 1 functions, entry 0007")
	assert.Contains(t, out, "main:\n0000  scope-enter")
	assert.Contains(t, out, `0001  push-string "`+strings.Repeat("x", 37)+`..."`)
	assert.Contains(t, out, "<entry>:\n0007  call main 0")
	assert.Contains(t, out, "0008  halt")
	assert.NotContains(t, p.Disassemble(), "===")
}

func TestDisassembleTruncatesOnRuneBoundary(t *testing.T) {
	p := program(
		Instruction{Op: OpPushString, Str: strings.Repeat("é", 50)},
		Instruction{Op: OpPushString, Str: strings.Repeat("日", 40)},
		Instruction{Op: OpReturn},
	)

	out := p.Disassemble()
	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, `0000  push-string "`+strings.Repeat("é", 37)+`..."`)
	assert.Contains(t, out, `0001  push-string "`+strings.Repeat("日", 40)+`"`)
}
