package ir

import (
	"fmt"
)

// OpCode is an opcode for nx VM bytecode
type OpCode byte

const (
	OpHalt OpCode = iota

	OpPushInt    // Int = literal
	OpPushString // Str = literal
	OpPushVoid
	OpPop

	// Variables
	OpLoadVar   // Str = name; push the nearest binding
	OpStoreVar  // Str = name; pop and bind in the innermost scope
	OpAssignVar // Str = name; pop and update the nearest existing binding

	// Scopes
	OpScopeEnter
	OpScopeExit

	// Math
	OpAdd
	OpSub
	OpMul
	OpDiv

	// Compare, push 1 or 0
	OpLess
	OpGreater
	OpEqual

	// Thread managment
	OpJump        // Arg = absolute ip
	OpJumpIfFalse // Arg = absolute ip, pop cond

	// Calls / returns
	OpCall   // Str = function name, Arg = number of arguments
	OpReturn // pop result (Void if none), leave the frame
	OpPrint  // pop value, write it, push Void
)

var opNames = [...]string{
	OpHalt:        "halt",
	OpPushInt:     "push-int",
	OpPushString:  "push-string",
	OpPushVoid:    "push-void",
	OpPop:         "pop",
	OpLoadVar:     "load-var",
	OpStoreVar:    "store-var",
	OpAssignVar:   "assign-var",
	OpScopeEnter:  "scope-enter",
	OpScopeExit:   "scope-exit",
	OpAdd:         "add",
	OpSub:         "sub",
	OpMul:         "mul",
	OpDiv:         "div",
	OpLess:        "less",
	OpGreater:     "greater",
	OpEqual:       "equal",
	OpJump:        "jump",
	OpJumpIfFalse: "jump-if-false",
	OpCall:        "call",
	OpReturn:      "return",
	OpPrint:       "print",
}

func (op OpCode) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", byte(op))
}

// IsJump reports whether Arg of an instruction with this opcode is a code
// index.
func (op OpCode) IsJump() bool {
	return op == OpJump || op == OpJumpIfFalse
}

// Placeholder marks a jump whose target has not been patched yet.
const Placeholder = -1

// Instruction is one bytecode instruction. Which operands are meaningful
// depends on Op.
type Instruction struct {
	Op  OpCode `cbor:"1,keyasint"`
	Int int64  `cbor:"2,keyasint,omitempty"`
	Str string `cbor:"3,keyasint,omitempty"`
	Arg int    `cbor:"4,keyasint,omitempty"`
}

func (in Instruction) String() string {
	switch in.Op {
	case OpPushInt:
		return fmt.Sprintf("%s %d", in.Op, in.Int)
	case OpPushString:
		return fmt.Sprintf("%s %q", in.Op, in.Str)
	case OpLoadVar, OpStoreVar, OpAssignVar:
		return fmt.Sprintf("%s %s", in.Op, in.Str)
	case OpJump, OpJumpIfFalse:
		return fmt.Sprintf("%s %d", in.Op, in.Arg)
	case OpCall:
		return fmt.Sprintf("%s %s %d", in.Op, in.Str, in.Arg)
	default:
		return in.Op.String()
	}
}

// FuncInfo locates a function inside Program.Code.
type FuncInfo struct {
	Entry int `cbor:"1,keyasint"`
	Arity int `cbor:"2,keyasint"`
}

// Program is a compiled nx program: one flat instruction sequence holding
// every function followed by the `call main 0; halt` prologue at Entry.
// A Program is never mutated once Compile returns it.
type Program struct {
	Code      []Instruction       `cbor:"1,keyasint"`
	Functions map[string]FuncInfo `cbor:"2,keyasint"`
	Entry     int                 `cbor:"3,keyasint"`
}

func NewProgram() *Program {
	return &Program{Functions: make(map[string]FuncInfo)}
}

// Emit appends an instruction and returns its index.
func (p *Program) Emit(in Instruction) int {
	p.Code = append(p.Code, in)
	return len(p.Code) - 1
}

// Patch points the jump at idx to target.
func (p *Program) Patch(idx, target int) {
	p.Code[idx].Arg = target
}

// Next is the index the next emitted instruction will get.
func (p *Program) Next() int {
	return len(p.Code)
}

// FuncAt returns the name of the function whose body contains pc, or "" for
// the prologue.
func (p *Program) FuncAt(pc int) string {
	best, bestEntry := "", -1
	for name, fn := range p.Functions {
		if fn.Entry <= pc && fn.Entry > bestEntry && pc < p.Entry {
			best, bestEntry = name, fn.Entry
		}
	}
	return best
}

// ValidationError reports a malformed program.
type ValidationError struct {
	PC  int
	Msg string
}

func (e *ValidationError) Error() string {
	if e.PC < 0 {
		return "invalid program: " + e.Msg
	}
	return fmt.Sprintf("invalid program: instruction %d: %s", e.PC, e.Msg)
}

// Validate checks that every jump target lies inside the code, every call
// names a known function with matching arity, and the entry prologue is in
// place.
func (p *Program) Validate() error {
	n := len(p.Code)
	if p.Entry < 0 || p.Entry >= n {
		return &ValidationError{PC: -1, Msg: fmt.Sprintf("entry %d out of range", p.Entry)}
	}
	main, ok := p.Functions["main"]
	if !ok {
		return &ValidationError{PC: -1, Msg: "missing main function"}
	}
	if main.Arity != 0 {
		return &ValidationError{PC: -1, Msg: "main must take no parameters"}
	}

	for name, fn := range p.Functions {
		if fn.Entry < 0 || fn.Entry >= n {
			return &ValidationError{PC: -1, Msg: fmt.Sprintf("function %s entry %d out of range", name, fn.Entry)}
		}
		if fn.Arity < 0 {
			return &ValidationError{PC: -1, Msg: fmt.Sprintf("function %s has negative arity", name)}
		}
	}

	for pc, in := range p.Code {
		switch {
		case in.Op > OpPrint:
			return &ValidationError{PC: pc, Msg: fmt.Sprintf("unknown opcode %d", byte(in.Op))}
		case in.Op.IsJump():
			if in.Arg == Placeholder {
				return &ValidationError{PC: pc, Msg: "unpatched jump"}
			}
			if in.Arg < 0 || in.Arg >= n {
				return &ValidationError{PC: pc, Msg: fmt.Sprintf("jump target %d out of range", in.Arg)}
			}
		case in.Op == OpCall:
			fn, ok := p.Functions[in.Str]
			if !ok {
				return &ValidationError{PC: pc, Msg: fmt.Sprintf("call to undefined function %s", in.Str)}
			}
			if fn.Arity != in.Arg {
				return &ValidationError{PC: pc, Msg: fmt.Sprintf("call to %s with %d arguments, expects %d", in.Str, in.Arg, fn.Arity)}
			}
		}
	}
	return nil
}
