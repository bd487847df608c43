package vm

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/tliron/commonlog"

	"nx/internal/ir"
	"nx/internal/runtime"
	"nx/internal/runtime/builtins"
	"nx/internal/value"
)

var log = commonlog.GetLogger("nx.vm")

const (
	// DefaultMaxFrames bounds call depth so runaway recursion faults instead
	// of exhausting host memory.
	DefaultMaxFrames = 10000

	// cancellation is polled once per this many instructions
	checkInterval = 1024
)

var errStackUnderflow = errors.New("stack underflow")

// RuntimeError is a fault raised while executing a program. The first fault
// stops the VM.
type RuntimeError struct {
	PC   int
	Op   ir.OpCode
	Func string // function containing PC, empty for the prologue
	Msg  string
	Err  error // underlying cause, if any
}

func (e *RuntimeError) Error() string {
	if e.PC < 0 {
		return e.Msg
	}
	if e.Func != "" {
		return fmt.Sprintf("%s (pc %d: %s in %s)", e.Msg, e.PC, e.Op, e.Func)
	}
	return fmt.Sprintf("%s (pc %d: %s)", e.Msg, e.PC, e.Op)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Frame represents a function call frame.
type Frame struct {
	Name     string
	ReturnPC int // where execution resumes after return
	Base     int // stack height before the arguments were pushed
	Scopes   []map[string]value.Value
}

func (f *Frame) lookup(name string) (map[string]value.Value, bool) {
	for i := len(f.Scopes) - 1; i >= 0; i-- {
		if _, ok := f.Scopes[i][name]; ok {
			return f.Scopes[i], true
		}
	}
	return nil, false
}

type Option func(*VM)

// WithMaxFrames sets the call depth at which the VM faults with
// "call stack overflow".
func WithMaxFrames(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxFrames = n
		}
	}
}

// VM is a stack-based virtual machine for nx bytecode.
type VM struct {
	prog   *ir.Program
	stack  []value.Value
	sp     int // Stack pointer: next free index
	frames []Frame

	globals map[string]value.Value

	env       *runtime.Env
	pc        int
	maxFrames int
	steps     uint64
}

// New creates a VM for the given program.
func New(prog *ir.Program, env *runtime.Env, opts ...Option) *VM {
	if env == nil {
		env = runtime.DefaultEnv()
	}
	vm := &VM{
		prog:      prog,
		env:       env,
		maxFrames: DefaultMaxFrames,
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// push/pop

func (vm *VM) push(v value.Value) {
	if vm.sp >= len(vm.stack) {
		vm.stack = append(vm.stack, v)
	} else {
		vm.stack[vm.sp] = v
	}
	vm.sp++
}

func (vm *VM) pop() (value.Value, error) {
	if vm.sp == 0 {
		return value.Value{}, errStackUnderflow
	}
	vm.sp--
	v := vm.stack[vm.sp]
	vm.stack[vm.sp] = value.Value{}
	return v, nil
}

func (vm *VM) truncate(height int) {
	for i := height; i < vm.sp; i++ {
		vm.stack[i] = value.Value{}
	}
	vm.sp = height
}

// StackDepth is the number of values on the operand stack.
func (vm *VM) StackDepth() int {
	return vm.sp
}

// FrameDepth is the number of live call frames.
func (vm *VM) FrameDepth() int {
	return len(vm.frames)
}

// Result is the value main returned, once Run has completed.
func (vm *VM) Result() value.Value {
	if vm.sp == 0 {
		return value.Void()
	}
	return vm.stack[vm.sp-1]
}

func (vm *VM) frame() *Frame {
	if len(vm.frames) == 0 {
		return nil
	}
	return &vm.frames[len(vm.frames)-1]
}

func (vm *VM) fault(op ir.OpCode, err error, format string, args ...interface{}) error {
	return &RuntimeError{
		PC:   vm.pc,
		Op:   op,
		Func: vm.prog.FuncAt(vm.pc),
		Msg:  fmt.Sprintf(format, args...),
		Err:  err,
	}
}

// Run executes the program from its entry prologue until halt or the first
// fault. ctx is polled periodically; cancelling it stops a runaway program.
func (vm *VM) Run(ctx context.Context) error {
	if vm.prog == nil {
		return &RuntimeError{PC: -1, Msg: "no program"}
	}
	if err := vm.prog.Validate(); err != nil {
		return &RuntimeError{PC: -1, Msg: err.Error(), Err: err}
	}

	vm.stack = vm.stack[:0]
	vm.sp = 0
	vm.frames = vm.frames[:0]
	vm.globals = make(map[string]value.Value)
	vm.pc = vm.prog.Entry
	vm.steps = 0

	code := vm.prog.Code
	for {
		if vm.steps%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				return vm.fault(code[vm.pc].Op, err, "interrupted: %v", err)
			}
		}
		vm.steps++

		inst := code[vm.pc]
		shouldIncrementIP := true

		switch inst.Op {
		case ir.OpHalt:
			log.Debugf("halt after %d instructions", vm.steps)
			return nil

		case ir.OpPushInt:
			vm.push(value.Int(inst.Int))

		case ir.OpPushString:
			vm.push(value.Str(inst.Str))

		case ir.OpPushVoid:
			vm.push(value.Void())

		case ir.OpPop:
			if _, err := vm.pop(); err != nil {
				return vm.fault(inst.Op, err, "%v", err)
			}

		// Variables
		case ir.OpLoadVar:
			v, ok := vm.load(inst.Str)
			if !ok {
				return vm.fault(inst.Op, nil, "undefined variable `%s`", inst.Str)
			}
			vm.push(v)

		case ir.OpStoreVar:
			v, err := vm.pop()
			if err != nil {
				return vm.fault(inst.Op, err, "%v", err)
			}
			if fr := vm.frame(); fr != nil && len(fr.Scopes) > 0 {
				fr.Scopes[len(fr.Scopes)-1][inst.Str] = v
			} else {
				vm.globals[inst.Str] = v
			}

		case ir.OpAssignVar:
			v, err := vm.pop()
			if err != nil {
				return vm.fault(inst.Op, err, "%v", err)
			}
			if !vm.assign(inst.Str, v) {
				return vm.fault(inst.Op, nil, "undefined variable `%s`", inst.Str)
			}

		// Scopes
		case ir.OpScopeEnter:
			if fr := vm.frame(); fr != nil {
				fr.Scopes = append(fr.Scopes, make(map[string]value.Value))
			}

		case ir.OpScopeExit:
			if fr := vm.frame(); fr != nil {
				if len(fr.Scopes) == 0 {
					return vm.fault(inst.Op, nil, "scope exit without open scope")
				}
				fr.Scopes[len(fr.Scopes)-1] = nil
				fr.Scopes = fr.Scopes[:len(fr.Scopes)-1]
			}

		// Math
		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpLess, ir.OpGreater, ir.OpEqual:
			if err := vm.binaryIntOp(inst.Op); err != nil {
				return err
			}

		// Control flow
		case ir.OpJump:
			vm.pc = inst.Arg
			shouldIncrementIP = false

		case ir.OpJumpIfFalse:
			cond, err := vm.pop()
			if err != nil {
				return vm.fault(inst.Op, err, "%v", err)
			}
			if !cond.Truthy() {
				vm.pc = inst.Arg
				shouldIncrementIP = false
			}

		// Function calls
		case ir.OpCall:
			if err := vm.call(inst); err != nil {
				return err
			}
			shouldIncrementIP = false

		case ir.OpReturn:
			if err := vm.ret(inst); err != nil {
				return err
			}
			shouldIncrementIP = false

		case ir.OpPrint:
			arg, err := vm.pop()
			if err != nil {
				return vm.fault(inst.Op, err, "%v", err)
			}
			res, err := runtime.CallBuiltin(vm.env, builtins.Print, []value.Value{arg})
			if err != nil {
				return vm.fault(inst.Op, err, "print: %v", err)
			}
			vm.push(res)

		default:
			return vm.fault(inst.Op, nil, "unknown opcode %d", inst.Op)
		}

		if shouldIncrementIP {
			vm.pc++
		}
	}
}

// load resolves name innermost scope first, then globals.
func (vm *VM) load(name string) (value.Value, bool) {
	if fr := vm.frame(); fr != nil {
		if scope, ok := fr.lookup(name); ok {
			return scope[name], true
		}
	}
	v, ok := vm.globals[name]
	return v, ok
}

// assign updates the nearest existing binding of name.
func (vm *VM) assign(name string, v value.Value) bool {
	if fr := vm.frame(); fr != nil {
		if scope, ok := fr.lookup(name); ok {
			scope[name] = v
			return true
		}
	}
	if _, ok := vm.globals[name]; ok {
		vm.globals[name] = v
		return true
	}
	return false
}

func (vm *VM) call(inst ir.Instruction) error {
	fn, ok := vm.prog.Functions[inst.Str]
	if !ok {
		return vm.fault(inst.Op, nil, "undefined function `%s`", inst.Str)
	}
	if fn.Arity != inst.Arg {
		return vm.fault(inst.Op, nil, "arity mismatch: `%s` expects %d arguments, got %d", inst.Str, fn.Arity, inst.Arg)
	}
	if len(vm.frames) >= vm.maxFrames {
		return vm.fault(inst.Op, nil, "call stack overflow")
	}
	if vm.sp < inst.Arg {
		return vm.fault(inst.Op, errStackUnderflow, "%v", errStackUnderflow)
	}

	vm.frames = append(vm.frames, Frame{
		Name:     inst.Str,
		ReturnPC: vm.pc + 1,
		Base:     vm.sp - inst.Arg,
		Scopes:   []map[string]value.Value{make(map[string]value.Value)},
	})
	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("call %s/%d depth=%d", inst.Str, inst.Arg, len(vm.frames))
	}
	vm.pc = fn.Entry
	return nil
}

func (vm *VM) ret(inst ir.Instruction) error {
	fr := vm.frame()
	if fr == nil {
		return vm.fault(inst.Op, nil, "return outside function")
	}

	result := value.Void()
	if vm.sp > fr.Base {
		result, _ = vm.pop()
	}

	if log.AllowLevel(commonlog.Debug) {
		log.Debugf("return from %s depth=%d", fr.Name, len(vm.frames))
	}

	returnPC, base := fr.ReturnPC, fr.Base
	vm.frames[len(vm.frames)-1] = Frame{}
	vm.frames = vm.frames[:len(vm.frames)-1]

	vm.truncate(base)
	vm.push(result)
	vm.pc = returnPC
	return nil
}

// ---- Helpers for binary operations ----

func (vm *VM) binaryIntOp(op ir.OpCode) error {
	b, err := vm.pop()
	if err != nil {
		return vm.fault(op, err, "%v", err)
	}
	a, err := vm.pop()
	if err != nil {
		return vm.fault(op, err, "%v", err)
	}
	if a.Kind != value.KindInt || b.Kind != value.KindInt {
		return vm.fault(op, nil, "expected int, got (%s, %s)", a.Kind, b.Kind)
	}

	x, y := a.Int, b.Int
	var r int64
	switch op {
	case ir.OpAdd:
		r = x + y
		if (x^r)&(y^r) < 0 {
			return vm.fault(op, nil, "integer overflow")
		}
	case ir.OpSub:
		r = x - y
		if (x^y)&(x^r) < 0 {
			return vm.fault(op, nil, "integer overflow")
		}
	case ir.OpMul:
		if x != 0 && y != 0 {
			r = x * y
			if r/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
				return vm.fault(op, nil, "integer overflow")
			}
		}
	case ir.OpDiv:
		if y == 0 {
			return vm.fault(op, nil, "division by zero")
		}
		if x == math.MinInt64 && y == -1 {
			return vm.fault(op, nil, "integer overflow")
		}
		r = x / y
	case ir.OpLess:
		vm.push(value.Bool(x < y))
		return nil
	case ir.OpGreater:
		vm.push(value.Bool(x > y))
		return nil
	case ir.OpEqual:
		vm.push(value.Bool(x == y))
		return nil
	}
	vm.push(value.Int(r))
	return nil
}
