package ir

import (
	"fmt"

	"github.com/tliron/commonlog"

	"nx/internal/ast"
	"nx/internal/runtime/builtins"
	_ "nx/internal/runtime/builtins/io"
	"nx/internal/token"
)

var log = commonlog.GetLogger("nx.ir")

// CompileError is an internal inconsistency found while lowering a tree that
// passed semantic analysis.
type CompileError struct {
	Pos token.Position
	Msg string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// Compiler lowers a whole program into one instruction sequence.
type Compiler struct {
	prog *Program

	errors []error
}

// Compile compiles an analyzed program. The result has passed Validate.
func Compile(prog *ast.Program) (*Program, error) {
	if prog == nil {
		return nil, fmt.Errorf("nil program")
	}

	c := &Compiler{prog: NewProgram()}

	for _, fn := range prog.Funcs {
		if _, exists := c.prog.Functions[fn.Name]; exists {
			c.addError(fn.NamePos, "duplicate function %s", fn.Name)
			continue
		}
		fc := &funcCompiler{c: c, fn: fn}
		fc.compile()
	}

	// prologue
	c.prog.Entry = c.prog.Emit(Instruction{Op: OpCall, Str: "main", Arg: 0})
	c.prog.Emit(Instruction{Op: OpHalt})

	if len(c.errors) > 0 {
		return nil, c.errors[0]
	}
	if err := c.prog.Validate(); err != nil {
		return nil, err
	}

	log.Debugf("compiled %d functions into %d instructions", len(c.prog.Functions), len(c.prog.Code))
	return c.prog, nil
}

func (c *Compiler) addError(pos token.Position, format string, args ...interface{}) {
	c.errors = append(c.errors, &CompileError{Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

// ---------- funcCompiler ----------

type loopContext struct {
	start      int   // condition of the loop, target of continue
	scopeDepth int   // scopes open outside the loop body
	breakJumps []int // indices of OpJump instructions that should jump to loop exit
}

type funcCompiler struct {
	c  *Compiler
	fn *ast.FuncDecl

	scopeDepth int
	loopStack  []loopContext // stack of active loops for break/continue handling
}

func (fc *funcCompiler) emit(in Instruction) int {
	return fc.c.prog.Emit(in)
}

func (fc *funcCompiler) addError(node ast.Node, format string, args ...interface{}) {
	fc.c.addError(node.Pos(), format, args...)
}

func (fc *funcCompiler) compile() {
	entry := fc.c.prog.Next()
	fc.c.prog.Functions[fc.fn.Name] = FuncInfo{Entry: entry, Arity: len(fc.fn.Params)}

	// Arguments sit on the stack in call order, so the last one is on top.
	for i := len(fc.fn.Params) - 1; i >= 0; i-- {
		fc.emit(Instruction{Op: OpStoreVar, Str: fc.fn.Params[i].Name})
	}

	fc.compileBlock(fc.fn.Body)

	// falling off the end returns Void
	fc.emit(Instruction{Op: OpPushVoid})
	fc.emit(Instruction{Op: OpReturn})
}

func (fc *funcCompiler) compileBlock(b *ast.Block) {
	fc.emit(Instruction{Op: OpScopeEnter})
	fc.scopeDepth++
	for _, st := range b.Stmts {
		fc.compileStmt(st)
	}
	fc.scopeDepth--
	fc.emit(Instruction{Op: OpScopeExit})
}

func (fc *funcCompiler) compileStmt(s ast.Stmt) {
	switch st := s.(type) {
	case *ast.LetStmt:
		fc.compileExpr(st.Value)
		fc.emit(Instruction{Op: OpStoreVar, Str: st.Name})

	case *ast.AssignStmt:
		fc.compileExpr(st.Value)
		fc.emit(Instruction{Op: OpAssignVar, Str: st.Name})

	case *ast.ExprStmt:
		fc.compileExpr(st.X)
		fc.emit(Instruction{Op: OpPop})

	case *ast.ReturnStmt:
		if st.Result != nil {
			fc.compileExpr(st.Result)
		} else {
			fc.emit(Instruction{Op: OpPushVoid})
		}
		fc.emit(Instruction{Op: OpReturn})

	case *ast.IfStmt:
		fc.compileIf(st)

	case *ast.WhileStmt:
		fc.compileWhile(st)

	case *ast.BreakStmt:
		fc.compileBreak(st)

	case *ast.ContinueStmt:
		fc.compileContinue(st)

	default:
		fc.addError(s, "unsupported statement %T", s)
	}
}

func (fc *funcCompiler) compileIf(s *ast.IfStmt) {
	// cond
	fc.compileExpr(s.Cond)
	jumpIfFalseIdx := fc.emit(Instruction{Op: OpJumpIfFalse, Arg: Placeholder})

	// then
	fc.compileBlock(s.Then)

	if s.Else != nil {
		// Jump over else block
		jumpEndIdx := fc.emit(Instruction{Op: OpJump, Arg: Placeholder})
		fc.c.prog.Patch(jumpIfFalseIdx, fc.c.prog.Next())

		fc.compileBlock(s.Else)

		fc.c.prog.Patch(jumpEndIdx, fc.c.prog.Next())
	} else {
		fc.c.prog.Patch(jumpIfFalseIdx, fc.c.prog.Next())
	}
}

func (fc *funcCompiler) compileWhile(s *ast.WhileStmt) {
	loopStart := fc.c.prog.Next()

	fc.compileExpr(s.Cond)
	jumpIfFalseIdx := fc.emit(Instruction{Op: OpJumpIfFalse, Arg: Placeholder})

	fc.pushLoop(loopStart)
	fc.compileBlock(s.Body)

	// Jump back to loop start
	fc.emit(Instruction{Op: OpJump, Arg: loopStart})

	afterLoop := fc.c.prog.Next()
	fc.c.prog.Patch(jumpIfFalseIdx, afterLoop)

	// Patch all 'break' jumps in this loop to jump to afterLoop
	fc.popLoop(afterLoop)
}

func (fc *funcCompiler) pushLoop(start int) {
	fc.loopStack = append(fc.loopStack, loopContext{start: start, scopeDepth: fc.scopeDepth})
}

func (fc *funcCompiler) recordBreakJump(jumpIndex int) {
	top := len(fc.loopStack) - 1
	fc.loopStack[top].breakJumps = append(fc.loopStack[top].breakJumps, jumpIndex)
}

func (fc *funcCompiler) popLoop(afterLoopIP int) {
	top := len(fc.loopStack) - 1
	ctx := fc.loopStack[top]
	fc.loopStack = fc.loopStack[:top]

	for _, idx := range ctx.breakJumps {
		fc.c.prog.Patch(idx, afterLoopIP)
	}
}

// exitLoopScopes closes every block opened since the innermost loop body
// began, so leaving the loop early keeps scope-enter and scope-exit paired.
func (fc *funcCompiler) exitLoopScopes() {
	ctx := fc.loopStack[len(fc.loopStack)-1]
	for i := fc.scopeDepth; i > ctx.scopeDepth; i-- {
		fc.emit(Instruction{Op: OpScopeExit})
	}
}

func (fc *funcCompiler) compileBreak(s *ast.BreakStmt) {
	if len(fc.loopStack) == 0 {
		fc.addError(s, "break used outside loop")
		return
	}
	fc.exitLoopScopes()
	jumpIndex := fc.emit(Instruction{Op: OpJump, Arg: Placeholder})
	fc.recordBreakJump(jumpIndex)
}

func (fc *funcCompiler) compileContinue(s *ast.ContinueStmt) {
	if len(fc.loopStack) == 0 {
		fc.addError(s, "continue used outside loop")
		return
	}
	fc.exitLoopScopes()
	fc.emit(Instruction{Op: OpJump, Arg: fc.loopStack[len(fc.loopStack)-1].start})
}

// ---------- Expressions ----------

var binaryOpCodes = map[ast.BinaryOp]OpCode{
	ast.Add:     OpAdd,
	ast.Sub:     OpSub,
	ast.Mul:     OpMul,
	ast.Div:     OpDiv,
	ast.Less:    OpLess,
	ast.Greater: OpGreater,
	ast.Equal:   OpEqual,
}

func (fc *funcCompiler) compileExpr(e ast.Expr) {
	switch ex := e.(type) {
	case *ast.IntLiteral:
		fc.emit(Instruction{Op: OpPushInt, Int: ex.Value})

	case *ast.StringLiteral:
		fc.emit(Instruction{Op: OpPushString, Str: ex.Value})

	case *ast.VarRef:
		fc.emit(Instruction{Op: OpLoadVar, Str: ex.Name})

	case *ast.BinaryExpr:
		op, ok := binaryOpCodes[ex.Op]
		if !ok {
			fc.addError(ex, "unsupported binary operator %s", ex.Op)
			return
		}
		fc.compileExpr(ex.Left)
		fc.compileExpr(ex.Right)
		fc.emit(Instruction{Op: op})

	case *ast.CallExpr:
		fc.compileCall(ex)

	default:
		fc.addError(e, "unsupported expression %T", e)
	}
}

func (fc *funcCompiler) compileCall(call *ast.CallExpr) {
	for _, arg := range call.Args {
		fc.compileExpr(arg)
	}

	if builtin := builtins.LookupByName(call.Name); builtin != nil {
		switch builtin.Meta.ID {
		case builtins.Print:
			fc.emit(Instruction{Op: OpPrint})
		default:
			fc.addError(call, "builtin %s has no opcode", call.Name)
		}
		return
	}

	fc.emit(Instruction{Op: OpCall, Str: call.Name, Arg: len(call.Args)})
}
