package sema

import (
	"fmt"

	"github.com/tliron/commonlog"

	"nx/internal/ast"
	"nx/internal/runtime/builtins"
	_ "nx/internal/runtime/builtins/io"
	"nx/internal/token"
)

var log = commonlog.GetLogger("nx.sema")

// ----- Errors -----

type Error struct {
	Pos token.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

func errorf(pos token.Position, format string, args ...interface{}) error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// ----- Symbols and Scopes -----

type SymbolKind int

const (
	SymVar SymbolKind = iota
	SymFunc
	SymBuiltin
)

type Symbol struct {
	Name  string
	Kind  SymbolKind
	Arity int            // functions and builtins only
	Pos   token.Position // declaration site, zero for builtins
}

type Scope struct {
	parent  *Scope
	symbols map[string]*Symbol
}

func NewScope(parent *Scope) *Scope {
	return &Scope{
		parent:  parent,
		symbols: make(map[string]*Symbol),
	}
}

// Insert adds sym, failing if the name is already bound in this scope.
func (s *Scope) Insert(sym *Symbol) error {
	if _, exists := s.symbols[sym.Name]; exists {
		return fmt.Errorf("redefinition of %q", sym.Name)
	}
	s.symbols[sym.Name] = sym
	return nil
}

// Declare binds sym in this scope, replacing any earlier binding of the name.
func (s *Scope) Declare(sym *Symbol) {
	s.symbols[sym.Name] = sym
}

func (s *Scope) Lookup(name string) *Symbol {
	for sc := s; sc != nil; sc = sc.parent {
		if sym, ok := sc.symbols[name]; ok {
			return sym
		}
	}
	return nil
}

// ----- Checker -----

// Checker verifies that every name is defined before use, that calls match
// arity, and that loop control only appears inside loops. It never mutates
// the tree.
type Checker struct {
	funcs *Scope
	scope *Scope

	inLoop bool
}

// Analyze checks prog and returns the first error found.
func Analyze(prog *ast.Program) error {
	c := &Checker{funcs: NewScope(nil)}
	if err := c.collectFuncs(prog); err != nil {
		log.Debugf("analysis failed: %s", err)
		return err
	}
	for _, fn := range prog.Funcs {
		if err := c.checkFunc(fn); err != nil {
			log.Debugf("analysis failed in %s: %s", fn.Name, err)
			return err
		}
	}
	log.Debugf("analyzed %d functions", len(prog.Funcs))
	return nil
}

func (c *Checker) collectFuncs(prog *ast.Program) error {
	for _, meta := range builtins.All() {
		c.funcs.Declare(&Symbol{Name: meta.Name, Kind: SymBuiltin, Arity: meta.Arity})
	}

	for _, fn := range prog.Funcs {
		if existing := c.funcs.Lookup(fn.Name); existing != nil && existing.Kind == SymBuiltin {
			return errorf(fn.NamePos, "`%s` is a builtin and cannot be redefined", fn.Name)
		}
		sym := &Symbol{Name: fn.Name, Kind: SymFunc, Arity: len(fn.Params), Pos: fn.NamePos}
		if err := c.funcs.Insert(sym); err != nil {
			first := c.funcs.Lookup(fn.Name)
			return errorf(fn.NamePos, "duplicate function `%s` (first declared at %s)", fn.Name, first.Pos)
		}
	}

	main := prog.Func("main")
	if main == nil {
		return errorf(prog.Pos(), "missing main function")
	}
	if len(main.Params) != 0 {
		return errorf(main.NamePos, "main must take no parameters")
	}
	return nil
}

func (c *Checker) checkFunc(fn *ast.FuncDecl) error {
	c.scope = NewScope(nil)
	c.inLoop = false

	for _, p := range fn.Params {
		if err := c.scope.Insert(&Symbol{Name: p.Name, Kind: SymVar, Pos: p.NamePos}); err != nil {
			first := c.scope.Lookup(p.Name)
			return errorf(p.NamePos, "duplicate parameter `%s` in function `%s` (first declared at %s)", p.Name, fn.Name, first.Pos)
		}
	}
	return c.checkBlock(fn.Body)
}

func (c *Checker) pushScope() {
	c.scope = NewScope(c.scope)
}

func (c *Checker) popScope() {
	c.scope = c.scope.parent
}

func (c *Checker) checkBlock(b *ast.Block) error {
	c.pushScope()
	defer c.popScope()

	for _, st := range b.Stmts {
		if err := c.checkStmt(st); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) checkStmt(st ast.Stmt) error {
	switch s := st.(type) {
	case *ast.LetStmt:
		// the initializer cannot see the name it defines
		if err := c.checkExpr(s.Value); err != nil {
			return err
		}
		c.scope.Declare(&Symbol{Name: s.Name, Kind: SymVar, Pos: s.NamePos})
		return nil

	case *ast.AssignStmt:
		if err := c.checkExpr(s.Value); err != nil {
			return err
		}
		if c.scope.Lookup(s.Name) == nil {
			return errorf(s.NamePos, "undefined variable `%s`", s.Name)
		}
		return nil

	case *ast.ExprStmt:
		return c.checkExpr(s.X)

	case *ast.ReturnStmt:
		if s.Result == nil {
			return nil
		}
		return c.checkExpr(s.Result)

	case *ast.IfStmt:
		if err := c.checkExpr(s.Cond); err != nil {
			return err
		}
		if err := c.checkBlock(s.Then); err != nil {
			return err
		}
		if s.Else != nil {
			return c.checkBlock(s.Else)
		}
		return nil

	case *ast.WhileStmt:
		if err := c.checkExpr(s.Cond); err != nil {
			return err
		}
		saved := c.inLoop
		c.inLoop = true
		err := c.checkBlock(s.Body)
		c.inLoop = saved
		return err

	case *ast.BreakStmt:
		if !c.inLoop {
			return errorf(s.BreakPos, "break used outside loop")
		}
		return nil

	case *ast.ContinueStmt:
		if !c.inLoop {
			return errorf(s.ContinuePos, "continue used outside loop")
		}
		return nil

	default:
		return errorf(st.Pos(), "unsupported statement %T", st)
	}
}

func (c *Checker) checkExpr(e ast.Expr) error {
	switch e := e.(type) {
	case *ast.IntLiteral, *ast.StringLiteral:
		return nil

	case *ast.VarRef:
		if c.scope.Lookup(e.Name) == nil {
			return errorf(e.NamePos, "undefined variable `%s`", e.Name)
		}
		return nil

	case *ast.BinaryExpr:
		if err := c.checkExpr(e.Left); err != nil {
			return err
		}
		return c.checkExpr(e.Right)

	case *ast.CallExpr:
		fn := c.funcs.Lookup(e.Name)
		if fn == nil {
			return errorf(e.NamePos, "undefined function `%s`", e.Name)
		}
		if len(e.Args) != fn.Arity {
			return errorf(e.NamePos, "function `%s` expects %d arguments, got %d", e.Name, fn.Arity, len(e.Args))
		}
		for _, arg := range e.Args {
			if err := c.checkExpr(arg); err != nil {
				return err
			}
		}
		return nil

	default:
		return errorf(e.Pos(), "unsupported expression %T", e)
	}
}
