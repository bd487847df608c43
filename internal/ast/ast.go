package ast

import "nx/internal/token"

// Basic interfaces

type Node interface {
	Pos() token.Position
}

type Stmt interface {
	Node
	stmtNode()
}

type Expr interface {
	Node
	exprNode()
}

// Program

type Program struct {
	Funcs []*FuncDecl
}

func (p *Program) Pos() token.Position {
	if len(p.Funcs) > 0 {
		return p.Funcs[0].Pos()
	}
	return token.Position{}
}

// Func returns the declaration with the given name, or nil.
func (p *Program) Func(name string) *FuncDecl {
	for _, fn := range p.Funcs {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// FuncDecl / Param

type FuncDecl struct {
	FnPos   token.Position
	Name    string
	NamePos token.Position
	Params  []*Param
	Body    *Block
}

func (f *FuncDecl) Pos() token.Position { return f.NamePos }

// ParamNames returns the parameter names in declaration order.
func (f *FuncDecl) ParamNames() []string {
	names := make([]string, len(f.Params))
	for i, p := range f.Params {
		names[i] = p.Name
	}
	return names
}

type Param struct {
	Name    string
	NamePos token.Position
}

func (p *Param) Pos() token.Position { return p.NamePos }

// ---------- Statements ----------

// Block is not a statement on its own; it only appears as a function body
// or as a branch/loop body.
type Block struct {
	LBrace token.Position
	Stmts  []Stmt
	RBrace token.Position
}

func (b *Block) Pos() token.Position { return b.LBrace }

type LetStmt struct {
	LetPos  token.Position
	Name    string
	NamePos token.Position
	Value   Expr
}

func (s *LetStmt) Pos() token.Position { return s.LetPos }
func (s *LetStmt) stmtNode()           {}

type AssignStmt struct {
	Name    string
	NamePos token.Position
	Value   Expr
}

func (s *AssignStmt) Pos() token.Position { return s.NamePos }
func (s *AssignStmt) stmtNode()           {}

type ExprStmt struct {
	X Expr
}

func (s *ExprStmt) Pos() token.Position { return s.X.Pos() }
func (s *ExprStmt) stmtNode()           {}

type ReturnStmt struct {
	ReturnPos token.Position
	Result    Expr // nil for `return;`
}

func (s *ReturnStmt) Pos() token.Position { return s.ReturnPos }
func (s *ReturnStmt) stmtNode()           {}

type IfStmt struct {
	IfPos token.Position
	Cond  Expr
	Then  *Block
	Else  *Block // nil without else
}

func (s *IfStmt) Pos() token.Position { return s.IfPos }
func (s *IfStmt) stmtNode()           {}

type WhileStmt struct {
	WhilePos token.Position
	Cond     Expr
	Body     *Block
}

func (s *WhileStmt) Pos() token.Position { return s.WhilePos }
func (s *WhileStmt) stmtNode()           {}

type BreakStmt struct {
	BreakPos token.Position
}

func (s *BreakStmt) Pos() token.Position { return s.BreakPos }
func (s *BreakStmt) stmtNode()           {}

type ContinueStmt struct {
	ContinuePos token.Position
}

func (s *ContinueStmt) Pos() token.Position { return s.ContinuePos }
func (s *ContinueStmt) stmtNode()           {}

// ---------- Expressions ----------

type VarRef struct {
	Name    string
	NamePos token.Position
}

func (e *VarRef) Pos() token.Position { return e.NamePos }
func (e *VarRef) exprNode()           {}

type IntLiteral struct {
	Value  int64
	LitPos token.Position
	Raw    string
}

func (e *IntLiteral) Pos() token.Position { return e.LitPos }
func (e *IntLiteral) exprNode()           {}

type StringLiteral struct {
	Value  string
	LitPos token.Position
}

func (e *StringLiteral) Pos() token.Position { return e.LitPos }
func (e *StringLiteral) exprNode()           {}

type CallExpr struct {
	Name    string
	NamePos token.Position
	Args    []Expr
	RParen  token.Position
}

func (e *CallExpr) Pos() token.Position { return e.NamePos }
func (e *CallExpr) exprNode()           {}

// BinaryOp is the operator of a BinaryExpr.
type BinaryOp int

const (
	Add BinaryOp = iota
	Sub
	Mul
	Div
	Greater
	Less
	Equal
)

func (op BinaryOp) String() string {
	switch op {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "/"
	case Greater:
		return ">"
	case Less:
		return "<"
	case Equal:
		return "=="
	default:
		return "?"
	}
}

type BinaryExpr struct {
	OpPos token.Position
	Op    BinaryOp
	Left  Expr
	Right Expr
}

func (e *BinaryExpr) Pos() token.Position { return e.OpPos }
func (e *BinaryExpr) exprNode()           {}
