package parser

import (
	"fmt"
	"strconv"

	"github.com/tliron/commonlog"

	"nx/internal/ast"
	"nx/internal/lexer"
	"nx/internal/token"
)

var log = commonlog.GetLogger("nx.parser")

// Error is the first syntax error found in a source file.
type Error struct {
	Pos token.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// bailout unwinds the parser on the first error.
type bailout struct{}

type Parser struct {
	l *lexer.Lexer

	cur  token.Token
	peek token.Token

	err *Error
}

func New(l *lexer.Lexer) *Parser {
	return &Parser{
		l:    l,
		cur:  l.NextToken(),
		peek: l.NextToken(),
	}
}

func (p *Parser) nextToken() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
	p.checkIllegal()
}

// checkIllegal turns a scanner diagnostic into a syntax error once its token
// reaches the parser.
func (p *Parser) checkIllegal() {
	if p.cur.Kind != token.Illegal {
		return
	}
	if lexErr := p.l.ErrorAt(p.cur.Pos); lexErr != nil {
		p.errorf(p.cur.Pos, "%s", lexErr.Msg)
	}
	p.errorf(p.cur.Pos, "illegal token %q", p.cur.Lexeme)
}

func (p *Parser) errorf(pos token.Position, format string, args ...interface{}) {
	p.err = &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
	panic(bailout{})
}

func (p *Parser) expect(kind token.Kind) token.Token {
	if p.cur.Kind != kind {
		p.errorf(p.cur.Pos, "expected %s, got %s", kind, describe(p.cur))
	}
	tok := p.cur
	p.nextToken()
	return tok
}

func describe(tok token.Token) string {
	if tok.Lexeme == "" || tok.Kind.IsKeyword() {
		return tok.Kind.String()
	}
	return fmt.Sprintf("%s (%q)", tok.Kind, tok.Lexeme)
}

// ---------- Top-level ----------

// ParseProgram parses a whole source file. No partial tree is returned when
// parsing fails.
func (p *Parser) ParseProgram() (prog *ast.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			log.Debugf("parse failed: %s", p.err)
			prog, err = nil, p.err
		}
	}()

	p.checkIllegal()

	prog = &ast.Program{}
	for p.cur.Kind != token.EOF {
		if p.cur.Kind != token.Fn {
			p.errorf(p.cur.Pos, "unexpected token at top level: %s", describe(p.cur))
		}
		prog.Funcs = append(prog.Funcs, p.parseFuncDecl())
	}

	log.Debugf("parsed %d functions", len(prog.Funcs))
	return prog, nil
}

func (p *Parser) parseFuncDecl() *ast.FuncDecl {
	fnTok := p.expect(token.Fn)
	nameTok := p.expect(token.Ident)

	p.expect(token.LParen)
	var params []*ast.Param
	if p.cur.Kind != token.RParen {
		for {
			paramTok := p.expect(token.Ident)
			params = append(params, &ast.Param{
				Name:    paramTok.Lexeme,
				NamePos: paramTok.Pos,
			})
			if p.cur.Kind != token.Comma {
				break
			}
			p.nextToken()
		}
	}
	p.expect(token.RParen)

	body := p.parseBlock()

	return &ast.FuncDecl{
		FnPos:   fnTok.Pos,
		Name:    nameTok.Lexeme,
		NamePos: nameTok.Pos,
		Params:  params,
		Body:    body,
	}
}

// ---------- Statements ----------

func (p *Parser) parseBlock() *ast.Block {
	lbrace := p.expect(token.LBrace)

	block := &ast.Block{
		LBrace: lbrace.Pos,
	}

	for p.cur.Kind != token.RBrace {
		if p.cur.Kind == token.EOF {
			p.errorf(p.cur.Pos, "expected RBrace, got EOF")
		}
		block.Stmts = append(block.Stmts, p.parseStatement())
	}

	block.RBrace = p.cur.Pos
	p.nextToken()
	return block
}

func (p *Parser) parseStatement() ast.Stmt {
	switch p.cur.Kind {
	case token.Let:
		return p.parseLetStmt()
	case token.If:
		return p.parseIfStmt()
	case token.While:
		return p.parseWhileStmt()
	case token.Return:
		return p.parseReturnStmt()
	case token.Break:
		tok := p.cur
		p.nextToken()
		p.expect(token.Semicolon)
		return &ast.BreakStmt{BreakPos: tok.Pos}
	case token.Continue:
		tok := p.cur
		p.nextToken()
		p.expect(token.Semicolon)
		return &ast.ContinueStmt{ContinuePos: tok.Pos}
	default:
		if p.cur.Kind == token.Ident && p.peek.Kind == token.Assign {
			return p.parseAssignStmt()
		}
		expr := p.parseExpr()
		p.expect(token.Semicolon)
		return &ast.ExprStmt{X: expr}
	}
}

func (p *Parser) parseLetStmt() ast.Stmt {
	letTok := p.cur
	p.nextToken()

	nameTok := p.expect(token.Ident)
	p.expect(token.Assign)
	value := p.parseExpr()
	p.expect(token.Semicolon)

	return &ast.LetStmt{
		LetPos:  letTok.Pos,
		Name:    nameTok.Lexeme,
		NamePos: nameTok.Pos,
		Value:   value,
	}
}

func (p *Parser) parseAssignStmt() ast.Stmt {
	nameTok := p.cur
	p.nextToken()
	p.expect(token.Assign)
	value := p.parseExpr()
	p.expect(token.Semicolon)

	return &ast.AssignStmt{
		Name:    nameTok.Lexeme,
		NamePos: nameTok.Pos,
		Value:   value,
	}
}

func (p *Parser) parseReturnStmt() ast.Stmt {
	retTok := p.cur
	p.nextToken()

	var result ast.Expr
	if p.cur.Kind != token.Semicolon {
		result = p.parseExpr()
	}
	p.expect(token.Semicolon)

	return &ast.ReturnStmt{
		ReturnPos: retTok.Pos,
		Result:    result,
	}
}

// Conditions are plain expressions, so `if (x > 0) {` and `if x > 0 {`
// parse the same way.
func (p *Parser) parseIfStmt() ast.Stmt {
	ifTok := p.cur
	p.nextToken()

	cond := p.parseExpr()
	thenBlock := p.parseBlock()

	var elseBlock *ast.Block
	if p.cur.Kind == token.Else {
		p.nextToken()
		if p.cur.Kind == token.If {
			p.errorf(p.cur.Pos, "`else if` is not supported, nest the if inside an else block")
		}
		elseBlock = p.parseBlock()
	}

	return &ast.IfStmt{
		IfPos: ifTok.Pos,
		Cond:  cond,
		Then:  thenBlock,
		Else:  elseBlock,
	}
}

func (p *Parser) parseWhileStmt() ast.Stmt {
	whileTok := p.cur
	p.nextToken()
	cond := p.parseExpr()
	body := p.parseBlock()

	return &ast.WhileStmt{
		WhilePos: whileTok.Pos,
		Cond:     cond,
		Body:     body,
	}
}

// ---------- Expressions ----------

func (p *Parser) parseExpr() ast.Expr {
	return p.parseComparison()
}

var binaryOps = map[token.Kind]ast.BinaryOp{
	token.Plus:  ast.Add,
	token.Minus: ast.Sub,
	token.Star:  ast.Mul,
	token.Slash: ast.Div,
	token.Gt:    ast.Greater,
	token.Lt:    ast.Less,
	token.Eq:    ast.Equal,
}

// Comparisons share one level and associate to the left: a < b < c is
// (a < b) < c.
func (p *Parser) parseComparison() ast.Expr {
	left := p.parseAdditive()
	for p.cur.Kind == token.Gt || p.cur.Kind == token.Lt || p.cur.Kind == token.Eq {
		left = p.binary(left, p.parseAdditive)
	}
	return left
}

func (p *Parser) parseAdditive() ast.Expr {
	left := p.parseMultiplicative()
	for p.cur.Kind == token.Plus || p.cur.Kind == token.Minus {
		left = p.binary(left, p.parseMultiplicative)
	}
	return left
}

func (p *Parser) parseMultiplicative() ast.Expr {
	left := p.parsePrimary()
	for p.cur.Kind == token.Star || p.cur.Kind == token.Slash {
		left = p.binary(left, p.parsePrimary)
	}
	return left
}

func (p *Parser) binary(left ast.Expr, operand func() ast.Expr) ast.Expr {
	opTok := p.cur
	p.nextToken()
	right := operand()
	return &ast.BinaryExpr{
		OpPos: opTok.Pos,
		Op:    binaryOps[opTok.Kind],
		Left:  left,
		Right: right,
	}
}

func (p *Parser) parsePrimary() ast.Expr {
	switch p.cur.Kind {
	case token.Int:
		tok := p.cur
		p.nextToken()
		val, err := strconv.ParseInt(tok.Lexeme, 10, 64)
		if err != nil {
			p.errorf(tok.Pos, "integer literal out of range: %s", tok.Lexeme)
		}
		return &ast.IntLiteral{
			Value:  val,
			LitPos: tok.Pos,
			Raw:    tok.Lexeme,
		}
	case token.String:
		tok := p.cur
		p.nextToken()
		return &ast.StringLiteral{
			Value:  tok.Lexeme,
			LitPos: tok.Pos,
		}
	case token.LParen:
		p.nextToken()
		expr := p.parseExpr()
		p.expect(token.RParen)
		return expr
	case token.Ident:
		if p.peek.Kind == token.LParen {
			return p.parseCall()
		}
		tok := p.cur
		p.nextToken()
		return &ast.VarRef{
			Name:    tok.Lexeme,
			NamePos: tok.Pos,
		}
	default:
		p.errorf(p.cur.Pos, "unexpected token in primary position: %s", describe(p.cur))
		return nil
	}
}

// parseCall accepts a trailing comma after the last argument.
func (p *Parser) parseCall() ast.Expr {
	nameTok := p.cur
	p.nextToken()
	p.expect(token.LParen)

	var args []ast.Expr
	for p.cur.Kind != token.RParen {
		args = append(args, p.parseExpr())
		if p.cur.Kind != token.Comma {
			break
		}
		p.nextToken()
	}
	rparen := p.expect(token.RParen)

	return &ast.CallExpr{
		Name:    nameTok.Lexeme,
		NamePos: nameTok.Pos,
		Args:    args,
		RParen:  rparen.Pos,
	}
}

// Parse is a shorthand for scanning and parsing src in one step.
func Parse(src string, opts ...lexer.Option) (*ast.Program, error) {
	return New(lexer.New(src, opts...)).ParseProgram()
}
