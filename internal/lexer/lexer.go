package lexer

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/tliron/commonlog"

	"nx/internal/token"
)

var log = commonlog.GetLogger("nx.lexer")

// Option configures a Lexer.
type Option func(*Lexer)

// Strict makes characters outside the language produce Illegal tokens
// instead of being skipped.
func Strict() Option {
	return func(l *Lexer) { l.strict = true }
}

type Lexer struct {
	input []rune

	pos int

	ch   rune
	eof  bool
	line int
	col  int

	strict bool
	errors []*Error
}

// Error is a scanner diagnostic.
type Error struct {
	Pos token.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

func New(input string, opts ...Option) *Lexer {
	l := &Lexer{
		input: []rune(input),
		line:  1,
		col:   0,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.readChar()
	return l
}

func (l *Lexer) NextToken() token.Token {
	for {
		l.skipWhitespaceAndComments()

		pos := token.Position{
			Line:   l.line,
			Column: l.col,
		}

		ch := l.ch

		if l.eof {
			return token.Token{
				Kind:   token.EOF,
				Lexeme: "",
				Pos:    pos,
			}
		}

		if isDigit(ch) {
			return token.Token{
				Kind:   token.Int,
				Lexeme: l.readNumber(),
				Pos:    pos,
			}
		}

		if isLetter(ch) {
			lit := l.readIdentifier()
			return token.Token{
				Kind:   token.LookupIdent(lit),
				Lexeme: lit,
				Pos:    pos,
			}
		}

		if ch == '"' {
			l.readChar() // consume opening quote
			lit, ok := l.readString(pos)
			if !ok {
				return token.Token{Kind: token.Illegal, Lexeme: lit, Pos: pos}
			}
			return token.Token{
				Kind:   token.String,
				Lexeme: lit,
				Pos:    pos,
			}
		}

		var kind token.Kind
		var lexeme string

		switch ch {
		case ';':
			kind, lexeme = token.Semicolon, ";"
		case ',':
			kind, lexeme = token.Comma, ","
		case '(':
			kind, lexeme = token.LParen, "("
		case ')':
			kind, lexeme = token.RParen, ")"
		case '{':
			kind, lexeme = token.LBrace, "{"
		case '}':
			kind, lexeme = token.RBrace, "}"
		case '+':
			kind, lexeme = token.Plus, "+"
		case '-':
			kind, lexeme = token.Minus, "-"
		case '*':
			kind, lexeme = token.Star, "*"
		case '/':
			kind, lexeme = token.Slash, "/"
		case '>':
			kind, lexeme = token.Gt, ">"
		case '<':
			kind, lexeme = token.Lt, "<"
		case '=':
			if l.peekChar() == '=' {
				l.readChar()
				kind, lexeme = token.Eq, "=="
			} else {
				kind, lexeme = token.Assign, "="
			}
		default:
			l.readChar()
			if l.strict {
				l.errorf(pos, "unexpected character %q", ch)
				return token.Token{Kind: token.Illegal, Lexeme: string(ch), Pos: pos}
			}
			log.Debugf("%s: skipping unrecognized character %q", pos, ch)
			continue
		}

		l.readChar()

		return token.Token{
			Kind:   kind,
			Lexeme: lexeme,
			Pos:    pos,
		}
	}
}

// Helpers

func (l *Lexer) readChar() {
	if l.pos >= len(l.input) {
		l.ch = 0
		l.eof = true
		return
	}

	l.ch = l.input[l.pos]
	l.pos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

func (l *Lexer) peekChar() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) skipWhitespaceAndComments() {
	for !l.eof {
		if unicode.IsSpace(l.ch) {
			l.readChar()
			continue
		}
		// Single-line comment
		if l.ch == '/' && l.peekChar() == '/' {
			for !l.eof && l.ch != '\n' {
				l.readChar()
			}
			continue
		}
		return
	}
}

func (l *Lexer) readIdentifier() string {
	start := l.pos - 1 // current rune is already in l.ch
	for !l.eof && (isLetter(l.ch) || unicode.IsDigit(l.ch)) {
		l.readChar()
	}
	return string(l.input[start:l.offset()])
}

func (l *Lexer) readNumber() string {
	start := l.pos - 1
	for !l.eof && isDigit(l.ch) {
		l.readChar()
	}
	return string(l.input[start:l.offset()])
}

// readString consumes everything up to the closing quote. No escape
// sequences are recognised. The closing quote is consumed.
func (l *Lexer) readString(start token.Position) (string, bool) {
	from := l.offset()
	for !l.eof && l.ch != '"' {
		l.readChar()
	}
	lit := string(l.input[from:l.offset()])
	if l.eof {
		l.errorf(start, "unterminated string literal")
		return lit, false
	}
	l.readChar() // closing quote
	return lit, true
}

// offset is the index of l.ch in the input.
func (l *Lexer) offset() int {
	if l.eof {
		return len(l.input)
	}
	return l.pos - 1
}

func (l *Lexer) errorf(pos token.Position, format string, args ...interface{}) {
	l.errors = append(l.errors, &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

// Errors returns the diagnostics recorded so far.
func (l *Lexer) Errors() []*Error {
	return l.errors
}

// ErrorAt returns the diagnostic recorded for the token at pos, or nil.
func (l *Lexer) ErrorAt(pos token.Position) *Error {
	for _, e := range l.errors {
		if e.Pos == pos {
			return e
		}
	}
	return nil
}

func isLetter(ch rune) bool {
	return ch == '_' || unicode.IsLetter(ch)
}

func isDigit(ch rune) bool {
	if ch >= utf8.RuneSelf {
		return false
	}
	return ch >= '0' && ch <= '9'
}
