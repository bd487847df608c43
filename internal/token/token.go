package token

import "fmt"

type Kind int

const (
	Illegal Kind = iota
	EOF

	Ident  // Identifier
	Int    // Integer
	String // String literal

	// Keywords
	Fn
	Let
	If
	Else
	While
	Return
	Break
	Continue

	// Operators
	Assign // =
	Eq     // ==
	Gt     // >
	Lt     // <
	Plus   // +
	Minus  // -
	Star   // *
	Slash  // /

	// Symbols
	Comma     // ,
	Semicolon // ;
	LParen    // (
	RParen    // )
	LBrace    // {
	RBrace    // }
)

type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

type Token struct {
	Kind   Kind
	Lexeme string
	Pos    Position
}

func (t Token) String() string {
	switch t.Kind {
	case Ident, Int:
		return fmt.Sprintf("%s(%s)", t.Kind, t.Lexeme)
	case String:
		return fmt.Sprintf("%s(%q)", t.Kind, t.Lexeme)
	case Illegal:
		if t.Lexeme != "" {
			return fmt.Sprintf("%s(%q)", t.Kind, t.Lexeme)
		}
	}
	return t.Kind.String()
}

var kindNames = [...]string{
	Illegal:   "Illegal",
	EOF:       "EOF",
	Ident:     "Ident",
	Int:       "Int",
	String:    "String",
	Fn:        "Fn",
	Let:       "Let",
	If:        "If",
	Else:      "Else",
	While:     "While",
	Return:    "Return",
	Break:     "Break",
	Continue:  "Continue",
	Assign:    "Assign",
	Eq:        "Eq",
	Gt:        "Gt",
	Lt:        "Lt",
	Plus:      "Plus",
	Minus:     "Minus",
	Star:      "Star",
	Slash:     "Slash",
	Comma:     "Comma",
	Semicolon: "Semicolon",
	LParen:    "LParen",
	RParen:    "RParen",
	LBrace:    "LBrace",
	RBrace:    "RBrace",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var keywords = map[string]Kind{
	"fn":       Fn,
	"let":      Let,
	"if":       If,
	"else":     Else,
	"while":    While,
	"return":   Return,
	"break":    Break,
	"continue": Continue,
}

func LookupIdent(lit string) Kind {
	if kind, ok := keywords[lit]; ok {
		return kind
	}
	return Ident
}

// IsKeyword reports whether k is one of the reserved words.
func (k Kind) IsKeyword() bool {
	return k >= Fn && k <= Continue
}
