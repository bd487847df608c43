package ast

import (
	"fmt"
	"io"
	"strings"
)

// Dump returns a human-readable representation of the AST.
func Dump(node Node) string {
	var sb strings.Builder
	fprintNode(&sb, node, 0)
	return sb.String()
}

func fprintNode(w io.Writer, n Node, indent int) {
	if n == nil {
		return
	}

	ind := strings.Repeat("  ", indent)

	switch n := n.(type) {
	case *Program:
		fmt.Fprintf(w, "%sProgram\n", ind)
		for _, fn := range n.Funcs {
			fprintNode(w, fn, indent+1)
		}

	case *FuncDecl:
		fmt.Fprintf(w, "%sFuncDecl name=%s\n", ind, n.Name)
		if len(n.Params) > 0 {
			fmt.Fprintf(w, "%s  Params: %s\n", ind, strings.Join(n.ParamNames(), ", "))
		}
		if n.Body != nil {
			fmt.Fprintf(w, "%s  Body:\n", ind)
			fprintNode(w, n.Body, indent+2)
		}

	case *Block:
		fmt.Fprintf(w, "%sBlock\n", ind)
		for _, st := range n.Stmts {
			fprintNode(w, st, indent+1)
		}

	case *LetStmt:
		fmt.Fprintf(w, "%sLetStmt name=%s\n", ind, n.Name)
		fprintNode(w, n.Value, indent+1)

	case *AssignStmt:
		fmt.Fprintf(w, "%sAssignStmt name=%s\n", ind, n.Name)
		fprintNode(w, n.Value, indent+1)

	case *ExprStmt:
		fmt.Fprintf(w, "%sExprStmt\n", ind)
		fprintNode(w, n.X, indent+1)

	case *ReturnStmt:
		fmt.Fprintf(w, "%sReturnStmt\n", ind)
		if n.Result != nil {
			fprintNode(w, n.Result, indent+1)
		}

	case *IfStmt:
		fmt.Fprintf(w, "%sIfStmt\n", ind)
		fmt.Fprintf(w, "%s  Cond:\n", ind)
		fprintNode(w, n.Cond, indent+2)
		fmt.Fprintf(w, "%s  Then:\n", ind)
		fprintNode(w, n.Then, indent+2)
		if n.Else != nil {
			fmt.Fprintf(w, "%s  Else:\n", ind)
			fprintNode(w, n.Else, indent+2)
		}

	case *WhileStmt:
		fmt.Fprintf(w, "%sWhileStmt\n", ind)
		fmt.Fprintf(w, "%s  Cond:\n", ind)
		fprintNode(w, n.Cond, indent+2)
		fmt.Fprintf(w, "%s  Body:\n", ind)
		fprintNode(w, n.Body, indent+2)

	case *BreakStmt:
		fmt.Fprintf(w, "%sBreakStmt\n", ind)

	case *ContinueStmt:
		fmt.Fprintf(w, "%sContinueStmt\n", ind)

	case *VarRef:
		fmt.Fprintf(w, "%sVarRef %s\n", ind, n.Name)

	case *IntLiteral:
		fmt.Fprintf(w, "%sIntLiteral %d\n", ind, n.Value)

	case *StringLiteral:
		fmt.Fprintf(w, "%sStringLiteral %q\n", ind, n.Value)

	case *CallExpr:
		fmt.Fprintf(w, "%sCallExpr name=%s\n", ind, n.Name)
		for _, arg := range n.Args {
			fprintNode(w, arg, indent+1)
		}

	case *BinaryExpr:
		fmt.Fprintf(w, "%sBinaryExpr op=%s\n", ind, n.Op)
		fprintNode(w, n.Left, indent+1)
		fprintNode(w, n.Right, indent+1)

	default:
		fmt.Fprintf(w, "%s<unknown node %T>\n", ind, n)
	}
}
