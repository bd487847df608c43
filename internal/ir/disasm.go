package ir

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Disassemble returns a human-readable listing of the whole program.
func (p *Program) Disassemble() string {
	return p.DisassembleWithName("")
}

// DisassembleWithName returns a listing with a name header.
func (p *Program) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; %d instructions, %d functions, entry %04d\n", len(p.Code), len(p.Functions), p.Entry))

	// Functions by entry point, so labels read top to bottom
	labels := make(map[int]string, len(p.Functions))
	names := make([]string, 0, len(p.Functions))
	for fnName, fn := range p.Functions {
		labels[fn.Entry] = fnName
		names = append(names, fnName)
	}
	sort.Slice(names, func(i, j int) bool {
		return p.Functions[names[i]].Entry < p.Functions[names[j]].Entry
	})
	if len(names) > 0 {
		sb.WriteString("; Functions:\n")
		for _, fnName := range names {
			fn := p.Functions[fnName]
			sb.WriteString(fmt.Sprintf(";   %-16s entry=%04d arity=%d\n", fnName, fn.Entry, fn.Arity))
		}
	}

	// Code section
	sb.WriteString("\n; Code:\n")
	for pc, in := range p.Code {
		if label, ok := labels[pc]; ok {
			sb.WriteString(fmt.Sprintf("%s:\n", label))
		}
		if pc == p.Entry {
			sb.WriteString("<entry>:\n")
		}
		line := in.String()
		if in.Op == OpPushString {
			line = fmt.Sprintf("%s %q", in.Op, truncate(in.Str))
		}
		sb.WriteString(fmt.Sprintf("%04d  %s\n", pc, line))
	}

	return sb.String()
}

// Truncate long strings for readability, counting runes so multi-byte
// characters are never split.
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= 40 {
		return s
	}
	r := []rune(s)
	return string(r[:37]) + "..."
}
