package parser

import (
	"context"
	"strings"
	"unicode"

	"github.com/mpataki/transmute/internal/models"
)

// RParser is a lexical scanner for R scripts. It recognises calls (with
// their argument text and nesting depth), top-level assignments, control
// flow keywords and library imports. It does not build a full AST.
type RParser struct{}

func NewRParser() *RParser { return &RParser{} }

type rTokKind int

const (
	rIdent rTokKind = iota
	rString
	rNumber
	rOp
	rOpen
	rClose
	rNewline
)

type rToken struct {
	kind  rTokKind
	text  string
	start int
	end   int
	pos   models.Position
}

var rKeywords = map[string]bool{
	"if": true, "else": true, "for": true, "while": true, "repeat": true,
	"function": true, "return": true, "next": true, "break": true,
	"TRUE": true, "FALSE": true, "NULL": true, "NA": true, "Inf": true,
	"NaN": true, "in": true, "switch": true,
}

var rControl = map[string]string{
	"if": "if", "for": "for", "while": "while", "repeat": "repeat",
	"function": "function", "switch": "switch",
}

func (p *RParser) Parse(ctx context.Context, code, language string) (*models.StructuralSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	toks := lexR(code)

	s := &models.StructuralSummary{
		Language:     language,
		Declarations: []models.Declaration{},
		ControlFlow:  []string{},
		Calls:        []models.Call{},
		Libraries:    []string{},
	}
	seenFlow := map[string]bool{}
	addFlow := func(f string) {
		if !seenFlow[f] {
			seenFlow[f] = true
			s.ControlFlow = append(s.ControlFlow, f)
		}
	}
	seenLib := map[string]bool{}
	addLib := func(l string) {
		if l != "" && !seenLib[l] {
			seenLib[l] = true
			s.Libraries = append(s.Libraries, l)
		}
	}

	// open brackets enclosing the current token
	var stack []string
	parenDepth := func() int {
		n := 0
		for _, b := range stack {
			if b == "(" {
				n++
			}
		}
		return n
	}
	statementStart := true

	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		switch tok.kind {
		case rNewline:
			if len(stack) == 0 {
				statementStart = true
			}
			continue
		case rOpen:
			stack = append(stack, tok.text)
		case rClose:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case rOp:
			switch tok.text {
			case "%>%", "|>":
				addFlow("pipe")
			case ";":
				if len(stack) == 0 {
					statementStart = true
					continue
				}
			}
		case rIdent:
			next := peek(toks, i+1)
			if flow, ok := rControl[tok.text]; ok {
				addFlow(flow)
				break
			}
			if rKeywords[tok.text] {
				break
			}
			if next != nil && next.kind == rOpen && next.text == "(" {
				closeIdx := matchClose(toks, i+1)
				args := ""
				if closeIdx > i+1 {
					args = squash(code[next.end:toks[closeIdx].start])
				}
				call := models.Call{
					Name:  tok.text,
					Args:  args,
					Depth: parenDepth(),
					Pos:   tok.pos,
				}
				if pkg, name, ok := strings.Cut(tok.text, "::"); ok {
					call.Library = pkg
					call.Name = strings.TrimPrefix(name, ":")
					addLib(pkg)
				}
				if call.Name == "library" || call.Name == "require" || call.Name == "requireNamespace" {
					addLib(firstArg(args))
				}
				s.Calls = append(s.Calls, call)
				break
			}
			if statementStart && len(stack) == 0 && next != nil && next.kind == rOp && (next.text == "<-" || next.text == "=" || next.text == "<<-") {
				kind := "variable"
				if after := peek(toks, i+2); after != nil && after.kind == rIdent && after.text == "function" {
					kind = "function"
				}
				s.Declarations = append(s.Declarations, models.Declaration{Name: tok.text, Kind: kind, Pos: tok.pos})
			}
		}
		statementStart = false
	}

	return s, nil
}

func peek(toks []rToken, i int) *rToken {
	if i < len(toks) {
		return &toks[i]
	}
	return nil
}

// matchClose returns the index of the bracket closing toks[open], or the
// last token index when the input is unbalanced.
func matchClose(toks []rToken, open int) int {
	depth := 0
	for j := open; j < len(toks); j++ {
		switch toks[j].kind {
		case rOpen:
			depth++
		case rClose:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return len(toks) - 1
}

func lexR(src string) []rToken {
	var toks []rToken
	line, col := 1, 1
	i := 0
	advance := func(n int) {
		for k := 0; k < n && i < len(src); k++ {
			if src[i] == '\n' {
				line++
				col = 1
			} else {
				col++
			}
			i++
		}
	}

	for i < len(src) {
		c := src[i]
		start := i
		pos := models.Position{Line: line, Column: col}
		emit := func(kind rTokKind) {
			toks = append(toks, rToken{kind: kind, text: src[start:i], start: start, end: i, pos: pos})
		}

		switch {
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				advance(1)
			}
		case c == '\n':
			advance(1)
			emit(rNewline)
		case c == ' ' || c == '\t' || c == '\r':
			advance(1)
		case c == '"' || c == '\'':
			advance(1)
			for i < len(src) && src[i] != c {
				if src[i] == '\\' {
					advance(1)
				}
				advance(1)
			}
			advance(1)
			emit(rString)
		case c == '`':
			advance(1)
			for i < len(src) && src[i] != '`' {
				advance(1)
			}
			advance(1)
			toks = append(toks, rToken{kind: rIdent, text: strings.Trim(src[start:i], "`"), start: start, end: i, pos: pos})
		case isRIdentStart(c):
			for i < len(src) && isRIdentPart(src[i]) {
				advance(1)
			}
			// pkg::name and pkg:::name
			if strings.HasPrefix(src[i:], "::") {
				advance(2)
				if i < len(src) && src[i] == ':' {
					advance(1)
				}
				for i < len(src) && isRIdentPart(src[i]) {
					advance(1)
				}
			}
			emit(rIdent)
		case c >= '0' && c <= '9':
			for i < len(src) && (isRIdentPart(src[i])) {
				advance(1)
			}
			emit(rNumber)
		case c == '(' || c == '[' || c == '{':
			advance(1)
			emit(rOpen)
		case c == ')' || c == ']' || c == '}':
			advance(1)
			emit(rClose)
		case c == '%':
			advance(1)
			for i < len(src) && src[i] != '%' && src[i] != '\n' {
				advance(1)
			}
			advance(1)
			emit(rOp)
		default:
			advance(opLen(src[i:]))
			emit(rOp)
		}
	}
	return toks
}

var rOps = []string{"<<-", "->>", "<-", "->", "|>", "==", "!=", "<=", ">=", "&&", "||"}

func opLen(s string) int {
	for _, op := range rOps {
		if strings.HasPrefix(s, op) {
			return len(op)
		}
	}
	return 1
}

func isRIdentStart(c byte) bool {
	return c == '.' || c == '_' || unicode.IsLetter(rune(c)) || c >= 0x80
}

func isRIdentPart(c byte) bool {
	return isRIdentStart(c) || (c >= '0' && c <= '9')
}

// squash collapses runs of whitespace and drops comments.
func squash(s string) string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if idx := commentIndex(l); idx >= 0 {
			l = l[:idx]
		}
		lines = append(lines, l)
	}
	return strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
}

// commentIndex finds a '#' outside string literals.
func commentIndex(line string) int {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '#':
			return i
		}
	}
	return -1
}

func firstArg(args string) string {
	first, _, _ := strings.Cut(args, ",")
	return strings.Trim(strings.TrimSpace(first), `"'`)
}
