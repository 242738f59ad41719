package parser

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/stage"
	"github.com/mpataki/transmute/internal/syntax"
)

// SubscriptFilter is the pseudo-call recorded for boolean indexing such as
// df[df["age"] > 18].
const SubscriptFilter = "subscript_filter"

// grammarShape names the node types and fields the walker needs for one
// tree-sitter grammar.
type grammarShape struct {
	call           string
	member         string
	memberObject   string
	memberProperty string
	subscript      string
	subscriptValue string
	comparisons    map[string]bool
	imports        map[string]bool
	wrappers       map[string]bool
	decls          map[string]string
	control        map[string]string
}

var shapes = map[string]*grammarShape{
	"python": {
		call:           "call",
		member:         "attribute",
		memberObject:   "object",
		memberProperty: "attribute",
		subscript:      "subscript",
		subscriptValue: "value",
		comparisons:    map[string]bool{"comparison_operator": true, "boolean_operator": true, "not_operator": true},
		imports:        map[string]bool{"import_statement": true, "import_from_statement": true},
		wrappers:       map[string]bool{"expression_statement": true, "decorated_definition": true},
		decls: map[string]string{
			"function_definition": "function",
			"class_definition":    "class",
			"assignment":          "variable",
		},
		control: map[string]string{
			"if_statement": "if", "for_statement": "for", "while_statement": "while",
			"try_statement": "try", "with_statement": "with", "list_comprehension": "comprehension",
			"dictionary_comprehension": "comprehension", "lambda": "lambda",
		},
	},
	"javascript": {
		call:           "call_expression",
		member:         "member_expression",
		memberObject:   "object",
		memberProperty: "property",
		subscript:      "subscript_expression",
		subscriptValue: "object",
		imports:        map[string]bool{"import_statement": true},
		wrappers: map[string]bool{
			"expression_statement": true, "lexical_declaration": true,
			"variable_declaration": true, "export_statement": true,
		},
		decls: map[string]string{
			"function_declaration": "function",
			"class_declaration":    "class",
			"variable_declarator":  "variable",
		},
		control: map[string]string{
			"if_statement": "if", "for_statement": "for", "for_in_statement": "for",
			"while_statement": "while", "try_statement": "try", "switch_statement": "switch",
			"arrow_function": "lambda",
		},
	},
	"go": {
		call:           "call_expression",
		member:         "selector_expression",
		memberObject:   "operand",
		memberProperty: "field",
		subscript:      "index_expression",
		subscriptValue: "operand",
		imports:        map[string]bool{"import_spec": true},
		wrappers: map[string]bool{
			"var_declaration": true, "const_declaration": true, "type_declaration": true,
			"import_declaration": true, "import_spec_list": true,
		},
		decls: map[string]string{
			"function_declaration": "function",
			"method_declaration":   "method",
			"type_spec":            "type",
			"var_spec":             "variable",
			"const_spec":           "constant",
		},
		control: map[string]string{
			"if_statement": "if", "for_statement": "for", "expression_switch_statement": "switch",
			"type_switch_statement": "switch", "select_statement": "select",
			"go_statement": "goroutine", "defer_statement": "defer", "func_literal": "lambda",
		},
	},
}

// TreeSitterParser builds summaries from tree-sitter syntax trees.
type TreeSitterParser struct{}

func NewTreeSitterParser() *TreeSitterParser { return &TreeSitterParser{} }

// Supports reports whether grammar tag has a walker shape.
func (p *TreeSitterParser) Supports(tag string) bool {
	_, ok := shapes[tag]
	return ok && syntax.Has(tag)
}

func (p *TreeSitterParser) Parse(ctx context.Context, code, language string) (*models.StructuralSummary, error) {
	shape, ok := shapes[language]
	if !ok {
		return nil, fmt.Errorf("%w: no tree-sitter walker for %q", stage.ErrUnsupportedLanguage, language)
	}
	content := []byte(code)
	tree, err := syntax.Parse(ctx, language, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	w := &walker{
		shape:   shape,
		content: content,
		summary: &models.StructuralSummary{
			Language:     language,
			Declarations: []models.Declaration{},
			ControlFlow:  []string{},
			Calls:        []models.Call{},
			Libraries:    []string{},
		},
		seenFlow: map[string]bool{},
		seenLib:  map[string]bool{},
	}
	root := tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		w.walk(root.NamedChild(i), 0, true)
	}

	sort.SliceStable(w.summary.Calls, func(i, j int) bool {
		a, b := w.summary.Calls[i].Pos, w.summary.Calls[j].Pos
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	return w.summary, nil
}

type walker struct {
	shape    *grammarShape
	content  []byte
	summary  *models.StructuralSummary
	seenFlow map[string]bool
	seenLib  map[string]bool
}

func (w *walker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(w.content)
}

func (w *walker) addLib(lib string) {
	lib = strings.Trim(strings.TrimSpace(lib), "\"'`")
	if lib != "" && !w.seenLib[lib] {
		w.seenLib[lib] = true
		w.summary.Libraries = append(w.summary.Libraries, lib)
	}
}

func position(n *sitter.Node) models.Position {
	p := n.StartPoint()
	return models.Position{Line: int(p.Row) + 1, Column: int(p.Column) + 1}
}

func (w *walker) walk(n *sitter.Node, depth int, topLevel bool) {
	if n == nil {
		return
	}
	typ := n.Type()

	if flow, ok := w.shape.control[typ]; ok && !w.seenFlow[flow] {
		w.seenFlow[flow] = true
		w.summary.ControlFlow = append(w.summary.ControlFlow, flow)
	}

	if w.shape.imports[typ] {
		w.recordImport(n)
	}

	if kind, ok := w.shape.decls[typ]; ok && topLevel {
		w.recordDecl(n, kind)
	}

	switch typ {
	case w.shape.call:
		w.recordCall(n, depth)
		w.walk(n.ChildByFieldName("function"), depth, false)
		w.walk(n.ChildByFieldName("arguments"), depth+1, false)
		return
	case w.shape.subscript:
		w.recordSubscript(n, depth)
	}

	childTop := topLevel && w.shape.wrappers[typ]
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.walk(n.NamedChild(i), depth, childTop)
	}
}

func (w *walker) recordImport(n *sitter.Node) {
	switch n.Type() {
	case "import_from_statement":
		w.addLib(w.text(n.ChildByFieldName("module_name")))
	case "import_statement":
		if src := n.ChildByFieldName("source"); src != nil {
			w.addLib(w.text(src))
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			switch c.Type() {
			case "dotted_name":
				w.addLib(w.text(c))
			case "aliased_import":
				w.addLib(w.text(c.ChildByFieldName("name")))
			}
		}
	case "import_spec":
		w.addLib(w.text(n.ChildByFieldName("path")))
	}
}

func (w *walker) recordDecl(n *sitter.Node, kind string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		nameNode = n.ChildByFieldName("left")
	}
	if nameNode == nil {
		return
	}
	w.summary.Declarations = append(w.summary.Declarations, models.Declaration{
		Name: w.text(nameNode),
		Kind: kind,
		Pos:  position(nameNode),
	})
}

func (w *walker) recordCall(n *sitter.Node, depth int) {
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return
	}
	call := models.Call{Depth: depth, Pos: position(fn)}
	switch fn.Type() {
	case w.shape.member:
		prop := fn.ChildByFieldName(w.shape.memberProperty)
		call.Name = w.text(prop)
		call.Library = w.rootIdent(fn.ChildByFieldName(w.shape.memberObject))
		if prop != nil {
			call.Pos = position(prop)
		}
	default:
		call.Name = truncate(strings.Join(strings.Fields(w.text(fn)), " "), 60)
	}

	if args := n.ChildByFieldName("arguments"); args != nil {
		raw := w.text(args)
		raw = strings.TrimPrefix(raw, "(")
		raw = strings.TrimSuffix(raw, ")")
		call.Args = truncate(squash(raw), 240)
	}

	if call.Name == "require" && call.Library == "" {
		w.addLib(firstArg(call.Args))
	}
	w.summary.Calls = append(w.summary.Calls, call)
}

// recordSubscript turns boolean indexing into a filter pseudo-call.
func (w *walker) recordSubscript(n *sitter.Node, depth int) {
	if len(w.shape.comparisons) == 0 {
		return
	}
	value := n.ChildByFieldName(w.shape.subscriptValue)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if value != nil && c.StartByte() == value.StartByte() && c.EndByte() == value.EndByte() {
			continue
		}
		if w.shape.comparisons[c.Type()] {
			w.summary.Calls = append(w.summary.Calls, models.Call{
				Name:    SubscriptFilter,
				Library: w.rootIdent(value),
				Args:    truncate(squash(w.text(c)), 240),
				Depth:   depth,
				Pos:     position(c),
			})
			return
		}
	}
}

// rootIdent follows member, call and index chains down to the leftmost
// identifier, e.g. "pd" for pd.read_csv or "df" for df[x].groupby(y).
func (w *walker) rootIdent(n *sitter.Node) string {
	for n != nil {
		switch n.Type() {
		case "identifier", "package_identifier":
			return w.text(n)
		case w.shape.member:
			n = n.ChildByFieldName(w.shape.memberObject)
		case w.shape.call:
			n = n.ChildByFieldName("function")
		case w.shape.subscript:
			n = n.ChildByFieldName(w.shape.subscriptValue)
		case "parenthesized_expression":
			n = n.NamedChild(0)
		default:
			return ""
		}
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
