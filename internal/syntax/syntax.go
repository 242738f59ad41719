// Package syntax wraps the tree-sitter grammars used both to parse source
// programs and to check generated code.
package syntax

import (
	"context"
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

var grammars = map[string]func() *sitter.Language{
	"python":     python.GetLanguage,
	"javascript": javascript.GetLanguage,
	"typescript": typescript.GetLanguage,
	"go":         golang.GetLanguage,
}

// Grammars returns the registered grammar tags in sorted order.
func Grammars() []string {
	out := make([]string, 0, len(grammars))
	for tag := range grammars {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func Has(tag string) bool {
	_, ok := grammars[tag]
	return ok
}

// Parse returns a syntax tree for content. Callers must Close the tree.
// sitter.Parser is not safe for concurrent use, so each call gets its own.
func Parse(ctx context.Context, tag string, content []byte) (*sitter.Tree, error) {
	lang, ok := grammars[tag]
	if !ok {
		return nil, fmt.Errorf("no grammar for %q", tag)
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang())
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", tag, err)
	}
	return tree, nil
}

// Problem is an ERROR or MISSING node in a parsed tree.
type Problem struct {
	Line    int
	Column  int
	Missing bool
	Text    string
}

func (p Problem) Location() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

func (p Problem) Message() string {
	if p.Missing {
		return fmt.Sprintf("missing %s", p.Text)
	}
	if p.Text == "" {
		return "unexpected input"
	}
	return fmt.Sprintf("unexpected %q", p.Text)
}

const maxProblems = 5

// Check parses content and reports the first few syntax problems.
func Check(ctx context.Context, tag string, content []byte) ([]Problem, error) {
	tree, err := Parse(ctx, tag, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil, nil
	}

	var problems []Problem
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if len(problems) >= maxProblems {
			return
		}
		if n.IsMissing() || n.Type() == "ERROR" {
			start := n.StartPoint()
			text := n.Content(content)
			if n.IsMissing() {
				text = n.Type()
			}
			problems = append(problems, Problem{
				Line:    int(start.Row) + 1,
				Column:  int(start.Column) + 1,
				Missing: n.IsMissing(),
				Text:    truncate(text, 40),
			})
			return
		}
		if !n.HasError() {
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)

	if len(problems) == 0 {
		problems = append(problems, Problem{Line: 1, Column: 1})
	}
	return problems, nil
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
