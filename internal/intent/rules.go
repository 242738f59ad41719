// Package intent maps structural summaries onto language-neutral
// operation sequences.
package intent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/stage"
)

// Rules is a deterministic extractor driven by a call-name vocabulary.
type Rules struct{}

func NewRules() *Rules { return &Rules{} }

func (r *Rules) ExtractIntent(ctx context.Context, summary *models.StructuralSummary) (*models.IntentDescription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, fmt.Errorf("%w: empty summary", stage.ErrAmbiguousStructure)
	}

	var ops []models.Operation
	for _, c := range evaluationOrder(summary.Calls) {
		kind, ok := lookup(c)
		if !ok {
			continue
		}
		params := paramsFor(kind, c)
		if n := len(ops); n > 0 && ops[n-1].Kind == kind {
			ops[n-1] = merge(ops[n-1], params)
			continue
		}
		ops = append(ops, models.Operation{Kind: kind, Params: params})
	}

	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: none of %d calls map to a known operation", stage.ErrAmbiguousStructure, len(summary.Calls))
	}
	return Finish(summary.Language, "", ops), nil
}

// Finish assigns ids, dependencies and descriptions, and derives the goal
// when it is empty.
func Finish(language, goal string, ops []models.Operation) *models.IntentDescription {
	nouns := make([]string, 0, len(ops))
	for i := range ops {
		ops[i].ID = fmt.Sprintf("op%d", i+1)
		ops[i].DependsOn = nil
		if i > 0 {
			ops[i].DependsOn = []string{ops[i-1].ID}
		}
		if ops[i].Description == "" {
			ops[i].Description = describe(ops[i])
		}
		nouns = append(nouns, ops[i].Kind.Noun())
	}
	if goal == "" {
		goal = fmt.Sprintf("Reproduce a %s program that performs %s", language, strings.Join(nouns, ", "))
	}
	return &models.IntentDescription{SourceLanguage: language, Goal: goal, Operations: ops}
}

// evaluationOrder emits nested calls before the call that encloses them.
// Calls must be in source order.
func evaluationOrder(calls []models.Call) []models.Call {
	out := make([]models.Call, 0, len(calls))
	var stack []models.Call
	for _, c := range calls {
		for len(stack) > 0 && stack[len(stack)-1].Depth >= c.Depth {
			out = append(out, stack[len(stack)-1])
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, c)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out = append(out, stack[i])
	}
	return out
}

func merge(op models.Operation, params map[string]string) models.Operation {
	if op.Params == nil {
		op.Params = map[string]string{}
	}
	for k, v := range params {
		if old, ok := op.Params[k]; ok && old != "" && old != v {
			op.Params[k] = old + "; " + v
		} else {
			op.Params[k] = v
		}
	}
	return op
}

var quoted = regexp.MustCompile(`"([^"]*)"|'([^']*)'`)

func firstString(args string) string {
	m := quoted.FindStringSubmatch(args)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// splitArgs splits on commas outside brackets and quotes.
func splitArgs(args string) []string {
	var out []string
	depth := 0
	var quote rune
	start := 0
	for i, r := range args {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[' || r == '{':
			depth++
		case r == ')' || r == ']' || r == '}':
			depth--
		case r == ',' && depth == 0:
			out = append(out, strings.TrimSpace(args[start:i]))
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(args[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// kwarg splits "name = value"; it ignores comparison operators.
func kwarg(arg string) (string, string, bool) {
	idx := strings.Index(arg, "=")
	if idx <= 0 || idx+1 >= len(arg) || arg[idx+1] == '=' || strings.ContainsAny(arg[idx-1:idx], "!<>=") {
		return "", "", false
	}
	name := strings.TrimSpace(arg[:idx])
	if strings.ContainsAny(name, " ()[]\"'") {
		return "", "", false
	}
	return name, strings.TrimSpace(arg[idx+1:]), true
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "[]")
	return strings.Trim(strings.TrimSpace(s), `"'`)
}

var descWrap = regexp.MustCompile(`^desc\((.*)\)$`)

func paramsFor(kind models.OperationKind, c models.Call) map[string]string {
	p := map[string]string{"call": c.Name}
	args := splitArgs(c.Args)

	switch kind {
	case models.OpLoad:
		p["path"] = firstString(c.Args)
	case models.OpWrite:
		p["path"] = firstString(c.Args)
		if len(args) > 0 && !quoted.MatchString(args[0]) {
			if _, _, isKw := kwarg(args[0]); !isKw {
				p["source"] = args[0]
			}
		}
	case models.OpFilter:
		pred := c.Args
		if c.Name == "query" {
			pred = firstString(c.Args)
		}
		p["predicate"] = pred
	case models.OpGroup:
		var keys []string
		for _, a := range args {
			if name, v, ok := kwarg(a); ok {
				if name != "by" {
					continue
				}
				a = v
			}
			for _, k := range splitArgs(strings.Trim(a, "[]")) {
				keys = append(keys, cleanName(k))
			}
		}
		p["keys"] = strings.Join(keys, ", ")
	case models.OpSort:
		var keys []string
		desc := false
		for _, a := range args {
			if name, v, ok := kwarg(a); ok {
				switch name {
				case "ascending":
					desc = strings.EqualFold(v, "False")
					continue
				case "decreasing", "reverse":
					desc = strings.EqualFold(v, "TRUE") || strings.EqualFold(v, "True")
					continue
				case "by":
					a = v
				default:
					continue
				}
			}
			if m := descWrap.FindStringSubmatch(a); m != nil {
				desc = true
				a = m[1]
			} else if strings.HasPrefix(a, "-") {
				desc = true
				a = a[1:]
			}
			keys = append(keys, cleanName(a))
		}
		p["keys"] = strings.Join(keys, ", ")
		p["descending"] = fmt.Sprintf("%t", desc)
	case models.OpAggregate:
		p["expressions"] = c.Args
	case models.OpSelect:
		p["columns"] = c.Args
	case models.OpMutate:
		p["expressions"] = c.Args
	case models.OpJoin:
		p["with"] = c.Args
	case models.OpPrint:
		p["target"] = c.Args
	default:
		p["expression"] = c.Args
	}
	return p
}

func describe(op models.Operation) string {
	p := op.Params
	or := func(v, fallback string) string {
		if strings.TrimSpace(v) == "" {
			return fallback
		}
		return v
	}
	switch op.Kind {
	case models.OpLoad:
		return "Load data from " + or(p["path"], "the input source")
	case models.OpFilter:
		return "Keep rows where " + or(p["predicate"], "the condition holds")
	case models.OpGroup:
		return "Group rows by " + or(p["keys"], "the grouping keys")
	case models.OpAggregate:
		return "Aggregate each group: " + or(p["expressions"], "summary statistics")
	case models.OpSort:
		dir := "ascending"
		if p["descending"] == "true" {
			dir = "descending"
		}
		return fmt.Sprintf("Sort by %s (%s)", or(p["keys"], "the sort keys"), dir)
	case models.OpSelect:
		return "Select columns " + or(p["columns"], "of interest")
	case models.OpMutate:
		return "Derive columns " + or(p["expressions"], "from existing ones")
	case models.OpJoin:
		return "Join with " + or(p["with"], "another dataset")
	case models.OpWrite:
		return "Write the result to " + or(p["path"], "the output")
	case models.OpPrint:
		return "Print " + or(p["target"], "the result")
	default:
		return "Compute " + or(p["expression"], "an intermediate value")
	}
}
