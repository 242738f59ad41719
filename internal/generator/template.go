package generator

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/stage"
)

// Template renders a pandas program directly from the operation list. It
// needs no network access and is deterministic. On a retry it adds an
// explicit construct for every operation the validator reported missing and
// stops copying source expressions after a syntax error. When the prior
// defects leave nothing to change it fails with ErrAmbiguousStructure rather
// than repeat the rejected program.
type Template struct{}

func NewTemplate() *Template { return &Template{} }

func (t *Template) Generate(ctx context.Context, req stage.GenerateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Target != "python" {
		return "", fmt.Errorf("%w: offline generation only targets python, not %q", stage.ErrUnsupportedLanguage, req.Target)
	}
	if req.Intent == nil || len(req.Intent.Operations) == 0 {
		return "", fmt.Errorf("%w: nothing to generate", stage.ErrAmbiguousStructure)
	}

	fb := readFeedback(req.Prior, req.Intent.Operations)
	lines := []string{"import pandas as pd", ""}
	var groupKeys []string
	loaded := false

	ops := req.Intent.Operations
	for i, op := range ops {
		p := op.Params
		switch op.Kind {
		case models.OpLoad:
			reader := "read_csv"
			switch strings.ToLower(path.Ext(p["path"])) {
			case ".json":
				reader = "read_json"
			case ".xlsx", ".xls":
				reader = "read_excel"
			case ".parquet":
				reader = "read_parquet"
			}
			lines = append(lines, fmt.Sprintf("df = pd.%s(%s)", reader, pyString(or(p["path"], "input.csv"))))
			loaded = true
		case models.OpFilter:
			for _, pred := range strings.Split(p["predicate"], ";") {
				pred = strings.TrimSpace(pred)
				if pred == "" {
					continue
				}
				if strings.Contains(pred, "[") && !fb.plain {
					lines = append(lines, fmt.Sprintf("df = df[%s]", pred))
				} else {
					lines = append(lines, fmt.Sprintf("df = df.query(%s)", pyString(toQuery(pred))))
				}
			}
		case models.OpGroup:
			groupKeys = splitList(p["keys"])
			if i+1 >= len(ops) || ops[i+1].Kind != models.OpAggregate {
				lines = append(lines, fmt.Sprintf("groups = df.groupby(%s)", pyList(groupKeys)))
			}
		case models.OpAggregate:
			lines = append(lines, aggregate(p["expressions"], groupKeys))
			groupKeys = nil
		case models.OpSort:
			keys := identifiers(splitList(p["keys"]))
			if len(keys) == 0 {
				lines = append(lines, "df = df.sort_index()")
				break
			}
			ascending := "True"
			if p["descending"] == "true" {
				ascending = "False"
			}
			lines = append(lines, fmt.Sprintf("df = df.sort_values(%s, ascending=%s)", pyList(keys), ascending))
		case models.OpSelect:
			var keep, drop []string
			for _, c := range splitList(p["columns"]) {
				if strings.HasPrefix(c, "-") {
					drop = append(drop, strings.TrimPrefix(c, "-"))
				} else {
					keep = append(keep, c)
				}
			}
			if len(keep) > 0 {
				lines = append(lines, fmt.Sprintf("df = df[%s]", pyList(keep)))
			}
			if len(drop) > 0 {
				lines = append(lines, fmt.Sprintf("df = df.drop(columns=%s)", pyList(drop)))
			}
		case models.OpMutate:
			for _, e := range assignments(p["expressions"]) {
				lines = append(lines, fmt.Sprintf("df[%s] = df.eval(%s)", pyString(e.name), pyString(e.expr)))
			}
		case models.OpJoin:
			// The last positional argument names the other table.
			var other string
			for _, a := range splitTopLevel(p["with"]) {
				if identifier.MatchString(a) {
					other = a
				}
			}
			line := fmt.Sprintf("df = df.merge(%s", or(other, "other"))
			if m := joinKey.FindStringSubmatch(p["with"]); m != nil {
				line += fmt.Sprintf(", on=%s", pyString(m[1]))
			}
			lines = append(lines, line+")")
		case models.OpWrite:
			writer := "to_csv"
			switch strings.ToLower(path.Ext(p["path"])) {
			case ".json":
				writer = "to_json"
			case ".xlsx":
				writer = "to_excel"
			case ".parquet":
				writer = "to_parquet"
			}
			extra := ", index=False"
			if writer == "to_json" {
				extra = ", orient=\"records\""
			}
			lines = append(lines, fmt.Sprintf("df.%s(%s%s)", writer, pyString(or(p["path"], "output.csv")), extra))
		case models.OpPrint:
			lines = append(lines, "print(df)")
		default:
			if fb.plain {
				lines = append(lines, "result = df")
			} else {
				lines = append(lines, fmt.Sprintf("result = df  # %s", oneLine(op.Description)))
			}
		}
		if fb.missing[op.ID] {
			lines = append(lines, explicitConstruct(op))
		}
	}

	if !loaded {
		lines = append(lines[:2], append([]string{"df = pd.DataFrame()"}, lines[2:]...)...)
	}
	code := strings.Join(lines, "\n") + "\n"
	if req.Prior != nil && code == req.Prior.Code {
		return "", fmt.Errorf("%w: offline generation cannot address %s", stage.ErrAmbiguousStructure, req.Prior.Verdict.Summary())
	}
	return code, nil
}

// templateFeedback is what the template can act on from a failed attempt.
type templateFeedback struct {
	missing map[string]bool
	plain   bool
}

func readFeedback(prior *models.Attempt, ops []models.Operation) templateFeedback {
	fb := templateFeedback{missing: map[string]bool{}}
	if prior == nil {
		return fb
	}
	for _, d := range prior.Verdict.Defects {
		switch d.Kind {
		case models.DefectSyntaxError:
			fb.plain = true
		case models.DefectMissingConstruct:
			for _, op := range ops {
				if op.ID == "" {
					continue
				}
				if regexp.MustCompile(`\b` + regexp.QuoteMeta(op.ID) + `\b`).MatchString(d.Message) {
					fb.missing[op.ID] = true
				}
			}
		}
	}
	return fb
}

// explicitConstruct is the plainest pandas statement for an operation kind.
func explicitConstruct(op models.Operation) string {
	p := op.Params
	switch op.Kind {
	case models.OpLoad:
		return fmt.Sprintf("df = pd.read_csv(%s)", pyString(or(p["path"], "input.csv")))
	case models.OpFilter:
		return "df = df.loc[df.index]"
	case models.OpGroup:
		if keys := splitList(p["keys"]); len(keys) > 0 {
			return fmt.Sprintf("groups = df.groupby(%s)", pyList(keys))
		}
		return "groups = df.groupby(df.columns[0])"
	case models.OpAggregate:
		return `summary = df.agg("sum")`
	case models.OpSort:
		return "df = df.sort_index()"
	case models.OpSelect:
		return "df = df.loc[:, list(df.columns)]"
	case models.OpMutate:
		return "df = df.assign()"
	case models.OpJoin:
		return "df = pd.concat([df])"
	case models.OpWrite:
		return fmt.Sprintf("df.to_csv(%s, index=False)", pyString(or(p["path"], "output.csv")))
	case models.OpPrint:
		return "print(df)"
	default:
		return "result = df"
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var (
	joinKey    = regexp.MustCompile(`(?:by|on)\s*=\s*["']([^"']+)["']`)
	aggCall    = regexp.MustCompile(`^(\w+)\s*=\s*(\w+)\(\s*([\w.]*)\s*\)$`)
	identifier = regexp.MustCompile(`^[A-Za-z_][\w.]*$`)
)

// Summary functions mapped onto pandas aggregation names.
var aggFuncs = map[string]string{
	"sum":        "sum",
	"mean":       "mean",
	"median":     "median",
	"min":        "min",
	"max":        "max",
	"sd":         "std",
	"std":        "std",
	"var":        "var",
	"n":          "size",
	"length":     "size",
	"count":      "count",
	"n_distinct": "nunique",
	"first":      "first",
	"last":       "last",
}

type assignment struct {
	name string
	expr string
}

func assignments(exprs string) []assignment {
	var out []assignment
	for _, part := range splitTopLevel(exprs) {
		name, expr, ok := strings.Cut(part, "=")
		if !ok || strings.HasPrefix(expr, "=") {
			continue
		}
		out = append(out, assignment{name: strings.TrimSpace(name), expr: strings.TrimSpace(expr)})
	}
	return out
}

func aggregate(exprs string, keys []string) string {
	var named []string
	var fallback string
	for _, part := range splitTopLevel(exprs) {
		m := aggCall.FindStringSubmatch(part)
		if m == nil {
			continue
		}
		fn, ok := aggFuncs[m[2]]
		if !ok {
			fn = m[2]
		}
		col := m[3]
		if col != "" && fallback == "" {
			fallback = col
		}
		named = append(named, fmt.Sprintf("%s=(%s, %s)", m[1], pyString(col), pyString(fn)))
	}
	// size() needs some column to count; borrow one from a sibling.
	for i, n := range named {
		if strings.Contains(n, `("", `) {
			col := fallback
			if col == "" && len(keys) > 0 {
				col = keys[0]
			}
			named[i] = strings.Replace(n, `""`, pyString(col), 1)
		}
	}

	if len(named) == 0 {
		if len(keys) > 0 {
			return fmt.Sprintf("df = df.groupby(%s).sum().reset_index()", pyList(keys))
		}
		return "df = df.sum(numeric_only=True)"
	}
	if len(keys) > 0 {
		return fmt.Sprintf("df = df.groupby(%s).agg(%s).reset_index()", pyList(keys), strings.Join(named, ", "))
	}
	return fmt.Sprintf("df = df.agg(%s)", strings.Join(named, ", "))
}

var rToQuery = strings.NewReplacer("&&", "&", "||", "|", "TRUE", "True", "FALSE", "False", "%in%", "in")

func toQuery(pred string) string {
	return rToQuery.Replace(pred)
}

func splitList(s string) []string {
	var out []string
	for _, part := range splitTopLevel(s) {
		if part = strings.Trim(part, `"' `); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func identifiers(in []string) []string {
	var out []string
	for _, s := range in {
		if identifier.MatchString(s) {
			out = append(out, s)
		}
	}
	return out
}

// splitTopLevel splits on commas and semicolons outside brackets.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',', ';':
			if depth == 0 {
				if part := strings.TrimSpace(s[start:i]); part != "" {
					out = append(out, part)
				}
				start = i + 1
			}
		}
	}
	if part := strings.TrimSpace(s[start:]); part != "" {
		out = append(out, part)
	}
	return out
}

func pyString(s string) string {
	return strconv.Quote(s)
}

func pyList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = pyString(it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
