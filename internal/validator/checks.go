package validator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mpataki/transmute/internal/lua"
	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/syntax"
)

// SyntaxCheck parses the candidate with the target's grammar.
type SyntaxCheck struct{}

func (SyntaxCheck) Name() string { return "syntax" }

func (SyntaxCheck) Run(ctx context.Context, c Candidate) ([]models.Defect, error) {
	if !syntax.Has(c.Target.Syntax) {
		return []models.Defect{{
			Kind:    models.DefectSyntaxError,
			Message: fmt.Sprintf("no syntax checker registered for %s", c.Target.Name),
		}}, nil
	}
	problems, err := syntax.Check(ctx, c.Target.Syntax, []byte(c.Code))
	if err != nil {
		return nil, err
	}
	defects := make([]models.Defect, 0, len(problems))
	for _, p := range problems {
		defects = append(defects, models.Defect{
			Kind:     models.DefectSyntaxError,
			Message:  p.Message(),
			Location: p.Location(),
		})
	}
	return defects, nil
}

// CoverageCheck requires evidence of every operation in the intent. Each
// operation of a kind needs its own construct, so two filters need two
// matches; operations beyond the number of matches are reported.
type CoverageCheck struct{}

func (CoverageCheck) Name() string { return "coverage" }

func (CoverageCheck) Run(ctx context.Context, c Candidate) ([]models.Defect, error) {
	code := stripComments(c.Code, c.Target.LineComment)

	var defects []models.Defect
	evidence := map[models.OperationKind]int{}
	used := map[models.OperationKind]int{}
	for _, op := range c.Intent.Operations {
		if _, ok := evidence[op.Kind]; !ok {
			evidence[op.Kind] = countConstructs(code, c.Target.Constructs(op.Kind))
		}
		used[op.Kind]++
		if used[op.Kind] > evidence[op.Kind] {
			defects = append(defects, models.Defect{
				Kind:    models.DefectMissingConstruct,
				Message: fmt.Sprintf("no %s found for %s (%s)", op.Kind.Noun(), op.ID, op.Description),
			})
		}
	}
	return defects, nil
}

// countConstructs counts distinct match positions across patterns.
func countConstructs(code string, patterns []*regexp.Regexp) int {
	starts := map[int]bool{}
	for _, re := range patterns {
		for _, loc := range re.FindAllStringIndex(code, -1) {
			starts[loc[0]] = true
		}
	}
	return len(starts)
}

// LeakageCheck rejects constructs that only make sense in the source
// language.
type LeakageCheck struct{}

func (LeakageCheck) Name() string { return "leakage" }

func (LeakageCheck) Run(ctx context.Context, c Candidate) ([]models.Defect, error) {
	if c.Source == nil || c.Source.Tag == c.Target.Tag {
		return nil, nil
	}
	code := stripComments(c.Code, c.Target.LineComment)

	var defects []models.Defect
	for _, re := range c.Source.SourceOnly() {
		loc := re.FindStringIndex(code)
		if loc == nil {
			continue
		}
		defects = append(defects, models.Defect{
			Kind:     models.DefectSemanticMismatch,
			Message:  fmt.Sprintf("%s construct %q carried into %s", c.Source.Name, strings.TrimSpace(code[loc[0]:loc[1]]), c.Target.Name),
			Location: position(code, loc[0]),
		})
	}
	return defects, nil
}

// RuleCheck runs the target profile's Lua rules, if it has any.
type RuleCheck struct {
	runtime *lua.Runtime
}

func NewRuleCheck(rt *lua.Runtime) *RuleCheck {
	return &RuleCheck{runtime: rt}
}

func (*RuleCheck) Name() string { return "rules" }

func (r *RuleCheck) Run(ctx context.Context, c Candidate) ([]models.Defect, error) {
	if strings.TrimSpace(c.Target.Rules) == "" {
		return nil, nil
	}
	return r.runtime.Check(ctx, c.Target.Rules, lua.Candidate{
		Code:   c.Code,
		Target: c.Target.Tag,
		Goal:   c.Intent.Goal,
		Kinds:  c.Intent.Kinds(),
	})
}

// stripComments blanks whole-line comments so commented-out code does not
// count as evidence. Line numbers are preserved.
func stripComments(code, marker string) string {
	if marker == "" {
		return code
	}
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), marker) {
			lines[i] = ""
		}
	}
	return strings.Join(lines, "\n")
}

// position converts a byte offset into a 1-based line:column.
func position(code string, offset int) string {
	line := strings.Count(code[:offset], "\n") + 1
	col := offset - strings.LastIndexByte(code[:offset], '\n')
	return fmt.Sprintf("%d:%d", line, col)
}
