package parser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mpataki/transmute/internal/completion"
	"github.com/mpataki/transmute/internal/models"
)

const summarySchema = `{
  "declarations": [{"name": "string", "kind": "variable|function|class|import"}],
  "control_flow": ["if|for|while|function|pipe|..."],
  "calls": [{"name": "string", "library": "string", "args": "string", "depth": 0}],
  "libraries": ["string"]
}`

// LLMParser asks a completion service for the structural summary. It covers
// languages with no grammar or heuristic scanner.
type LLMParser struct {
	client completion.Client
}

func NewLLMParser(client completion.Client) *LLMParser {
	return &LLMParser{client: client}
}

func (p *LLMParser) Parse(ctx context.Context, code, language string) (*models.StructuralSummary, error) {
	prompt := fmt.Sprintf(`Analyze this %s program and describe its structure.

List every function or library call in source order. "depth" is the number
of call argument lists the call is nested inside (0 for top-level pipeline
steps). Include the literal argument text.

Code:
%s`, language, code)

	out, err := p.client.Complete(ctx, completion.Request{
		System:     "You are a precise static analyzer. Reply with JSON only.",
		Prompt:     prompt,
		SchemaHint: summarySchema,
	})
	if err != nil {
		return nil, err
	}

	raw, err := completion.ExtractJSON(out)
	if err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	var s models.StructuralSummary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	s.Language = language
	if s.Declarations == nil {
		s.Declarations = []models.Declaration{}
	}
	if s.ControlFlow == nil {
		s.ControlFlow = []string{}
	}
	if s.Calls == nil {
		s.Calls = []models.Call{}
	}
	if s.Libraries == nil {
		s.Libraries = []string{}
	}
	return &s, nil
}
