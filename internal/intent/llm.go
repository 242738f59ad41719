package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mpataki/transmute/internal/completion"
	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/stage"
)

const intentSchema = `{
  "goal": "one sentence",
  "operations": [
    {"kind": "load|filter|group|aggregate|sort|select|mutate|join|write|print|compute",
     "description": "string",
     "params": {"key": "value"}}
  ]
}`

// LLM asks a completion service to describe the program's intent.
type LLM struct {
	client completion.Client
}

func NewLLM(client completion.Client) *LLM {
	return &LLM{client: client}
}

type llmIntent struct {
	Goal       string `json:"goal"`
	Operations []struct {
		Kind        string         `json:"kind"`
		Description string         `json:"description"`
		Params      map[string]any `json:"params"`
	} `json:"operations"`
}

func (l *LLM) ExtractIntent(ctx context.Context, summary *models.StructuralSummary) (*models.IntentDescription, error) {
	in, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(`Below is the structural summary of a %s program.
Describe what the program does as an ordered list of language-neutral
operations, independent of any library names.

Summary:
%s`, summary.Language, in)

	out, err := l.client.Complete(ctx, completion.Request{
		System:     "You extract program intent. Reply with JSON only.",
		Prompt:     prompt,
		SchemaHint: intentSchema,
	})
	if err != nil {
		return nil, err
	}

	raw, err := completion.ExtractJSON(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stage.ErrAmbiguousStructure, err)
	}
	var resp llmIntent
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("%w: decode intent: %v", stage.ErrAmbiguousStructure, err)
	}
	if len(resp.Operations) == 0 {
		return nil, fmt.Errorf("%w: model found no operations", stage.ErrAmbiguousStructure)
	}

	ops := make([]models.Operation, 0, len(resp.Operations))
	for _, o := range resp.Operations {
		kind := models.OperationKind(strings.ToLower(strings.TrimSpace(o.Kind)))
		if !kind.Valid() {
			kind = models.OpCompute
		}
		params := make(map[string]string, len(o.Params))
		for k, v := range o.Params {
			params[k] = fmt.Sprint(v)
		}
		ops = append(ops, models.Operation{Kind: kind, Description: o.Description, Params: params})
	}
	return Finish(summary.Language, resp.Goal, ops), nil
}

// Chain tries each extractor in turn, moving on only when one reports
// ErrAmbiguousStructure.
type Chain []stage.IntentExtractor

func (c Chain) ExtractIntent(ctx context.Context, summary *models.StructuralSummary) (*models.IntentDescription, error) {
	err := fmt.Errorf("%w: no extractors configured", stage.ErrAmbiguousStructure)
	for _, ex := range c {
		var d *models.IntentDescription
		d, err = ex.ExtractIntent(ctx, summary)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, stage.ErrAmbiguousStructure) {
			return nil, err
		}
	}
	return nil, err
}
