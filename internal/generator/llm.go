package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mpataki/transmute/internal/completion"
	"github.com/mpataki/transmute/internal/registry"
	"github.com/mpataki/transmute/internal/stage"
)

// LLM generates code with a completion service, steering it with the
// target language's idioms and, on retries, the previous defects.
type LLM struct {
	client   completion.Client
	registry *registry.Registry
}

func NewLLM(client completion.Client, reg *registry.Registry) *LLM {
	return &LLM{client: client, registry: reg}
}

func (g *LLM) Generate(ctx context.Context, req stage.GenerateRequest) (string, error) {
	target, ok := g.registry.Lookup(req.Target)
	if !ok {
		return "", fmt.Errorf("%w: %q", stage.ErrUnsupportedLanguage, req.Target)
	}

	out, err := g.client.Complete(ctx, completion.Request{
		System: fmt.Sprintf("You are an expert %s programmer. Reply with code only, no explanations.", target.Name),
		Prompt: g.buildPrompt(req, target),
	})
	if err != nil {
		if completion.IsTimeout(err) {
			return "", fmt.Errorf("%w: %w", stage.ErrGenerationTimeout, err)
		}
		return "", err
	}
	return completion.StripFences(out), nil
}

func (g *LLM) buildPrompt(req stage.GenerateRequest, target *registry.Language) string {
	ops, _ := json.MarshalIndent(req.Intent.Operations, "", "  ")

	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a complete %s program that does the following.\n\n", target.Name)
	fmt.Fprintf(&sb, "Goal: %s\n\nOperations, in order:\n%s\n", req.Intent.Goal, ops)
	fmt.Fprintf(&sb, "\nThe original program was written in %s. Do not carry over any %s syntax or library names.\n",
		req.Intent.SourceLanguage, req.Intent.SourceLanguage)

	if len(target.Idioms) > 0 {
		sb.WriteString("\nFollow these conventions:\n")
		for _, idiom := range target.Idioms {
			fmt.Fprintf(&sb, "- %s\n", idiom)
		}
	}

	if feedback := BuildFeedback(req.Prior); feedback != "" {
		sb.WriteString("\n---\n")
		sb.WriteString(feedback)
	}
	return sb.String()
}
