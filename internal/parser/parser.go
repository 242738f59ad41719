// Package parser turns source programs into structural summaries.
package parser

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/registry"
	"github.com/mpataki/transmute/internal/stage"
)

// Dispatcher routes each language to the parser its registry profile names.
type Dispatcher struct {
	registry *registry.Registry
	parsers  map[string]stage.Parser
	logger   *zap.Logger
}

// NewDispatcher wires the built-in parsers. llm may be nil, in which case
// languages configured for the llm parser are unsupported.
func NewDispatcher(reg *registry.Registry, llm stage.Parser, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	parsers := map[string]stage.Parser{
		registry.ParserRHeuristic: NewRParser(),
		registry.ParserTreeSitter: NewTreeSitterParser(),
	}
	if llm != nil {
		parsers[registry.ParserLLM] = llm
	}
	return &Dispatcher{registry: reg, parsers: parsers, logger: logger}
}

func (d *Dispatcher) Parse(ctx context.Context, code, language string) (*models.StructuralSummary, error) {
	lang, ok := d.registry.Lookup(language)
	if !ok || !lang.HasRole(models.RoleSource) {
		return nil, fmt.Errorf("%w: %q", stage.ErrUnsupportedLanguage, language)
	}
	p, ok := d.parsers[lang.Parser]
	if !ok {
		return nil, fmt.Errorf("%w: no %s parser configured for %q", stage.ErrUnsupportedLanguage, lang.Parser, lang.Tag)
	}

	tag := lang.Tag
	if lang.Parser == registry.ParserTreeSitter && lang.Syntax != "" {
		tag = lang.Syntax
	}
	summary, err := p.Parse(ctx, code, tag)
	if err != nil {
		return nil, err
	}
	summary.Language = lang.Tag

	d.logger.Debug("parsed source",
		zap.String("language", lang.Tag),
		zap.String("parser", lang.Parser),
		zap.Int("calls", len(summary.Calls)),
		zap.Int("declarations", len(summary.Declarations)),
		zap.Strings("libraries", summary.Libraries),
	)
	return summary, nil
}
