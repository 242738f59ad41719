package objectstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/registry"
)

// Putter stores one object under a run's prefix.
type Putter interface {
	Put(ctx context.Context, runID, path string, content []byte) error
}

// Sink uploads a run's artifacts once it reaches a terminal state, so a
// bucket only ever holds finished runs.
type Sink struct {
	store    Putter
	registry *registry.Registry
}

func NewSink(store Putter, reg *registry.Registry) *Sink {
	return &Sink{store: store, registry: reg}
}

func (s *Sink) Emit(ctx context.Context, ev models.Event) error {
	res, ok := ev.Payload.(*models.ConversionResult)
	if !ok || !ev.State.IsTerminal() {
		return nil
	}

	objects := map[string]any{"result.json": res}
	if res.Summary != nil {
		objects["summary.json"] = res.Summary
	}
	if res.Intent != nil {
		objects["intent.json"] = res.Intent
	}
	for name, v := range objects {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", name, err)
		}
		if err := s.store.Put(ctx, res.RequestID, name, data); err != nil {
			return fmt.Errorf("failed to upload %s: %w", name, err)
		}
	}

	ext := ".txt"
	if s.registry != nil {
		if lang, ok := s.registry.Lookup(res.TargetLanguage); ok && len(lang.Extensions) > 0 {
			ext = lang.Extensions[0]
		}
	}
	for _, a := range res.Attempts {
		name := fmt.Sprintf("attempt-%d%s", a.Number, ext)
		if err := s.store.Put(ctx, res.RequestID, name, []byte(a.Code)); err != nil {
			return fmt.Errorf("failed to upload %s: %w", name, err)
		}
	}
	return nil
}
