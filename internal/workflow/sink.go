package workflow

import (
	"context"
	"errors"
	"sync"

	"github.com/mpataki/transmute/internal/models"
)

// EventSink receives every state entry of every request. Emit is called
// synchronously from the request's goroutine; implementations shared
// between engines must be safe for concurrent use. A sink error is logged
// and never changes the outcome of a conversion.
type EventSink interface {
	Emit(ctx context.Context, ev models.Event) error
}

type SinkFunc func(ctx context.Context, ev models.Event) error

func (f SinkFunc) Emit(ctx context.Context, ev models.Event) error { return f(ctx, ev) }

// MultiSink fans an event out to every sink, in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, ev models.Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *Recorder) Emit(_ context.Context, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

// States returns the states entered by one request, in order.
func (r *Recorder) States(requestID string) []models.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.State
	for _, ev := range r.events {
		if ev.RequestID == requestID {
			out = append(out, ev.State)
		}
	}
	return out
}
