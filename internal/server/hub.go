package server

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mpataki/transmute/internal/models"
)

const defaultHubSize = 256

// Hub is an event sink that keeps the recent history of each run and fans
// new events out to live subscribers.
type Hub struct {
	mu   sync.Mutex
	runs *lru.Cache[string, *history]
}

type history struct {
	events []models.Event
	done   bool
	subs   map[chan models.Event]struct{}
}

// NewHub keeps the histories of at most size runs. Evicted runs are still
// served from the store.
func NewHub(size int) (*Hub, error) {
	if size <= 0 {
		size = defaultHubSize
	}
	h := &Hub{}
	runs, err := lru.NewWithEvict[string, *history](size, func(_ string, hist *history) {
		hist.close()
	})
	if err != nil {
		return nil, err
	}
	h.runs = runs
	return h, nil
}

// Track registers a run before its first event so that subscribers
// arriving early wait for it instead of finding nothing.
func (h *Hub) Track(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.get(runID)
}

func (h *Hub) Emit(_ context.Context, ev models.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	hist := h.get(ev.RequestID)
	if hist.done {
		return nil
	}
	hist.events = append(hist.events, ev)
	for ch := range hist.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; it can replay from the store.
			delete(hist.subs, ch)
			close(ch)
		}
	}
	if ev.State.IsTerminal() {
		hist.close()
	}
	return nil
}

// Subscribe returns the events seen so far and a channel of later ones. The
// channel is closed after the terminal event or when unsubscribe is called.
// ok is false when the hub has no record of the run.
func (h *Hub) Subscribe(runID string) (past []models.Event, live <-chan models.Event, unsubscribe func(), ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hist, found := h.runs.Get(runID)
	if !found {
		return nil, nil, func() {}, false
	}
	past = append([]models.Event(nil), hist.events...)

	ch := make(chan models.Event, 64)
	if hist.done {
		close(ch)
		return past, ch, func() {}, true
	}
	hist.subs[ch] = struct{}{}

	var once sync.Once
	unsubscribe = func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := hist.subs[ch]; ok {
				delete(hist.subs, ch)
				close(ch)
			}
		})
	}
	return past, ch, unsubscribe, true
}

// Active counts runs that have not reached a terminal state.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, id := range h.runs.Keys() {
		if hist, ok := h.runs.Peek(id); ok && !hist.done {
			n++
		}
	}
	return n
}

func (h *Hub) get(runID string) *history {
	hist, ok := h.runs.Get(runID)
	if !ok {
		hist = &history{subs: map[chan models.Event]struct{}{}}
		h.runs.Add(runID, hist)
	}
	return hist
}

func (hist *history) close() {
	hist.done = true
	for ch := range hist.subs {
		delete(hist.subs, ch)
		close(ch)
	}
}
