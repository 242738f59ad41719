package completion

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Reply is one canned response from a Scripted client.
type Reply struct {
	Text  string
	Err   error
	Delay time.Duration
}

// Scripted is a deterministic Client that plays back replies in order. Once
// the queue is drained it answers with Fallback, or fails permanently when
// Fallback is nil.
type Scripted struct {
	Fallback func(req Request) (string, error)

	mu      sync.Mutex
	replies []Reply
	calls   []Request
}

func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) Complete(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	var reply *Reply
	if len(s.replies) > 0 {
		r := s.replies[0]
		s.replies = s.replies[1:]
		reply = &r
	}
	fallback := s.Fallback
	s.mu.Unlock()

	if reply == nil {
		if fallback != nil {
			return fallback(req)
		}
		return "", NewPermanentError(s.Name(), fmt.Errorf("no scripted reply for call %d", len(s.Calls())))
	}
	if reply.Delay > 0 {
		t := time.NewTimer(reply.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	return reply.Text, reply.Err
}

// Push appends replies to the queue.
func (s *Scripted) Push(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// Calls returns a copy of every request seen so far.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}
