// Package completion talks to text-generation services. Providers implement
// Client; cross-cutting behaviour (timeouts, rate limiting, retries,
// logging) is layered on with Middleware.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Request is one prompt/response exchange. A non-empty SchemaHint asks the
// provider for a JSON object shaped like the hint.
type Request struct {
	System     string
	Prompt     string
	SchemaHint string
	Timeout    time.Duration
}

type Client interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrTimeout is wrapped by the TransportError returned when a single call
// runs past its Request.Timeout.
var ErrTimeout = errors.New("completion timed out")

// TransportError is a failure reaching the provider or a provider-side
// throttle. It is worth retrying.
type TransportError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error   { return e.Err }
func (e *TransportError) Transient() bool { return true }

// PermanentError is a provider rejection that will not succeed on retry,
// such as bad credentials or an oversized prompt.
type PermanentError struct {
	Provider string
	Err      error
}

func NewPermanentError(provider string, err error) *PermanentError {
	return &PermanentError{Provider: provider, Err: err}
}

func (e *PermanentError) Error() string   { return fmt.Sprintf("%s: %v", e.Provider, e.Err) }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Transient() bool { return false }

// IsTimeout reports whether err is a per-call completion timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// StripFences removes a surrounding markdown code fence, if any.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		// drop the language tag line
		text = text[nl+1:]
	}
	if end := strings.LastIndex(text, "```"); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}

// ExtractJSON returns the outermost JSON object embedded in text.
func ExtractJSON(text string) (string, error) {
	text = StripFences(text)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return text[start : end+1], nil
}
