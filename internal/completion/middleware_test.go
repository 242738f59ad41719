package completion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mpataki/transmute/internal/stage"
)

func TestWrapOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Client) Client {
			return clientFunc{name: next.Name(), fn: func(ctx context.Context, req Request) (string, error) {
				order = append(order, name)
				return next.Complete(ctx, req)
			}}
		}
	}
	c := Wrap(NewScripted(Reply{Text: "ok"}), tag("a"), tag("b"))
	out, err := c.Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestWithTimeoutReportsTimeout(t *testing.T) {
	s := NewScripted(Reply{Text: "late", Delay: time.Second})
	c := Wrap(s, WithTimeout(10*time.Millisecond))

	_, err := c.Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.True(t, stage.IsTransient(err))
}

func TestWithTimeoutPassesCancellationThrough(t *testing.T) {
	s := NewScripted(Reply{Text: "late", Delay: time.Second})
	c := Wrap(s, WithTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, Request{Prompt: "p"})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTimeout(err))
}

func TestRateLimitWaits(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(20*time.Millisecond), 1)
	s := NewScripted(Reply{Text: "1"}, Reply{Text: "2"}, Reply{Text: "3"})
	c := Wrap(s, RateLimit(limiter))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Complete(context.Background(), Request{Prompt: "p"})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestRateLimitHonoursCancellation(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	c := Wrap(NewScripted(Reply{Text: "1"}, Reply{Text: "2"}), RateLimit(limiter))

	_, err := c.Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Complete(ctx, Request{Prompt: "p"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestStackWithLogging(t *testing.T) {
	s := NewScripted(Reply{Text: "```json\n{\"a\": 1}\n```"})
	c := Stack(s, Config{Timeout: time.Second}, nil, zap.NewNop())

	out, err := c.Complete(context.Background(), Request{Prompt: "p", SchemaHint: "{}"})
	require.NoError(t, err)
	obj, err := ExtractJSON(out)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, obj)
}

func TestStackReturnsTransportErrorsWithoutRetrying(t *testing.T) {
	s := NewScripted()
	s.Fallback = func(Request) (string, error) {
		return "", &TransportError{Provider: "scripted", StatusCode: 503, Err: errors.New("down")}
	}
	c := Stack(s, Config{Timeout: time.Second}, nil, zap.NewNop())

	_, err := c.Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, stage.IsTransient(err))
	assert.Len(t, s.Calls(), 1)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "print(1)", StripFences("```python\nprint(1)\n```"))
	assert.Equal(t, "print(1)", StripFences("  print(1)  "))
	_, err := ExtractJSON("no json here")
	assert.Error(t, err)
}
