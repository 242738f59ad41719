package completion

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Middleware decorates a Client.
type Middleware func(Client) Client

// Wrap applies middlewares left to right: Wrap(c, A, B) == A(B(c)).
func Wrap(inner Client, mws ...Middleware) Client {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

type clientFunc struct {
	name string
	fn   func(ctx context.Context, req Request) (string, error)
}

func (c clientFunc) Name() string { return c.name }
func (c clientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return c.fn(ctx, req)
}

// WithTimeout bounds every call by req.Timeout, or fallback when the request
// does not set one. A call that runs out of time while the caller's context
// is still live fails with a TransportError wrapping ErrTimeout.
func WithTimeout(fallback time.Duration) Middleware {
	return func(next Client) Client {
		return clientFunc{name: next.Name(), fn: func(ctx context.Context, req Request) (string, error) {
			d := req.Timeout
			if d <= 0 {
				d = fallback
			}
			if d <= 0 {
				return next.Complete(ctx, req)
			}
			callCtx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			out, err := next.Complete(callCtx, req)
			if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return "", &TransportError{Provider: next.Name(), Err: ErrTimeout}
			}
			return out, err
		}}
	}
}

// RateLimit makes every call wait on limiter. Share one limiter across all
// clients to cap the aggregate request rate; reservations are granted in
// arrival order.
func RateLimit(limiter *rate.Limiter) Middleware {
	return func(next Client) Client {
		if limiter == nil {
			return next
		}
		return clientFunc{name: next.Name(), fn: func(ctx context.Context, req Request) (string, error) {
			if err := limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				return "", &TransportError{Provider: next.Name(), Err: err}
			}
			return next.Complete(ctx, req)
		}}
	}
}

// WithLogging records each call's duration and outcome.
func WithLogging(logger *zap.Logger) Middleware {
	return func(next Client) Client {
		if logger == nil {
			return next
		}
		return clientFunc{name: next.Name(), fn: func(ctx context.Context, req Request) (string, error) {
			start := time.Now()
			out, err := next.Complete(ctx, req)
			fields := []zap.Field{
				zap.String("provider", next.Name()),
				zap.Int("prompt_chars", len(req.System)+len(req.Prompt)),
				zap.Bool("json", req.SchemaHint != ""),
				zap.Duration("elapsed", time.Since(start)),
			}
			if err != nil {
				logger.Warn("completion failed", append(fields, zap.Error(err))...)
				return "", err
			}
			logger.Debug("completion ok", append(fields, zap.Int("response_chars", len(out)))...)
			return out, nil
		}}
	}
}
