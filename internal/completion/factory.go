package completion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ProviderGroq    = "groq"
	ProviderGemini  = "gemini"
	ProviderOffline = "offline"
)

type Config struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
}

// New builds the provider named in cfg wrapped in the standard middleware
// stack. limiter may be shared by several clients.
func New(ctx context.Context, cfg Config, limiter *rate.Limiter, logger *zap.Logger) (Client, error) {
	var base Client
	switch cfg.Provider {
	case ProviderGroq:
		base = NewGroqClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case ProviderGemini:
		g, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		base = g
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
	return Stack(base, cfg, limiter, logger), nil
}

// Stack applies logging, rate limiting and per-call timeouts, in that order
// from the outside in. Transient failures are returned to the caller; the
// workflow engine owns the transport retry budget.
func Stack(base Client, cfg Config, limiter *rate.Limiter, logger *zap.Logger) Client {
	return Wrap(base,
		WithLogging(logger),
		RateLimit(limiter),
		WithTimeout(cfg.Timeout),
	)
}
