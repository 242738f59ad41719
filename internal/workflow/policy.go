package workflow

import (
	"fmt"
	"time"

	"github.com/mpataki/transmute/internal/models"
)

// Policy is the configuration an Engine is built with. Engines with
// different policies can run side by side.
type Policy struct {
	// MaxRetries caps the number of generate/validate attempts for a request
	// that does not set its own limit.
	MaxRetries int
	// TransportRetries is how many times a stage call failing with a
	// transient error is repeated before the request is aborted. It is
	// independent of MaxRetries.
	TransportRetries int
	// TransportBackoff is the first delay between transport retries; later
	// delays grow exponentially.
	TransportBackoff time.Duration
	// StageTimeout bounds every individual stage call. Zero disables it.
	StageTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:       models.DefaultMaxRetries,
		TransportRetries: 2,
		TransportBackoff: 500 * time.Millisecond,
		StageTimeout:     2 * time.Minute,
	}
}

func (p Policy) Validate() error {
	if p.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", p.MaxRetries)
	}
	if p.TransportRetries < 0 {
		return fmt.Errorf("transport retries must not be negative, got %d", p.TransportRetries)
	}
	if p.StageTimeout < 0 {
		return fmt.Errorf("stage timeout must not be negative, got %s", p.StageTimeout)
	}
	return nil
}
