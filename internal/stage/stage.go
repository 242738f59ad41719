// Package stage defines the contracts between the conversion workflow and
// its four pluggable stages.
package stage

import (
	"context"
	"errors"

	"github.com/mpataki/transmute/internal/models"
)

var (
	// ErrUnsupportedLanguage means no stage implementation handles the
	// requested language.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrAmbiguousStructure means the intent stage could not map the
	// structural summary onto any known operation.
	ErrAmbiguousStructure = errors.New("ambiguous structure")

	// ErrGenerationTimeout means a generation call exceeded its deadline.
	// It is transient.
	ErrGenerationTimeout = errors.New("generation timed out")
)

type Parser interface {
	Parse(ctx context.Context, code, language string) (*models.StructuralSummary, error)
}

type IntentExtractor interface {
	ExtractIntent(ctx context.Context, summary *models.StructuralSummary) (*models.IntentDescription, error)
}

// GenerateRequest is the message passed to the generator. Prior is nil on
// the first attempt and carries the latest failed attempt afterwards.
type GenerateRequest struct {
	Intent *models.IntentDescription
	Target string
	Prior  *models.Attempt
}

type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Validator returns a verdict for candidate code. An error return is
// reserved for transport failures; a check that cannot reach a decision
// reports a failed verdict instead.
type Validator interface {
	Validate(ctx context.Context, code, target string, intent *models.IntentDescription) (models.Verdict, error)
}

// Transient is implemented by errors worth retrying at the transport level.
type Transient interface {
	Transient() bool
}

// IsTransient reports whether err may succeed if the same call is repeated.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrGenerationTimeout) {
		return true
	}
	var t Transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}

// IsTransport reports whether err came from the completion transport at all,
// transient or not.
func IsTransport(err error) bool {
	var t Transient
	return errors.As(err, &t) || errors.Is(err, ErrGenerationTimeout)
}
