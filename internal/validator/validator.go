// Package validator decides whether generated code is acceptable. A
// Validator runs a fixed sequence of checks and folds their defects into a
// single verdict.
package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mpataki/transmute/internal/completion"
	"github.com/mpataki/transmute/internal/lua"
	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/registry"
	"github.com/mpataki/transmute/internal/stage"
)

// Candidate is what every check sees.
type Candidate struct {
	Code   string
	Target *registry.Language
	// Source is nil when the intent's source language is not registered.
	Source *registry.Language
	Intent *models.IntentDescription
}

// Check inspects a candidate. Returning an error means the check could not
// decide; the validator turns that into a defect unless it is a transport
// failure.
type Check interface {
	Name() string
	Run(ctx context.Context, c Candidate) ([]models.Defect, error)
}

type Validator struct {
	registry *registry.Registry
	checks   []Check
	review   Check
	timeout  time.Duration
	logger   *zap.Logger
}

type Option func(*Validator)

// WithReview adds a semantic review that runs only when every local check
// has passed.
func WithReview(client completion.Client) Option {
	return func(v *Validator) { v.review = NewReview(client) }
}

// WithCheckTimeout bounds each individual check.
func WithCheckTimeout(d time.Duration) Option {
	return func(v *Validator) { v.timeout = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// WithChecks replaces the default local checks.
func WithChecks(checks ...Check) Option {
	return func(v *Validator) { v.checks = checks }
}

func New(reg *registry.Registry, opts ...Option) *Validator {
	v := &Validator{registry: reg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	if v.checks == nil {
		v.checks = []Check{
			SyntaxCheck{},
			CoverageCheck{},
			LeakageCheck{},
			NewRuleCheck(lua.NewRuntime(v.logger)),
		}
	}
	return v
}

func (v *Validator) Validate(ctx context.Context, code, target string, intent *models.IntentDescription) (models.Verdict, error) {
	if strings.TrimSpace(code) == "" {
		return models.Fail(models.Defect{Kind: models.DefectSyntaxError, Message: "candidate is empty"}), nil
	}
	lang, ok := v.registry.Lookup(target)
	if !ok {
		return models.Fail(models.Defect{
			Kind:    models.DefectSyntaxError,
			Message: fmt.Sprintf("no syntax checker registered for %q", target),
		}), nil
	}
	if intent == nil {
		intent = &models.IntentDescription{}
	}

	c := Candidate{Code: code, Target: lang, Intent: intent}
	if src, ok := v.registry.Lookup(intent.SourceLanguage); ok {
		c.Source = src
	}

	var defects []models.Defect
	for _, check := range v.checks {
		found, err := v.run(ctx, check, c)
		if err != nil {
			return models.Verdict{}, err
		}
		defects = append(defects, found...)
	}
	if len(defects) == 0 && v.review != nil {
		found, err := v.run(ctx, v.review, c)
		if err != nil {
			return models.Verdict{}, err
		}
		defects = append(defects, found...)
	}

	if len(defects) > 0 {
		return models.Fail(defects...), nil
	}
	return models.Pass(), nil
}

func (v *Validator) run(ctx context.Context, check Check, c Candidate) ([]models.Defect, error) {
	checkCtx := ctx
	if v.timeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	defects, err := check.Run(checkCtx, c)
	if err == nil {
		return defects, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || completion.IsTimeout(err):
		v.logger.Warn("validation check timed out", zap.String("check", check.Name()))
		return []models.Defect{{
			Kind:    models.DefectTimeout,
			Message: fmt.Sprintf("%s check did not finish in time", check.Name()),
		}}, nil
	case stage.IsTransport(err):
		return nil, err
	default:
		v.logger.Warn("validation check failed", zap.String("check", check.Name()), zap.Error(err))
		return []models.Defect{{
			Kind:    models.DefectSemanticMismatch,
			Message: fmt.Sprintf("%s check could not decide: %v", check.Name(), err),
		}}, nil
	}
}
