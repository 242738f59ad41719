// Package workflow drives a conversion request through parsing, intent
// extraction and a bounded generate/validate loop.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/registry"
	"github.com/mpataki/transmute/internal/stage"
)

// Stages bundles the four pluggable pipeline steps.
type Stages struct {
	Parser    stage.Parser
	Intent    stage.IntentExtractor
	Generator stage.Generator
	Validator stage.Validator
}

type Engine struct {
	policy   Policy
	registry *registry.Registry
	stages   Stages
	sink     EventSink
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Engine)

func WithSink(sink EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock replaces time.Now for event and result timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(policy Policy, reg *registry.Registry, stages Stages, opts ...Option) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if reg == nil {
		return nil, errors.New("language registry is required")
	}
	if stages.Parser == nil || stages.Intent == nil || stages.Generator == nil || stages.Validator == nil {
		return nil, errors.New("all four stages are required")
	}

	e := &Engine{
		policy:   policy,
		registry: reg,
		stages:   stages,
		sink:     MultiSink{},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Policy() Policy                { return e.policy }
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Convert runs one request to completion. It always returns a terminal
// result; failures are reported through the result's outcome rather than
// an error.
func (e *Engine) Convert(ctx context.Context, req models.ConversionRequest) *models.ConversionResult {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.MaxRetries <= 0 {
		req.MaxRetries = e.policy.MaxRetries
	}

	x := &execution{
		engine: e,
		req:    req,
		logger: e.logger.With(zap.String("request_id", req.ID)),
		result: &models.ConversionResult{
			RequestID:      req.ID,
			SourceLanguage: req.SourceLanguage,
			TargetLanguage: req.TargetLanguage,
			Attempts:       []models.Attempt{},
			StartedAt:      e.now(),
		},
	}
	x.run(ctx)
	return x.result
}

// ConvertAll converts independent requests concurrently, at most limit at
// a time. Results are returned in request order.
func (e *Engine) ConvertAll(ctx context.Context, reqs []models.ConversionRequest, limit int) []*models.ConversionResult {
	results := make([]*models.ConversionResult, len(reqs))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = e.Convert(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// execution is the state of a single request.
type execution struct {
	engine *Engine
	req    models.ConversionRequest
	result *models.ConversionResult
	logger *zap.Logger
	seq    int
}

func (x *execution) run(ctx context.Context) {
	e := x.engine

	if err := e.registry.SupportsPair(x.req.SourceLanguage, x.req.TargetLanguage); err != nil {
		x.abort(ctx, models.AbortUnsupportedLanguagePair, err)
		return
	}
	source, _ := e.registry.Normalize(x.req.SourceLanguage)
	target, _ := e.registry.Normalize(x.req.TargetLanguage)
	x.result.SourceLanguage, x.result.TargetLanguage = source, target

	x.enter(ctx, models.StateParsing, 0, models.ParsingPayload{
		SourceLanguage: source,
		TargetLanguage: target,
		MaxRetries:     x.req.MaxRetries,
		SourceCode:     x.req.SourceCode,
	})
	summary, err := call(ctx, x, "parse", func(ctx context.Context) (*models.StructuralSummary, error) {
		return e.stages.Parser.Parse(ctx, x.req.SourceCode, source)
	})
	if err != nil {
		x.abort(ctx, classify(ctx, err, models.AbortUnsupportedLanguagePair), err)
		return
	}
	x.result.Summary = summary

	x.enter(ctx, models.StateIntentExtraction, 0, summary)
	intent, err := call(ctx, x, "intent", func(ctx context.Context) (*models.IntentDescription, error) {
		return e.stages.Intent.ExtractIntent(ctx, summary)
	})
	if err != nil {
		x.abort(ctx, classify(ctx, err, models.AbortAmbiguousStructure), err)
		return
	}
	x.result.Intent = intent

	var prior *models.Attempt
	for n := 1; ; n++ {
		x.enter(ctx, models.StateGenerating, n, models.GeneratingPayload{Intent: intent, Prior: prior})
		req := stage.GenerateRequest{Intent: intent, Target: target, Prior: prior}
		code, err := call(ctx, x, "generate", func(ctx context.Context) (string, error) {
			return e.stages.Generator.Generate(ctx, req)
		})
		if err != nil {
			x.abort(ctx, classify(ctx, err, models.AbortTransportError), err)
			return
		}

		x.enter(ctx, models.StateValidating, n, models.ValidatingPayload{Code: code})
		verdict, err := call(ctx, x, "validate", func(ctx context.Context) (models.Verdict, error) {
			return e.stages.Validator.Validate(ctx, code, target, intent)
		})
		if err != nil {
			x.abort(ctx, classify(ctx, err, models.AbortTransportError), err)
			return
		}

		verdict = normalize(verdict)
		attempt := models.Attempt{Number: n, Code: code, Verdict: verdict}
		x.result.Attempts = append(x.result.Attempts, attempt)
		x.result.AttemptsUsed = n

		if verdict.Passed() {
			x.result.FinalCode = code
			x.finish(ctx, models.OutcomeSuccess, models.StateSucceeded)
			return
		}
		x.logger.Info("attempt failed validation",
			zap.Int("attempt", n),
			zap.Int("max_retries", x.req.MaxRetries),
			zap.String("defects", verdict.Summary()),
		)
		if n >= x.req.MaxRetries {
			last := attempt
			x.result.LastAttempt = &last
			x.finish(ctx, models.OutcomeExhausted, models.StateExhausted)
			return
		}

		x.enter(ctx, models.StateRetrying, n, attempt)
		feedback := attempt
		prior = &feedback
	}
}

func (x *execution) enter(ctx context.Context, state models.State, attempt int, payload any) {
	x.seq++
	ev := models.Event{
		RequestID: x.req.ID,
		Sequence:  x.seq,
		State:     state,
		Attempt:   attempt,
		Timestamp: x.engine.now(),
		Payload:   payload,
	}
	x.logger.Debug("state", zap.String("state", string(state)), zap.Int("attempt", attempt))

	// Events for a canceled request must still reach the sink.
	if err := x.engine.sink.Emit(context.WithoutCancel(ctx), ev); err != nil {
		x.logger.Warn("failed to emit event", zap.String("state", string(state)), zap.Error(err))
	}
}

func (x *execution) abort(ctx context.Context, reason models.AbortReason, err error) {
	x.result.AbortReason = reason
	x.result.Detail = err.Error()
	x.logger.Warn("conversion aborted", zap.String("reason", string(reason)), zap.Error(err))
	x.finish(ctx, models.OutcomeAborted, models.StateAborted)
}

func (x *execution) finish(ctx context.Context, outcome models.Outcome, state models.State) {
	x.result.Outcome = outcome
	x.result.CompletedAt = x.engine.now()
	x.logger.Info("conversion finished",
		zap.String("outcome", string(outcome)),
		zap.Int("attempts_used", x.result.AttemptsUsed),
		zap.Duration("duration", x.result.Duration()),
	)
	x.enter(ctx, state, x.result.AttemptsUsed, x.result)
}

// normalize keeps a pluggable validator's verdict consistent: a pass carries
// no defects and anything else is a failure with at least one.
func normalize(v models.Verdict) models.Verdict {
	if v.Passed() {
		return models.Pass()
	}
	return models.Fail(v.Defects...)
}

// classify picks the abort reason for a failed stage call. Cancellation and
// transport failures take precedence over the stage's own reason.
func classify(ctx context.Context, err error, fallback models.AbortReason) models.AbortReason {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return models.AbortCanceled
	case errors.Is(err, stage.ErrUnsupportedLanguage):
		return models.AbortUnsupportedLanguagePair
	case errors.Is(err, stage.ErrAmbiguousStructure):
		return models.AbortAmbiguousStructure
	case stage.IsTransport(err):
		return models.AbortTransportError
	default:
		return fallback
	}
}

// stageTimeoutError reports a stage call that outlived Policy.StageTimeout.
type stageTimeoutError struct {
	stage   string
	timeout time.Duration
}

func (e *stageTimeoutError) Error() string {
	return fmt.Sprintf("%s stage did not respond within %s", e.stage, e.timeout)
}

func (e *stageTimeoutError) Transient() bool { return true }

// call runs one stage call under the per-call timeout, repeating it while
// it fails transiently and the transport budget lasts.
func call[T any](ctx context.Context, x *execution, name string, fn func(context.Context) (T, error)) (T, error) {
	policy := x.engine.policy

	op := func() (T, error) {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if policy.StageTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, policy.StageTimeout)
		}
		defer cancel()

		v, err := fn(callCtx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) && callCtx.Err() != nil {
			err = &stageTimeoutError{stage: name, timeout: policy.StageTimeout}
		}
		if !stage.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		x.logger.Warn("transient stage failure", zap.String("stage", name), zap.Error(err))
		return v, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.TransportBackoff
	b.MaxElapsedTime = 0
	return backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.TransportRetries)), ctx))
}
