// Package app assembles the conversion engine and its sinks from
// configuration.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mpataki/transmute/internal/completion"
	"github.com/mpataki/transmute/internal/config"
	"github.com/mpataki/transmute/internal/generator"
	"github.com/mpataki/transmute/internal/intent"
	"github.com/mpataki/transmute/internal/objectstore"
	"github.com/mpataki/transmute/internal/parser"
	"github.com/mpataki/transmute/internal/registry"
	"github.com/mpataki/transmute/internal/storage"
	"github.com/mpataki/transmute/internal/validator"
	"github.com/mpataki/transmute/internal/workflow"
	"github.com/mpataki/transmute/internal/workspace"
)

type App struct {
	Config   *config.Config
	Registry *registry.Registry
	Store    *storage.Storage
	Engine   *workflow.Engine
	Objects  *objectstore.S3Store
	Logger   *zap.Logger

	client completion.Client
}

type Option func(*options)

type options struct {
	client completion.Client
	sinks  []workflow.EventSink
}

// WithClient replaces the provider selected by configuration.
func WithClient(client completion.Client) Option {
	return func(o *options) { o.client = client }
}

// WithSink adds a sink after the built-in ones.
func WithSink(sink workflow.EventSink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sink) }
}

// New opens the store and builds the engine. Close releases the store.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	reg, err := registry.LoadAll(cfg.LanguageDirs())
	if err != nil {
		return nil, fmt.Errorf("failed to load language registry: %w", err)
	}

	client := o.client
	if client == nil && cfg.Provider != completion.ProviderOffline {
		limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
		client, err = completion.New(ctx, cfg.Completion(), limiter, logger)
		if err != nil {
			return nil, err
		}
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &App{
		Config:   cfg,
		Registry: reg,
		Store:    store,
		Logger:   logger,
		client:   client,
	}

	sinks := workflow.MultiSink{store, workspace.NewSink(cfg.WorkspacesDir(), reg)}
	if cfg.S3.Enabled() {
		objects, err := objectstore.NewS3Store(cfg.S3)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to configure object store: %w", err)
		}
		a.Objects = objects
		sinks = append(sinks, objectstore.NewSink(objects, reg))
	}
	sinks = append(sinks, o.sinks...)

	a.Engine, err = workflow.New(cfg.Policy(), reg, a.stages(), workflow.WithSink(sinks), workflow.WithLogger(logger))
	if err != nil {
		store.Close()
		return nil, err
	}

	provider := cfg.Provider
	if client != nil {
		provider = client.Name()
	}
	logger.Info("engine ready",
		zap.String("provider", provider),
		zap.Int("languages", len(reg.Sources())+len(reg.Targets())),
		zap.Bool("object_store", a.Objects != nil),
	)
	return a, nil
}

// stages picks LLM-backed stages when a client is available and the
// deterministic ones otherwise.
func (a *App) stages() workflow.Stages {
	vopts := []validator.Option{
		validator.WithLogger(a.Logger),
		validator.WithCheckTimeout(a.Config.CallTimeout),
	}

	if a.client == nil {
		return workflow.Stages{
			Parser:    parser.NewDispatcher(a.Registry, nil, a.Logger),
			Intent:    intent.NewRules(),
			Generator: generator.NewTemplate(),
			Validator: validator.New(a.Registry, vopts...),
		}
	}

	if a.Config.Review {
		vopts = append(vopts, validator.WithReview(a.client))
	}
	return workflow.Stages{
		Parser:    parser.NewDispatcher(a.Registry, parser.NewLLMParser(a.client), a.Logger),
		Intent:    intent.Chain{intent.NewRules(), intent.NewLLM(a.client)},
		Generator: generator.NewLLM(a.client, a.Registry),
		Validator: validator.New(a.Registry, vopts...),
	}
}

// Offline reports whether generation runs without a completion provider.
func (a *App) Offline() bool { return a.client == nil }

func (a *App) Close() error {
	return a.Store.Close()
}
