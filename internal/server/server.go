// Package server exposes the conversion engine over HTTP, with a websocket
// stream of each run's events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/registry"
	"github.com/mpataki/transmute/internal/storage"
)

const (
	minRetries    = 1
	maxRetries    = 10
	maxSourceSize = 1 << 20
)

// Converter runs a request to a terminal result.
type Converter interface {
	Convert(ctx context.Context, req models.ConversionRequest) *models.ConversionResult
}

// RunStore is the read side of the run store.
type RunStore interface {
	GetRun(ctx context.Context, id string) (*models.Run, error)
	GetAttemptsForRun(ctx context.Context, runID string) ([]*models.AttemptRecord, error)
	ListEvents(ctx context.Context, runID string) ([]models.Event, error)
	Stats(ctx context.Context, since time.Time) (*models.Stats, error)
}

type Server struct {
	engine   Converter
	store    RunStore
	hub      *Hub
	registry *registry.Registry
	logger   *zap.Logger

	httpServer *http.Server

	// async conversions outlive their request but not the server.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(addr string, engine Converter, store RunStore, hub *Hub, reg *registry.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		engine:   engine,
		store:    store,
		hub:      hub,
		registry: reg,
		logger:   logger,
		baseCtx:  ctx,
		cancel:   cancel,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /convert", s.handleConvert)
	mux.HandleFunc("POST /convert/file", s.handleConvertFile)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /languages", s.handleLanguages)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /runs/{id}", s.handleRun)
	mux.HandleFunc("GET /runs/{id}/events", s.handleEvents)
	return mux
}

func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels async conversions and waits
// for them to record their aborts.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.Wait()
	return err
}

// Wait cancels in-flight async conversions and blocks until they finish.
func (s *Server) Wait() {
	s.cancel()
	s.wg.Wait()
}

type convertRequest struct {
	SourceCode     string `json:"source_code"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	MaxRetries     *int   `json:"max_retries,omitempty"`
}

type acceptedResponse struct {
	RequestID string `json:"request_id"`
	Events    string `json:"events"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var body convertRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSourceSize))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.TargetLanguage == "" {
		body.TargetLanguage = "python"
	}
	retries, err := checkRetries(body.MaxRetries)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.convert(w, r, body.SourceCode, body.SourceLanguage, body.TargetLanguage, retries)
}

func (s *Server) handleConvertFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxSourceSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	source := r.FormValue("source_language")
	if source == "" {
		lang, ok := s.registry.LookupExtension(header.Filename)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot infer a language from %q", header.Filename))
			return
		}
		source = lang.Tag
	}
	target := r.FormValue("target_language")
	if target == "" {
		target = "python"
	}

	var retries int
	if raw := r.FormValue("max_retries"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "max_retries must be an integer")
			return
		}
		if retries, err = checkRetries(&n); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	code, err := io.ReadAll(io.LimitReader(file, maxSourceSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload: "+err.Error())
		return
	}
	s.convert(w, r, string(code), source, target, retries)
}

func (s *Server) convert(w http.ResponseWriter, r *http.Request, code, source, target string, retries int) {
	if strings.TrimSpace(code) == "" {
		writeError(w, http.StatusBadRequest, "source code is empty")
		return
	}
	if source == "" {
		writeError(w, http.StatusBadRequest, "source_language is required")
		return
	}

	req := models.ConversionRequest{
		ID:             uuid.NewString(),
		SourceCode:     code,
		SourceLanguage: source,
		TargetLanguage: target,
		MaxRetries:     retries,
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		s.hub.Track(req.ID)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.engine.Convert(s.baseCtx, req)
		}()
		writeJSON(w, http.StatusAccepted, acceptedResponse{
			RequestID: req.ID,
			Events:    "/runs/" + req.ID + "/events",
		})
		return
	}

	res := s.engine.Convert(r.Context(), req)
	writeJSON(w, http.StatusOK, res)
}

func checkRetries(n *int) (int, error) {
	if n == nil {
		return 0, nil
	}
	if *n < minRetries || *n > maxRetries {
		return 0, fmt.Errorf("max_retries must be between %d and %d", minRetries, maxRetries)
	}
	return *n, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"active_runs": s.hub.Active(),
	})
}

type languageInfo struct {
	Tag        string                `json:"tag"`
	Name       string                `json:"name"`
	Aliases    []string              `json:"aliases,omitempty"`
	Extensions []string              `json:"extensions,omitempty"`
	Roles      []models.LanguageRole `json:"roles"`
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	info := func(langs []*registry.Language) []languageInfo {
		out := make([]languageInfo, 0, len(langs))
		for _, l := range langs {
			out = append(out, languageInfo{Tag: l.Tag, Name: l.Name, Aliases: l.Aliases, Extensions: l.Extensions, Roles: l.Roles})
		}
		return out
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sources": info(s.registry.Sources()),
		"targets": info(s.registry.Targets()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	stats, err := s.store.Stats(r.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		s.logger.Error("stats query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hours": hours,
		"stats": stats,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("run lookup failed", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	attempts, err := s.store.GetAttemptsForRun(r.Context(), id)
	if err != nil {
		s.logger.Error("attempt lookup failed", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load attempts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":      run,
		"attempts": attempts,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
