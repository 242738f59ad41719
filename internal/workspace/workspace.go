// Package workspace keeps a human-readable directory of artifacts for every
// run: the request, the structural summary, the intent, each attempt's code
// and verdict, the final result and the raw event log.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/registry"
)

const (
	RequestFile = "request.json"
	SummaryFile = "summary.json"
	IntentFile  = "intent.json"
	ResultFile  = "result.json"
	EventsFile  = "events.jsonl"
)

type Workspace struct {
	Path string
}

func dirFor(baseDir, runID string) string {
	return filepath.Join(baseDir, "run-"+runID)
}

func Create(baseDir, runID string) (*Workspace, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || strings.Contains(runID, "..") {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}
	path := dirFor(baseDir, runID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}
	return &Workspace{Path: path}, nil
}

func Open(baseDir, runID string) (*Workspace, error) {
	path := dirFor(baseDir, runID)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("workspace for run %s does not exist", runID)
	}

	return &Workspace{Path: path}, nil
}

func (w *Workspace) WriteJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return w.WriteFile(name, string(data)+"\n")
}

func (w *Workspace) WriteFile(name, content string) error {
	if err := os.WriteFile(filepath.Join(w.Path, name), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (w *Workspace) AppendEvent(ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(w.Path, EventsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

func (w *Workspace) ReadResult() (*models.ConversionResult, error) {
	data, err := os.ReadFile(filepath.Join(w.Path, ResultFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("run has not finished")
		}
		return nil, fmt.Errorf("failed to read result: %w", err)
	}

	var res models.ConversionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse result JSON: %w", err)
	}
	return &res, nil
}

func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Path)
}

// Remove deletes a run's workspace. A missing workspace is not an error.
func Remove(baseDir, runID string) error {
	return os.RemoveAll(dirFor(baseDir, runID))
}

// Sink writes each run's artifacts as its events arrive.
type Sink struct {
	baseDir  string
	registry *registry.Registry

	mu      sync.Mutex
	targets map[string]string // run id -> code file extension
}

func NewSink(baseDir string, reg *registry.Registry) *Sink {
	return &Sink{baseDir: baseDir, registry: reg, targets: make(map[string]string)}
}

func (s *Sink) Emit(_ context.Context, ev models.Event) error {
	w, err := Create(s.baseDir, ev.RequestID)
	if err != nil {
		return err
	}
	if err := w.AppendEvent(ev); err != nil {
		return err
	}

	switch p := ev.Payload.(type) {
	case models.ParsingPayload:
		s.rememberTarget(ev.RequestID, p.TargetLanguage)
		return w.WriteJSON(RequestFile, p)
	case *models.StructuralSummary:
		return w.WriteJSON(SummaryFile, p)
	case models.GeneratingPayload:
		if p.Prior == nil {
			return w.WriteJSON(IntentFile, p.Intent)
		}
	case models.ValidatingPayload:
		return w.WriteFile(s.codeFile(ev.RequestID, ev.Attempt), p.Code)
	case models.Attempt:
		return w.WriteJSON(verdictFile(p.Number), p.Verdict)
	case *models.ConversionResult:
		for _, a := range p.Attempts {
			if err := w.WriteJSON(verdictFile(a.Number), a.Verdict); err != nil {
				return err
			}
		}
		s.forget(ev.RequestID)
		return w.WriteJSON(ResultFile, p)
	}
	return nil
}

func verdictFile(n int) string {
	return fmt.Sprintf("verdict-%d.json", n)
}

func (s *Sink) rememberTarget(runID, target string) {
	ext := ".txt"
	if s.registry != nil {
		if lang, ok := s.registry.Lookup(target); ok && len(lang.Extensions) > 0 {
			ext = lang.Extensions[0]
		}
	}
	s.mu.Lock()
	s.targets[runID] = ext
	s.mu.Unlock()
}

func (s *Sink) forget(runID string) {
	s.mu.Lock()
	delete(s.targets, runID)
	s.mu.Unlock()
}

func (s *Sink) codeFile(runID string, attempt int) string {
	s.mu.Lock()
	ext, ok := s.targets[runID]
	s.mu.Unlock()
	if !ok {
		ext = ".txt"
	}
	return fmt.Sprintf("attempt-%d%s", attempt, ext)
}
