package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/transmute/internal/models"
	"github.com/mpataki/transmute/internal/registry"
)

func TestSinkWritesArtifacts(t *testing.T) {
	base := t.TempDir()
	reg, err := registry.Default()
	require.NoError(t, err)
	sink := NewSink(base, reg)
	ctx := context.Background()

	intent := &models.IntentDescription{Goal: "sum sales", Operations: []models.Operation{{ID: "op1", Kind: models.OpAggregate}}}
	failed := models.Attempt{Number: 1, Code: "x = 1", Verdict: models.Fail()}
	result := &models.ConversionResult{
		RequestID:    "abc",
		Outcome:      models.OutcomeExhausted,
		AttemptsUsed: 1,
		LastAttempt:  &failed,
		Attempts:     []models.Attempt{failed},
	}

	events := []models.Event{
		{State: models.StateParsing, Payload: models.ParsingPayload{SourceLanguage: "r", TargetLanguage: "python"}},
		{State: models.StateIntentExtraction, Payload: &models.StructuralSummary{Language: "r"}},
		{State: models.StateGenerating, Attempt: 1, Payload: models.GeneratingPayload{Intent: intent}},
		{State: models.StateValidating, Attempt: 1, Payload: models.ValidatingPayload{Code: "x = 1"}},
		{State: models.StateExhausted, Attempt: 1, Payload: result},
	}
	for i, ev := range events {
		ev.RequestID = "abc"
		ev.Sequence = i + 1
		ev.Timestamp = time.Now()
		require.NoError(t, sink.Emit(ctx, ev))
	}

	w, err := Open(base, "abc")
	require.NoError(t, err)
	for _, name := range []string{RequestFile, SummaryFile, IntentFile, "attempt-1.py", "verdict-1.json", ResultFile} {
		assert.FileExists(t, filepath.Join(w.Path, name))
	}

	code, err := os.ReadFile(filepath.Join(w.Path, "attempt-1.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1", string(code))

	log, err := os.ReadFile(filepath.Join(w.Path, EventsFile))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(log)), "\n"), 5)

	res, err := w.ReadResult()
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeExhausted, res.Outcome)
	assert.Equal(t, 1, res.LastAttempt.Number)

	require.NoError(t, w.Remove())
	_, err = Open(base, "abc")
	assert.Error(t, err)
}

func TestCreateRejectsTraversal(t *testing.T) {
	for _, id := range []string{"", "../etc", "a/b"} {
		_, err := Create(t.TempDir(), id)
		assert.Error(t, err, id)
	}
}

func TestReadResultBeforeFinish(t *testing.T) {
	w, err := Create(t.TempDir(), "pending")
	require.NoError(t, err)
	_, err = w.ReadResult()
	assert.ErrorContains(t, err, "has not finished")
}
