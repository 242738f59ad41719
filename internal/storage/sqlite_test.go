package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/transmute/internal/models"
)

func newStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "transmute.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// replay feeds the events of a two-attempt successful conversion.
func replay(t *testing.T, s *Storage, id string, at time.Time) *models.ConversionResult {
	t.Helper()
	ctx := context.Background()

	failed := models.Attempt{Number: 1, Code: "df = pd.read_csv('x')", Verdict: models.Fail(models.Defect{
		Kind: models.DefectMissingConstruct, Message: "no aggregation found",
	})}
	passed := models.Attempt{Number: 2, Code: "df.agg(total=('a', 'sum'))", Verdict: models.Pass()}
	result := &models.ConversionResult{
		RequestID:    id,
		Outcome:      models.OutcomeSuccess,
		FinalCode:    passed.Code,
		AttemptsUsed: 2,
		Attempts:     []models.Attempt{failed, passed},
		StartedAt:    at,
		CompletedAt:  at.Add(4 * time.Second),
	}

	events := []models.Event{
		{State: models.StateParsing, Payload: models.ParsingPayload{SourceLanguage: "r", TargetLanguage: "python", MaxRetries: 3, SourceCode: "x <- 1"}},
		{State: models.StateIntentExtraction, Payload: &models.StructuralSummary{Language: "r"}},
		{State: models.StateGenerating, Attempt: 1},
		{State: models.StateValidating, Attempt: 1, Payload: models.ValidatingPayload{Code: failed.Code}},
		{State: models.StateRetrying, Attempt: 1, Payload: failed},
		{State: models.StateGenerating, Attempt: 2},
		{State: models.StateValidating, Attempt: 2, Payload: models.ValidatingPayload{Code: passed.Code}},
		{State: models.StateSucceeded, Attempt: 2, Payload: result},
	}
	for i, ev := range events {
		ev.RequestID = id
		ev.Sequence = i + 1
		ev.Timestamp = at.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.Emit(ctx, ev))
	}
	return result
}

func TestEmitBuildsRun(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	replay(t, s, "run-1", start)

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "r", run.SourceLanguage)
	assert.Equal(t, "python", run.TargetLanguage)
	assert.Equal(t, 3, run.MaxRetries)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, models.StateSucceeded, run.CurrentState)
	assert.Equal(t, 2, run.AttemptsUsed)
	assert.Contains(t, run.FinalCode, "agg")
	assert.True(t, run.CreatedAt.Equal(start))
	require.NotNil(t, run.CompletedAt)
	assert.True(t, run.CompletedAt.Equal(start.Add(4*time.Second)))

	attempts, err := s.GetAttemptsForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].Verdict.Passed())
	assert.Equal(t, "no aggregation found", attempts[0].Verdict.Defects[0].Message)
	assert.True(t, attempts[1].Verdict.Passed())

	events, err := s.ListEvents(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, events, 8)
	assert.Equal(t, models.StateParsing, events[0].State)
	assert.Nil(t, events[2].Payload)

	var result models.ConversionResult
	require.NoError(t, json.Unmarshal(events[7].Payload.(json.RawMessage), &result))
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)
}

func TestAbortWithoutParsing(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, models.Event{
		RequestID: "run-x",
		Sequence:  1,
		State:     models.StateAborted,
		Timestamp: start,
		Payload: &models.ConversionResult{
			RequestID:   "run-x",
			Outcome:     models.OutcomeAborted,
			AbortReason: models.AbortUnsupportedLanguagePair,
			Detail:      `"cobol" is not a supported target language`,
			StartedAt:   start,
			CompletedAt: start,
		},
	}))

	run, err := s.GetRun(ctx, "run-x")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusAborted, run.Status)
	assert.Equal(t, models.AbortUnsupportedLanguagePair, run.AbortReason)
	assert.Contains(t, run.Detail, "cobol")
}

func TestListAndDelete(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	replay(t, s, "old", start)
	replay(t, s, "new", start.Add(time.Hour))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].ID)

	runs, err = s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	require.NoError(t, s.DeleteRun(ctx, "old"))
	_, err = s.GetRun(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	attempts, err := s.GetAttemptsForRun(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, attempts)

	assert.ErrorIs(t, s.DeleteRun(ctx, "old"), ErrNotFound)
}

func TestStats(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	replay(t, s, "a", start)
	replay(t, s, "b", start.Add(time.Hour))

	require.NoError(t, s.Emit(ctx, models.Event{
		RequestID: "c", Sequence: 1, State: models.StateExhausted, Timestamp: start.Add(2 * time.Hour),
		Payload: &models.ConversionResult{
			RequestID: "c", Outcome: models.OutcomeExhausted, AttemptsUsed: 3,
			StartedAt: start.Add(2 * time.Hour), CompletedAt: start.Add(2*time.Hour + 10*time.Second),
		},
	}))

	stats, err := s.Stats(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[models.RunStatusSucceeded])
	assert.Equal(t, 1, stats.ByStatus[models.RunStatusExhausted])
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
	assert.InDelta(t, 7.0/3.0, stats.AverageAttempts, 1e-9)
	assert.Equal(t, 6*time.Second, stats.AverageDuration)
	assert.Equal(t, map[models.State]time.Duration{
		models.StateParsing:          time.Second,
		models.StateIntentExtraction: time.Second,
		models.StateGenerating:       time.Second,
		models.StateValidating:       time.Second,
		models.StateRetrying:         time.Second,
	}, stats.StageDurations)

	stats, err = s.Stats(ctx, start.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Empty(t, stats.StageDurations)
}

func TestFormatTimeAgo(t *testing.T) {
	assert.Equal(t, "just now", FormatTimeAgo(time.Now()))
	assert.Equal(t, "5m ago", FormatTimeAgo(time.Now().Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "3h ago", FormatTimeAgo(time.Now().Add(-3*time.Hour-time.Second)))
}
