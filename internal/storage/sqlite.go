package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mpataki/transmute/internal/models"
)

var ErrNotFound = errors.New("run not found")

// Storage persists runs, attempts and the raw event stream. It is an
// EventSink: every event updates the run it belongs to.
type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	// Concurrent conversions share one writer.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		source_language TEXT NOT NULL DEFAULT '',
		target_language TEXT NOT NULL DEFAULT '',
		source_code TEXT NOT NULL DEFAULT '',
		max_retries INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running',
		current_state TEXT NOT NULL DEFAULT '',
		attempts_used INTEGER NOT NULL DEFAULT 0,
		final_code TEXT NOT NULL DEFAULT '',
		abort_reason TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS attempts (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		number INTEGER NOT NULL,
		code TEXT NOT NULL,
		verdict TEXT,
		recorded_at TIMESTAMP NOT NULL,
		PRIMARY KEY (run_id, number)
	);

	CREATE TABLE IF NOT EXISTS events (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		sequence INTEGER NOT NULL,
		state TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		timestamp TIMESTAMP NOT NULL,
		payload TEXT,
		PRIMARY KEY (run_id, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Emit records ev and folds it into the run's row.
func (s *Storage) Emit(ctx context.Context, ev models.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", ev.State, err)
	}
	ts := ev.Timestamp.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, status, current_state) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET current_state = excluded.current_state`,
		ev.RequestID, ts, models.RunStatusRunning, ev.State,
	); err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO events (run_id, sequence, state, attempt, timestamp, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.RequestID, ev.Sequence, ev.State, ev.Attempt, ts, string(payload),
	); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	switch p := ev.Payload.(type) {
	case models.ParsingPayload:
		if _, err := tx.ExecContext(ctx,
			`UPDATE runs SET source_language = ?, target_language = ?, source_code = ?, max_retries = ? WHERE id = ?`,
			p.SourceLanguage, p.TargetLanguage, p.SourceCode, p.MaxRetries, ev.RequestID,
		); err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
	case models.Attempt:
		if err := putAttempt(ctx, tx, ev.RequestID, p, ts); err != nil {
			return err
		}
	case *models.ConversionResult:
		completed := p.CompletedAt.UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE runs SET completed_at = ?, status = ?, attempts_used = ?, final_code = ?, abort_reason = ?, detail = ? WHERE id = ?`,
			completed, models.StatusFor(p.Outcome), p.AttemptsUsed, p.FinalCode, p.AbortReason, p.Detail, ev.RequestID,
		); err != nil {
			return fmt.Errorf("failed to complete run: %w", err)
		}
		for _, a := range p.Attempts {
			if err := putAttempt(ctx, tx, ev.RequestID, a, ts); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func putAttempt(ctx context.Context, tx *sql.Tx, runID string, a models.Attempt, ts time.Time) error {
	verdict, err := json.Marshal(a.Verdict)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO attempts (run_id, number, code, verdict, recorded_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, number) DO UPDATE SET code = excluded.code, verdict = excluded.verdict`,
		runID, a.Number, a.Code, string(verdict), ts,
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt %d: %w", a.Number, err)
	}
	return nil
}

const runColumns = `id, created_at, completed_at, source_language, target_language, source_code,
	max_retries, status, current_state, attempts_used, final_code, abort_reason, detail`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var run models.Run
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID, &run.CreatedAt, &completedAt, &run.SourceLanguage, &run.TargetLanguage, &run.SourceCode,
		&run.MaxRetries, &run.Status, &run.CurrentState, &run.AttemptsUsed, &run.FinalCode, &run.AbortReason, &run.Detail,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

func (s *Storage) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// ListRuns returns the most recent runs first. A limit of zero or less
// returns every run.
func (s *Storage) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (s *Storage) GetAttemptsForRun(ctx context.Context, runID string) ([]*models.AttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, number, code, verdict, recorded_at FROM attempts WHERE run_id = ? ORDER BY number`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*models.AttemptRecord
	for rows.Next() {
		var a models.AttemptRecord
		var verdictJSON sql.NullString
		if err := rows.Scan(&a.RunID, &a.Number, &a.Code, &verdictJSON, &a.RecordedAt); err != nil {
			return nil, err
		}
		if verdictJSON.Valid {
			var v models.Verdict
			if err := json.Unmarshal([]byte(verdictJSON.String), &v); err == nil {
				a.Verdict = &v
			}
		}
		attempts = append(attempts, &a)
	}

	return attempts, rows.Err()
}

// ListEvents returns a run's events in sequence order. Payloads come back
// as raw JSON.
func (s *Storage) ListEvents(ctx context.Context, runID string) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, sequence, state, attempt, timestamp, payload FROM events WHERE run_id = ? ORDER BY sequence`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var payload sql.NullString
		if err := rows.Scan(&ev.RequestID, &ev.Sequence, &ev.State, &ev.Attempt, &ev.Timestamp, &payload); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "null" {
			ev.Payload = json.RawMessage(payload.String)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

func (s *Storage) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE run_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE run_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return tx.Commit()
}

// Stats summarises runs created at or after since.
func (s *Storage) Stats(ctx context.Context, since time.Time) (*models.Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, abort_reason, attempts_used, created_at, completed_at FROM runs`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &models.Stats{
		ByStatus:      map[models.RunStatus]int{},
		ByAbortReason: map[models.AbortReason]int{},
	}
	var finished, succeeded, attempts int
	var elapsed time.Duration
	for rows.Next() {
		var status models.RunStatus
		var reason models.AbortReason
		var used int
		var created time.Time
		var completed sql.NullTime
		if err := rows.Scan(&status, &reason, &used, &created, &completed); err != nil {
			return nil, err
		}
		if created.Before(since) {
			continue
		}

		stats.Total++
		stats.ByStatus[status]++
		if reason != "" {
			stats.ByAbortReason[reason]++
		}
		if !completed.Valid {
			continue
		}
		finished++
		attempts += used
		elapsed += completed.Time.Sub(created)
		if status == models.RunStatusSucceeded {
			succeeded++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if finished > 0 {
		stats.SuccessRate = float64(succeeded) / float64(finished)
		stats.AverageAttempts = float64(attempts) / float64(finished)
		stats.AverageDuration = elapsed / time.Duration(finished)
	}

	stats.StageDurations, err = s.stageDurations(ctx, since)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// stageDurations averages the time from entering each non-terminal state to
// the run's next event.
func (s *Storage) stageDurations(ctx context.Context, since time.Time) (map[models.State]time.Duration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.run_id, e.state, e.timestamp, r.created_at
		FROM events e JOIN runs r ON r.id = e.run_id
		ORDER BY e.run_id, e.sequence`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := map[models.State]time.Duration{}
	counts := map[models.State]int{}
	var prevRun string
	var prevState models.State
	var prevAt time.Time
	for rows.Next() {
		var runID string
		var state models.State
		var at, created time.Time
		if err := rows.Scan(&runID, &state, &at, &created); err != nil {
			return nil, err
		}
		if created.Before(since) {
			prevRun = ""
			continue
		}
		if runID == prevRun && !prevState.IsTerminal() {
			totals[prevState] += at.Sub(prevAt)
			counts[prevState]++
		}
		prevRun, prevState, prevAt = runID, state, at
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	avg := make(map[models.State]time.Duration, len(totals))
	for state, total := range totals {
		avg[state] = total / time.Duration(counts[state])
	}
	return avg, nil
}

// FormatTimeAgo renders t relative to now for display.
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}
