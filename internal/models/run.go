package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusExhausted RunStatus = "exhausted"
	RunStatusAborted   RunStatus = "aborted"
)

// Run is the persisted view of one conversion request.
type Run struct {
	ID             string      `json:"id"`
	CreatedAt      time.Time   `json:"created_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	SourceLanguage string      `json:"source_language"`
	TargetLanguage string      `json:"target_language"`
	SourceCode     string      `json:"source_code"`
	MaxRetries     int         `json:"max_retries"`
	Status         RunStatus   `json:"status"`
	CurrentState   State       `json:"current_state"`
	AttemptsUsed   int         `json:"attempts_used"`
	FinalCode      string      `json:"final_code,omitempty"`
	AbortReason    AbortReason `json:"abort_reason,omitempty"`
	Detail         string      `json:"detail,omitempty"`
}

func StatusFor(outcome Outcome) RunStatus {
	switch outcome {
	case OutcomeSuccess:
		return RunStatusSucceeded
	case OutcomeExhausted:
		return RunStatusExhausted
	case OutcomeAborted:
		return RunStatusAborted
	default:
		return RunStatusRunning
	}
}

// AttemptRecord is the persisted view of one attempt.
type AttemptRecord struct {
	RunID      string    `json:"run_id"`
	Number     int       `json:"number"`
	Code       string    `json:"code"`
	Verdict    *Verdict  `json:"verdict,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Stats aggregates runs over a time window.
type Stats struct {
	Total           int                     `json:"total"`
	ByStatus        map[RunStatus]int       `json:"by_status"`
	ByAbortReason   map[AbortReason]int     `json:"by_abort_reason"`
	SuccessRate     float64                 `json:"success_rate"`
	AverageAttempts float64                 `json:"average_attempts"`
	AverageDuration time.Duration           `json:"average_duration"`
	StageDurations  map[State]time.Duration `json:"stage_durations"` // mean time in each non-terminal state
}
