package models

import "time"

type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeAborted   Outcome = "aborted"
)

type AbortReason string

const (
	AbortTransportError          AbortReason = "TransportError"
	AbortUnsupportedLanguagePair AbortReason = "UnsupportedLanguagePair"
	AbortAmbiguousStructure      AbortReason = "AmbiguousStructure"
	AbortCanceled                AbortReason = "Canceled"
)

// ConversionResult is the single terminal value of a request. FinalCode is
// set only on success; LastAttempt only on exhaustion; AbortReason only on
// abort. The remaining fields are the audit trail.
type ConversionResult struct {
	RequestID      string             `json:"request_id"`
	SourceLanguage string             `json:"source_language"`
	TargetLanguage string             `json:"target_language"`
	Outcome        Outcome            `json:"outcome"`
	FinalCode      string             `json:"final_code,omitempty"`
	AttemptsUsed   int                `json:"attempts_used"`
	LastAttempt    *Attempt           `json:"last_attempt,omitempty"`
	AbortReason    AbortReason        `json:"abort_reason,omitempty"`
	Detail         string             `json:"detail,omitempty"`
	Summary        *StructuralSummary `json:"summary,omitempty"`
	Intent         *IntentDescription `json:"intent,omitempty"`
	Attempts       []Attempt          `json:"attempts"`
	StartedAt      time.Time          `json:"started_at"`
	CompletedAt    time.Time          `json:"completed_at"`
}

func (r *ConversionResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

func (r *ConversionResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
