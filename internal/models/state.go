package models

import "time"

type State string

const (
	StateParsing          State = "parsing"
	StateIntentExtraction State = "intent_extraction"
	StateGenerating       State = "generating"
	StateValidating       State = "validating"
	StateRetrying         State = "retrying"
	StateSucceeded        State = "succeeded"
	StateExhausted        State = "exhausted"
	StateAborted          State = "aborted"
)

func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateExhausted || s == StateAborted
}

// Event is emitted on every state entry. Sequence increases by one per
// request starting at 1.
type Event struct {
	RequestID string    `json:"request_id"`
	Sequence  int       `json:"sequence"`
	State     State     `json:"state"`
	Attempt   int       `json:"attempt,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Payloads carried by events, keyed by the state being entered. Retrying
// carries the failed Attempt and terminal states the *ConversionResult.

type ParsingPayload struct {
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	MaxRetries     int    `json:"max_retries"`
	SourceCode     string `json:"source_code"`
}

type GeneratingPayload struct {
	Intent *IntentDescription `json:"intent"`
	Prior  *Attempt           `json:"prior,omitempty"`
}

type ValidatingPayload struct {
	Code string `json:"code"`
}
