package models

import "github.com/google/uuid"

const DefaultMaxRetries = 3

// ConversionRequest is the immutable input to a single conversion.
type ConversionRequest struct {
	ID             string `json:"id"`
	SourceCode     string `json:"source_code"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	MaxRetries     int    `json:"max_retries"`
}

// NewRequest assigns a fresh request id. A maxRetries of zero leaves the
// engine's configured default in place.
func NewRequest(sourceCode, sourceLanguage, targetLanguage string, maxRetries int) ConversionRequest {
	return ConversionRequest{
		ID:             uuid.NewString(),
		SourceCode:     sourceCode,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
		MaxRetries:     maxRetries,
	}
}
