package models

import (
	"fmt"
	"strings"
)

type DefectKind string

const (
	DefectSyntaxError      DefectKind = "SyntaxError"
	DefectMissingConstruct DefectKind = "MissingConstruct"
	DefectSemanticMismatch DefectKind = "SemanticMismatch"
	DefectTimeout          DefectKind = "Timeout"
)

type Defect struct {
	Kind     DefectKind `json:"kind"`
	Message  string     `json:"message"`
	Location string     `json:"location,omitempty"`
}

func (d Defect) String() string {
	if d.Location != "" {
		return fmt.Sprintf("%s at %s: %s", d.Kind, d.Location, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

type VerdictStatus string

const (
	VerdictPassed VerdictStatus = "passed"
	VerdictFailed VerdictStatus = "failed"
)

// Verdict is built only through Pass and Fail so that a failed verdict
// always carries at least one defect.
type Verdict struct {
	Status  VerdictStatus `json:"status"`
	Defects []Defect      `json:"defects,omitempty"`
}

func Pass() Verdict {
	return Verdict{Status: VerdictPassed}
}

func Fail(defects ...Defect) Verdict {
	if len(defects) == 0 {
		defects = []Defect{{
			Kind:    DefectSemanticMismatch,
			Message: "validation failed without a specific defect",
		}}
	}
	return Verdict{Status: VerdictFailed, Defects: defects}
}

func (v Verdict) Passed() bool {
	return v.Status == VerdictPassed
}

func (v Verdict) Summary() string {
	if v.Passed() {
		return "passed"
	}
	parts := make([]string, 0, len(v.Defects))
	for _, d := range v.Defects {
		parts = append(parts, d.String())
	}
	return strings.Join(parts, "; ")
}

// Attempt is one generate-then-validate cycle. Numbers start at 1.
type Attempt struct {
	Number  int     `json:"number"`
	Code    string  `json:"code"`
	Verdict Verdict `json:"verdict"`
}
