// Package generator produces target-language code from an intent
// description.
package generator

import (
	"fmt"
	"strings"

	"github.com/mpataki/transmute/internal/models"
)

// BuildFeedback renders the defects of a failed attempt as corrective
// instructions. It returns "" for a nil attempt.
func BuildFeedback(prior *models.Attempt) string {
	if prior == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Attempt %d was rejected by validation. Fix every issue below.\n\n", prior.Number)
	for i, d := range prior.Verdict.Defects {
		fmt.Fprintf(&sb, "%d. [%s] %s", i+1, d.Kind, d.Message)
		if d.Location != "" {
			fmt.Fprintf(&sb, " (at %s)", d.Location)
		}
		sb.WriteString("\n")
	}
	if prior.Code != "" {
		fmt.Fprintf(&sb, "\nCode from attempt %d:\n%s\n", prior.Number, prior.Code)
	}
	return sb.String()
}
