package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mpataki/transmute/internal/completion"
	"github.com/mpataki/transmute/internal/models"
)

const reviewSchema = `{
  "passed": true,
  "issues": [{"severity": "critical|minor", "message": "string"}]
}`

// Review asks a completion service whether the candidate does what the
// intent describes. Only critical issues fail the candidate.
type Review struct {
	client completion.Client
}

func NewReview(client completion.Client) *Review {
	return &Review{client: client}
}

func (*Review) Name() string { return "review" }

type reviewResponse struct {
	Passed *bool `json:"passed"`
	Issues []struct {
		Severity string `json:"severity"`
		Message  string `json:"message"`
	} `json:"issues"`
}

func (r *Review) Run(ctx context.Context, c Candidate) ([]models.Defect, error) {
	ops, _ := json.MarshalIndent(c.Intent.Operations, "", "  ")
	prompt := fmt.Sprintf(`Review this %s program against the intended behaviour.

Goal: %s
Operations:
%s

Program:
%s

Report an issue as critical only if the program does not perform an
operation, performs it incorrectly, or would fail at runtime.`, c.Target.Name, c.Intent.Goal, ops, c.Code)

	out, err := r.client.Complete(ctx, completion.Request{
		System:     "You are a strict code reviewer. Reply with JSON only.",
		Prompt:     prompt,
		SchemaHint: reviewSchema,
	})
	if err != nil {
		return nil, err
	}

	var resp reviewResponse
	raw, err := completion.ExtractJSON(out)
	if err == nil {
		err = json.Unmarshal([]byte(raw), &resp)
	}
	if err != nil || resp.Passed == nil {
		return []models.Defect{{
			Kind:    models.DefectSemanticMismatch,
			Message: "semantic review returned an unreadable answer",
		}}, nil
	}

	var defects []models.Defect
	for _, issue := range resp.Issues {
		if !strings.EqualFold(issue.Severity, "critical") {
			continue
		}
		defects = append(defects, models.Defect{Kind: models.DefectSemanticMismatch, Message: issue.Message})
	}
	if !*resp.Passed && len(defects) == 0 {
		defects = append(defects, models.Defect{
			Kind:    models.DefectSemanticMismatch,
			Message: "semantic review rejected the program without naming a critical issue",
		})
	}
	return defects, nil
}
