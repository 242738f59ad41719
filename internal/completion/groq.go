package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	DefaultGroqURL   = "https://api.groq.com/openai/v1/chat/completions"
	DefaultGroqModel = "llama-3.3-70b-versatile"
)

// GroqClient calls the OpenAI-compatible Groq chat completions endpoint at
// temperature 0.
type GroqClient struct {
	http    *http.Client
	apiKey  string
	model   string
	baseURL string
}

func NewGroqClient(apiKey, model, baseURL string) *GroqClient {
	if model == "" {
		model = DefaultGroqModel
	}
	if baseURL == "" {
		baseURL = DefaultGroqURL
	}
	return &GroqClient{
		http:    &http.Client{},
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
	}
}

func (g *GroqClient) Name() string { return "groq:" + g.model }

type groqChatReq struct {
	Model          string            `json:"model"`
	Messages       []groqMessage     `json:"messages"`
	Temperature    float32           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (g *GroqClient) Complete(ctx context.Context, req Request) (string, error) {
	system := req.System
	if req.SchemaHint != "" {
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object shaped like:\n" + req.SchemaHint)
	}

	body := groqChatReq{Model: g.model, Temperature: 0}
	if system != "" {
		body.Messages = append(body.Messages, groqMessage{Role: "system", Content: system})
	}
	body.Messages = append(body.Messages, groqMessage{Role: "user", Content: req.Prompt})
	if req.SchemaHint != "" {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return "", NewPermanentError(g.Name(), fmt.Errorf("encode request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(b))
	if err != nil {
		return "", NewPermanentError(g.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransportError{Provider: g.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(raw)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", &TransportError{Provider: g.Name(), StatusCode: resp.StatusCode, Err: err}
		}
		return "", NewPermanentError(g.Name(), err)
	}

	var out groqChatResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &TransportError{Provider: g.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", &TransportError{Provider: g.Name(), Err: errors.New("empty response")}
	}
	return out.Choices[0].Message.Content, nil
}
