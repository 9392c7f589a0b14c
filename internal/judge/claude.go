package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cointrader/internal/strategy"
)

const systemPrompt = `You are a conservative crypto trading analyst reviewing proposed trades.
Given a signal and account state, respond ONLY with compact JSON:
{"verdict":"EXECUTE"|"SKIP"|"MODIFY","confidence":0.0-1.0,"reason":"...","modified":{"size_krw":N}}
Include "modified" only for MODIFY. Prefer SKIP when conditions look crowded or the rationale is weak.`

// Claude judges signals through the Anthropic messages API.
type Claude struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

func NewClaude(baseURL, model, apiKey string) *Claude {
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &Claude{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type messagesRequest struct {
	Model     string           `json:"model"`
	MaxTokens int              `json:"max_tokens"`
	System    string           `json:"system"`
	Messages  []messagePayload `json:"messages"`
}

type messagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *Claude) Judge(ctx context.Context, sig strategy.Signal, jctx Context) (Decision, error) {
	state := map[string]any{
		"signal":  sig,
		"account": jctx,
	}
	stateB, _ := json.Marshal(state)

	body, _ := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: 256,
		System:    systemPrompt,
		Messages: []messagePayload{
			{Role: "user", Content: string(stateB)},
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return Decision{}, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Decision{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Decision{}, fmt.Errorf("judge http %d: %s", resp.StatusCode, string(b))
	}

	respB, err := io.ReadAll(resp.Body)
	if err != nil {
		return Decision{}, err
	}
	var mr messagesResponse
	if err := json.Unmarshal(respB, &mr); err != nil {
		return Decision{}, fmt.Errorf("parse judge response: %w", err)
	}
	for _, block := range mr.Content {
		if block.Type == "text" {
			return parseDecision(block.Text)
		}
	}
	return Decision{}, fmt.Errorf("judge response had no text content")
}

// parseDecision extracts the first JSON object from model output, tolerating
// surrounding prose or code fences.
func parseDecision(text string) (Decision, error) {
	t := strings.TrimSpace(text)
	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start < 0 || end <= start {
		return Decision{}, fmt.Errorf("no JSON object in judge output")
	}
	var d Decision
	if err := json.Unmarshal([]byte(t[start:end+1]), &d); err != nil {
		return Decision{}, fmt.Errorf("decode judge output: %w", err)
	}
	d.Verdict = Verdict(strings.ToUpper(strings.TrimSpace(string(d.Verdict))))
	if d.Confidence < 0 || d.Confidence > 1 {
		d.Confidence = 0
	}
	return d, nil
}
