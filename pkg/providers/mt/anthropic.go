package mt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Anthropic translates via the Messages API, reusing the request shape
// the orchestrator's LLM client talks, pinned to a translation system
// prompt instead of a free-form conversation.
type Anthropic struct {
	apiKey string
	url    string
	model  string
}

func NewAnthropic(apiKey, model string) *Anthropic {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &Anthropic{
		apiKey: apiKey,
		url:    "https://api.anthropic.com/v1/messages",
		model:  model,
	}
}

func (a *Anthropic) Name() string { return "anthropic-mt" }

func (a *Anthropic) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	payload := map[string]interface{}{
		"model":      a.model,
		"system":     systemPrompt(sourceLang, targetLang),
		"max_tokens": 1024,
		"messages": []map[string]string{
			{"role": "user", "content": text},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("anthropic mt error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("anthropic mt: no content returned")
	}
	return result.Content[0].Text, nil
}
