package mt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Google translates via the Gemini generateContent API, using the
// instruction as a synthetic leading user turn since this model family
// does not accept a dedicated system role on every model version.
type Google struct {
	apiKey string
	url    string
	model  string
}

func NewGoogle(apiKey, model string) *Google {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Google{
		apiKey: apiKey,
		url:    "https://generativelanguage.googleapis.com/v1beta/models/" + model + ":generateContent",
		model:  model,
	}
}

func (g *Google) Name() string { return "google-mt" }

func (g *Google) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role"`
		Parts []part `json:"parts"`
	}

	contents := []content{
		{Role: "user", Parts: []part{{Text: systemPrompt(sourceLang, targetLang)}}},
		{Role: "model", Parts: []part{{Text: "Understood."}}},
		{Role: "user", Parts: []part{{Text: text}}},
	}

	body, err := json.Marshal(map[string]interface{}{"contents": contents})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.url+"?key="+g.apiKey, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("google mt error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("google mt: no response")
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}
