package mt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPassthroughEmptyText(t *testing.T) {
	result, skip := Passthrough("   ", "en", "es")
	if !skip || result != "" {
		t.Errorf("expected skip with empty result, got (%q, %v)", result, skip)
	}
}

func TestPassthroughSameLanguage(t *testing.T) {
	result, skip := Passthrough("hello", "en", "en")
	if !skip || result != "hello" {
		t.Errorf("expected skip with original text, got (%q, %v)", result, skip)
	}
}

func TestPassthroughDifferentLanguages(t *testing.T) {
	_, skip := Passthrough("hello", "en", "es")
	if skip {
		t.Error("expected no skip for differing languages")
	}
}

func TestAnthropicTranslate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			System string `json:"system"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if !strings.Contains(req.System, "to es") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		}{Content: []struct {
			Text string `json:"text"`
		}{{Text: "hola"}}})
	}))
	defer server.Close()

	a := &Anthropic{apiKey: "test-key", url: server.URL, model: "claude-3"}
	got, err := a.Translate(context.Background(), "hello", "en", "es")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hola" {
		t.Errorf("expected hola, got %s", got)
	}
}

func TestGoogleTranslate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "key=test-key") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		resp := map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{"parts": []map[string]string{{"text": "ola"}}}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	g := &Google{apiKey: "test-key", url: server.URL, model: "gemini"}
	got, err := g.Translate(context.Background(), "hello", "en", "pt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ola" {
		t.Errorf("expected ola, got %s", got)
	}
}
