// Package mt defines the Machine Translation collaborator interface.
// Every concrete backend is an LLM prompted to act as a translation
// engine rather than a dedicated MT model, since that's the stack this
// relay's surrounding examples actually talk to.
package mt

import (
	"context"
	"strings"
)

// Provider translates text from sourceLang to targetLang, both BCP-47
// (or short ISO 639-1) codes.
type Provider interface {
	Name() string
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Passthrough reports whether a translation call can be skipped
// entirely: empty input, or source and target already match. Callers
// should check this before invoking a Provider.
func Passthrough(text, sourceLang, targetLang string) (result string, skip bool) {
	if strings.TrimSpace(text) == "" {
		return "", true
	}
	if sourceLang != "" && sourceLang == targetLang {
		return text, true
	}
	return "", false
}

func systemPrompt(sourceLang, targetLang string) string {
	src := sourceLang
	if src == "" {
		src = "the detected source language"
	}
	return "You are a machine translation engine embedded in a real-time speech relay. " +
		"Translate the user's message from " + src + " to " + targetLang + ". " +
		"Respond with only the translation, no quotation marks, no commentary, no explanation."
}
