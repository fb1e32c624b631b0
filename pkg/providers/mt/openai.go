package mt

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI translates via the Chat Completions API using the official SDK.
type OpenAI struct {
	client openai.Client
	model  openai.ChatModel
}

// NewOpenAI builds an OpenAI MT provider. model defaults to
// openai.ChatModelGPT4o when empty.
func NewOpenAI(apiKey, model string) *OpenAI {
	m := openai.ChatModelGPT4o
	if model != "" {
		m = model
	}
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}
}

func (o *OpenAI) Name() string { return "openai-mt" }

func (o *OpenAI) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(sourceLang, targetLang)),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai mt: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai mt: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
