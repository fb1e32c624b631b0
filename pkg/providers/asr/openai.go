package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/lokutor-ai/speech-relay/pkg/audio"
)

// OpenAI transcribes via OpenAI's /v1/audio/transcriptions endpoint.
type OpenAI struct {
	apiKey string
	url    string
	model  string
}

// NewOpenAI builds an OpenAI ASR provider. model defaults to
// "whisper-1" when empty.
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAI{
		apiKey: apiKey,
		url:    "https://api.openai.com/v1/audio/transcriptions",
		model:  model,
	}
}

func (o *OpenAI) Name() string { return "openai-asr" }

func (o *OpenAI) Transcribe(ctx context.Context, pcm []int16, sampleRate int, hintLang string) (string, string, error) {
	wavData := audio.NewWavBuffer(int16ToBytes(pcm), sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", o.model); err != nil {
		return "", "", err
	}
	if hintLang != "" {
		if err := writer.WriteField("language", hintLang); err != nil {
			return "", "", err
		}
	}
	part, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", "", err
	}
	if _, err := part.Write(wavData); err != nil {
		return "", "", err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", o.url, body)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("openai asr error: %s (status %d)", string(respBody), resp.StatusCode)
	}

	var result struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", err
	}

	lang := result.Language
	if lang == "" {
		lang = hintLang
	}
	if lang == "" {
		lang = UnknownLanguage
	}
	return result.Text, lang, nil
}
