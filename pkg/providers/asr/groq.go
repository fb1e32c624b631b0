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

// Groq transcribes via Groq's Whisper-compatible endpoint.
type Groq struct {
	apiKey string
	url    string
	model  string
}

// NewGroq builds a Groq ASR provider. model defaults to
// "whisper-large-v3-turbo" when empty.
func NewGroq(apiKey, model string) *Groq {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &Groq{
		apiKey: apiKey,
		url:    "https://api.groq.com/openai/v1/audio/transcriptions",
		model:  model,
	}
}

func (g *Groq) Name() string { return "groq-asr" }

func (g *Groq) Transcribe(ctx context.Context, pcm []int16, sampleRate int, hintLang string) (string, string, error) {
	wavData := audio.NewWavBuffer(int16ToBytes(pcm), sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("model", g.model); err != nil {
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
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return "", "", err
	}
	if err := writer.Close(); err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.url, body)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", "", fmt.Errorf("groq asr error (status %d): %v", resp.StatusCode, errResp)
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
