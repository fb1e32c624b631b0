package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lokutor-ai/speech-relay/pkg/audio"
)

// AssemblyAI transcribes via upload + poll, matching the only
// transcription flow their API supports: upload the audio, submit a
// transcript job against the uploaded URL, then poll until it's done.
type AssemblyAI struct {
	apiKey string
}

func NewAssemblyAI(apiKey string) *AssemblyAI {
	return &AssemblyAI{apiKey: apiKey}
}

func (a *AssemblyAI) Name() string { return "assemblyai-asr" }

func (a *AssemblyAI) Transcribe(ctx context.Context, pcm []int16, sampleRate int, hintLang string) (string, string, error) {
	wavData := audio.NewWavBuffer(int16ToBytes(pcm), sampleRate)

	uploadURL, err := a.upload(ctx, wavData)
	if err != nil {
		return "", "", err
	}
	transcriptID, err := a.submit(ctx, uploadURL, hintLang)
	if err != nil {
		return "", "", err
	}

	for {
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
			text, lang, status, err := a.getTranscript(ctx, transcriptID)
			if err != nil {
				return "", "", err
			}
			if status == "completed" {
				if lang == "" {
					lang = hintLang
				}
				if lang == "" {
					lang = UnknownLanguage
				}
				return text, lang, nil
			}
			if status == "error" {
				return "", "", fmt.Errorf("assemblyai asr failed")
			}
		}
	}
}

func (a *AssemblyAI) upload(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.assemblyai.com/v2/upload", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", a.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		UploadURL string `json:"upload_url"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	return result.UploadURL, nil
}

func (a *AssemblyAI) submit(ctx context.Context, uploadURL, hintLang string) (string, error) {
	payload := map[string]interface{}{"audio_url": uploadURL}
	if hintLang != "" {
		payload["language_code"] = hintLang
	} else {
		payload["language_detection"] = true
	}

	body, _ := json.Marshal(payload)
	req, _ := http.NewRequestWithContext(ctx, "POST", "https://api.assemblyai.com/v2/transcript", bytes.NewReader(body))
	req.Header.Set("Authorization", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		ID string `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	return result.ID, nil
}

func (a *AssemblyAI) getTranscript(ctx context.Context, id string) (text, lang, status string, err error) {
	req, _ := http.NewRequestWithContext(ctx, "GET", "https://api.assemblyai.com/v2/transcript/"+id, nil)
	req.Header.Set("Authorization", a.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", "", err
	}
	defer resp.Body.Close()

	var result struct {
		Status       string `json:"status"`
		Text         string `json:"text"`
		LanguageCode string `json:"language_code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", "", err
	}
	return result.Text, result.LanguageCode, result.Status, nil
}
