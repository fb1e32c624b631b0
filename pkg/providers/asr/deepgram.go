package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Deepgram transcribes via Deepgram's prerecorded /v1/listen endpoint,
// fed the raw linear16 PCM directly (no WAV container needed since the
// Content-Type header states the encoding).
type Deepgram struct {
	apiKey string
	url    string
}

func NewDeepgram(apiKey string) *Deepgram {
	return &Deepgram{
		apiKey: apiKey,
		url:    "https://api.deepgram.com/v1/listen",
	}
}

func (d *Deepgram) Name() string { return "deepgram-asr" }

func (d *Deepgram) Transcribe(ctx context.Context, pcm []int16, sampleRate int, hintLang string) (string, string, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return "", "", err
	}
	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	params.Set("detect_language", "true")
	if hintLang != "" {
		params.Set("language", hintLang)
		params.Set("detect_language", "false")
	}
	u.RawQuery = params.Encode()

	raw := int16ToBytes(pcm)
	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(raw))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/l16; rate=%d; channels=1", sampleRate))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("deepgram asr error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Results struct {
			Channels []struct {
				DetectedLanguage string `json:"detected_language"`
				Alternatives     []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", err
	}
	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return "", UnknownLanguage, nil
	}

	lang := result.Results.Channels[0].DetectedLanguage
	if lang == "" {
		lang = hintLang
	}
	if lang == "" {
		lang = UnknownLanguage
	}
	return result.Results.Channels[0].Alternatives[0].Transcript, lang, nil
}
