package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// voiceForLang maps a language code to Lokutor's voice identifiers. A
// language not in this map falls back to the English voice rather than
// failing synthesis outright.
var voiceForLang = map[string]string{
	"en": "f1",
	"es": "davefx",
	"pt": "faber",
}

// Lokutor synthesizes speech over Lokutor's streaming WebSocket API,
// buffering the binary chunks into one WAV blob per call.
type Lokutor struct {
	apiKey string
	host   string
	scheme string

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewLokutor(apiKey string) *Lokutor {
	return &Lokutor{
		apiKey: apiKey,
		host:   "api.lokutor.com",
		scheme: "wss",
	}
}

func (t *Lokutor) Name() string { return "lokutor" }

func (t *Lokutor) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	u := url.URL{Scheme: t.scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("lokutor: dial: %w", err)
	}
	t.conn = conn
	return conn, nil
}

// Synthesize returns the complete synthesized audio for text in lang.
func (t *Lokutor) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	voice, ok := voiceForLang[lang]
	if !ok {
		voice = voiceForLang["en"]
	}

	var audio []byte
	err := t.streamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

func (t *Lokutor) streamSynthesize(ctx context.Context, text, voice, lang string, onChunk func([]byte) error) error {
	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	req := map[string]interface{}{
		"text":    text,
		"voice":   voice,
		"lang":    lang,
		"speed":   1.0,
		"steps":   5,
		"version": "versa-1.0",
	}

	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.conn = nil
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return fmt.Errorf("lokutor: send synthesis request: %w", err)
	}

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			t.conn = nil
			conn.Close(websocket.StatusAbnormalClosure, "failed to read")
			return fmt.Errorf("lokutor: read: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onChunk(payload); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return fmt.Errorf("lokutor: server error: %s", msg)
			}
		}
	}
}

// Close releases the underlying websocket connection, if any.
func (t *Lokutor) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		err := t.conn.Close(websocket.StatusNormalClosure, "")
		t.conn = nil
		return err
	}
	return nil
}
