package transport

import (
	"context"
	"encoding/json"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/speech-relay/pkg/audio"
	ourvad "github.com/lokutor-ai/speech-relay/pkg/providers/vad"
	"github.com/lokutor-ai/speech-relay/pkg/relayconfig"
	"github.com/lokutor-ai/speech-relay/pkg/relaylog"
	"layeh.com/gopus"
)

// --- fake collaborators, grounded on pkg/dispatch's own test fakes ---

type fakeASR struct {
	text string
	lang string
}

func (f *fakeASR) Name() string { return "fake-asr" }
func (f *fakeASR) Transcribe(ctx context.Context, pcm []int16, sampleRate int, hint string) (string, string, error) {
	return f.text, f.lang, nil
}

type fakeMT struct{ prefix string }

func (f *fakeMT) Name() string { return "fake-mt" }
func (f *fakeMT) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	return f.prefix + text, nil
}

type fakeTTS struct{ wav []byte }

func (f *fakeTTS) Name() string { return "fake-tts" }
func (f *fakeTTS) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	return f.wav, nil
}

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := relayconfig.Config{
		SampleRate:         16000,
		ChunkSize:          512,
		SilenceThresholdMS: 100,
		LockoutBufferMS:    20,
		GraceAMS:           200,
		GraceBMS:           200,
	}
	wav := audio.NewWavBuffer(make([]byte, 1600*2), 16000)
	srv := NewServer(
		cfg,
		&fakeASR{text: "hello", lang: "en"},
		&fakeMT{prefix: "[es] "},
		&fakeTTS{wav: wav},
		func() ourvad.Provider { return ourvad.NewRMS(0.05) },
		&relaylog.NoOpLogger{},
		t.TempDir(),
		t.TempDir(),
	)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func wsURL(httpURL, path string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path
}

// --- WebM/Opus test fixture, duplicated from pkg/session's test helpers
// since they are unexported and this lives in a different package.

const testOpusRate = 48000

func vintEncode(n uint64, width int) []byte {
	b := make([]byte, width)
	marker := byte(0x80) >> uint(width-1)
	b[0] = marker | byte(n>>uint(8*(width-1)))
	for i := 1; i < width; i++ {
		b[i] = byte(n >> uint(8*(width-1-i)))
	}
	return b
}

func elem(id, body []byte) []byte {
	out := append([]byte{}, id...)
	out = append(out, vintEncode(uint64(len(body)), 4)...)
	return append(out, body...)
}

func elemUnknown(id, body []byte) []byte {
	out := append([]byte{}, id...)
	out = append(out, 0xFF)
	return append(out, body...)
}

var (
	bEBML        = []byte{0x1A, 0x45, 0xDF, 0xA3}
	bTracks      = []byte{0x16, 0x54, 0xAE, 0x6B}
	bTrackEntry  = []byte{0xAE}
	bTrackNumber = []byte{0xD7}
	bCodecID     = []byte{0x86}
	bCluster     = []byte{0x1F, 0x43, 0xB6, 0x75}
	bSimpleBlock = []byte{0xA3}
	bSegment     = []byte{0x18, 0x53, 0x80, 0x67}
)

func buildWebM(packets [][]byte) []byte {
	header := elem(bEBML, []byte{0x01, 0x02, 0x03})
	trackEntry := elem(bTrackEntry, append(
		elem(bTrackNumber, []byte{0x01}),
		elem(bCodecID, []byte("A_OPUS"))...,
	))
	tracks := elem(bTracks, trackEntry)

	var blocks []byte
	for _, p := range packets {
		body := append(vintEncode(1, 1), 0x00, 0x00, 0x00)
		body = append(body, p...)
		blocks = append(blocks, elem(bSimpleBlock, body)...)
	}
	cluster := elemUnknown(bCluster, blocks)
	seg := elemUnknown(bSegment, append(tracks, cluster...))

	out := append([]byte{}, header...)
	return append(out, seg...)
}

func toneFrames(t *testing.T, freq, amp float64, numFrames, frameSize int) [][]byte {
	t.Helper()
	enc, err := gopus.NewEncoder(testOpusRate, 1, gopus.Audio)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	var packets [][]byte
	for f := 0; f < numFrames; f++ {
		frame := make([]int16, frameSize)
		for i := range frame {
			n := f*frameSize + i
			tm := float64(n) / float64(testOpusRate)
			frame[i] = int16(amp * 32767 * math.Sin(2*math.Pi*freq*tm))
		}
		data, err := enc.Encode(frame, frameSize, 4000)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		packets = append(packets, data)
	}
	return packets
}

func utteranceWebM(t *testing.T) []byte {
	t.Helper()
	const frameSize = 960
	loud := toneFrames(t, 440, 0.6, 25, frameSize)
	quiet := toneFrames(t, 440, 0.0, 15, frameSize)
	return buildWebM(append(loud, quiet...))
}

func readUntilType(t *testing.T, conn *websocket.Conn, wantType string, timeout time.Duration) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for {
		var m map[string]interface{}
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			t.Fatalf("waiting for %q: %v", wantType, err)
		}
		if m["type"] == wantType {
			return m
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := testServer(t)
	resp, err := ts.Client().Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %+v", body)
	}
}

func TestRecordingsEndpointStartsEmpty(t *testing.T) {
	_, ts := testServer(t)
	resp, err := ts.Client().Get(ts.URL + "/recordings")
	if err != nil {
		t.Fatalf("GET /recordings: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&body)
	if recs, ok := body["recordings"].([]interface{}); !ok || len(recs) != 0 {
		t.Errorf("expected an empty recordings list, got %+v", body)
	}
}

func TestSoloSessionProducesTranscriptAndTTS(t *testing.T) {
	_, ts := testServer(t)
	conn, _, err := websocket.Dial(context.Background(), wsURL(ts.URL, "/ws/audio?lang=en&target_lang=es&tts=true"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(context.Background(), websocket.MessageBinary, utteranceWebM(t)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	m := readUntilType(t, conn, "transcript", 5*time.Second)
	if m["text"] != "hello" {
		t.Errorf("expected text hello, got %v", m["text"])
	}
	if m["translation"] != "[es] hello" {
		t.Errorf("expected translated text, got %v", m["translation"])
	}
	if m["has_tts"] != true {
		t.Errorf("expected has_tts true, got %+v", m)
	}
}

func TestConversationCreateAndJoinHandshake(t *testing.T) {
	_, ts := testServer(t)

	creator, _, err := websocket.Dial(context.Background(), wsURL(ts.URL, "/ws/session?name=alice&my_lang=en&partner_lang=es"), nil)
	if err != nil {
		t.Fatalf("Dial creator: %v", err)
	}
	defer creator.Close(websocket.StatusNormalClosure, "")

	created := readUntilType(t, creator, "room_created", 2*time.Second)
	roomID, _ := created["room_id"].(string)
	if roomID == "" {
		t.Fatal("expected a non-empty room_id")
	}

	joiner, _, err := websocket.Dial(context.Background(), wsURL(ts.URL, "/ws/session?name=bob&room_id="+roomID), nil)
	if err != nil {
		t.Fatalf("Dial joiner: %v", err)
	}
	defer joiner.Close(websocket.StatusNormalClosure, "")

	joined := readUntilType(t, joiner, "room_joined", 2*time.Second)
	if joined["partner_name"] != "alice" {
		t.Errorf("expected joiner to see partner_name alice, got %+v", joined)
	}

	notified := readUntilType(t, creator, "partner_joined", 2*time.Second)
	if notified["name"] != "bob" {
		t.Errorf("expected creator to be notified of bob joining, got %+v", notified)
	}
}
