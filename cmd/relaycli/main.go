// Command relaycli is a local duplex-audio harness for relayd: it
// captures the microphone, packages it into the same WebM/Opus chunk
// stream a browser's MediaRecorder would produce, and dials either
// /ws/audio (solo) or /ws/session (conversation) to exercise the relay
// without a browser. Adapted from the teacher's cmd/agent/main.go
// malgo device loop, which drove a local orchestrator directly instead
// of a remote WebSocket.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"
	"github.com/lokutor-ai/speech-relay/pkg/webmmux"
)

const (
	sampleRate = 48000
	channels   = 1
	frameSize  = 960 // 20ms @ 48kHz
	chunkMS    = 200 // ms of captured audio batched per WebSocket message
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	addr := flag.String("addr", envOr("RELAY_ADDR", "localhost:8080"), "relay server host:port")
	mode := flag.String("mode", "solo", "solo or conversation")
	lang := flag.String("lang", "en", "speaker language")
	targetLang := flag.String("target", "es", "solo mode: translation target language")
	name := flag.String("name", "cli-user", "conversation mode: display name")
	roomID := flag.String("room", "", "conversation mode: room id to join (blank creates a new room)")
	partnerLang := flag.String("partner-lang", "es", "conversation mode: partner's language when creating a room")
	flag.Parse()

	wsURL := buildURL(*addr, *mode, *lang, *targetLang, *name, *roomID, *partnerLang)
	fmt.Printf("Connecting to %s ...\n", wsURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	go readLoop(ctx, conn)

	enc, err := webmmux.NewEncoder(sampleRate)
	if err != nil {
		log.Fatalf("webmmux encoder: %v", err)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	var (
		mu          sync.Mutex
		pendingPCM  []int16
		pendingSent int
	)

	sendTicker := time.NewTicker(time.Duration(chunkMS) * time.Millisecond)
	defer sendTicker.Stop()

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput == nil {
			return
		}
		mu.Lock()
		for i := 0; i+1 < len(pInput); i += 2 {
			sample := int16(pInput[i]) | int16(pInput[i+1])<<8
			pendingPCM = append(pendingPCM, sample)
		}
		mu.Unlock()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = channels
	deviceConfig.SampleRate = sampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		log.Fatal(err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Microphone live. Press Ctrl+C to exit.")

	go func() {
		for range sendTicker.C {
			mu.Lock()
			n := len(pendingPCM) - pendingSent
			if n <= 0 {
				mu.Unlock()
				continue
			}
			fresh := append([]int16{}, pendingPCM[pendingSent:]...)
			pendingSent = len(pendingPCM)
			mu.Unlock()

			var frames [][]byte
			for off := 0; off+frameSize <= len(fresh); off += frameSize {
				packet, err := enc.EncodeFrame(fresh[off : off+frameSize])
				if err != nil {
					log.Printf("opus encode: %v", err)
					continue
				}
				frames = append(frames, packet)
			}
			if len(frames) == 0 {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageBinary, enc.Chunk(frames)); err != nil {
				return
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")
}

func buildURL(addr, mode, lang, targetLang, name, roomID, partnerLang string) string {
	q := url.Values{}
	var path string
	switch mode {
	case "conversation":
		path = "/ws/session"
		q.Set("name", name)
		if roomID != "" {
			q.Set("room_id", roomID)
		} else {
			q.Set("my_lang", lang)
			q.Set("partner_lang", partnerLang)
		}
	default:
		path = "/ws/audio"
		q.Set("lang", lang)
		q.Set("target_lang", targetLang)
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: path, RawQuery: q.Encode()}
	return u.String()
}

// readLoop prints every JSON event the relay sends back: transcripts,
// translations, and room/turn notifications alike.
func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var m map[string]interface{}
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		fmt.Printf("\r\033[K[%v] %v\n", m["type"], m)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
