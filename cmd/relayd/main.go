// Command relayd runs the speech relay server: the solo and
// conversation WebSocket endpoints plus their REST diagnostics,
// wired per spec.md §6 onto whichever ASR/MT/TTS/VAD backends the
// environment selects.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lokutor-ai/speech-relay/pkg/providers/asr"
	"github.com/lokutor-ai/speech-relay/pkg/providers/mt"
	"github.com/lokutor-ai/speech-relay/pkg/providers/tts"
	"github.com/lokutor-ai/speech-relay/pkg/providers/vad"
	"github.com/lokutor-ai/speech-relay/pkg/relayconfig"
	"github.com/lokutor-ai/speech-relay/pkg/relaylog"
	"github.com/lokutor-ai/speech-relay/pkg/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	cfg := relayconfig.Load()
	logger := relaylog.NewStd(nil)

	asrP := selectASR(cfg)
	mtP := selectMT(cfg)
	ttsP := selectTTS(cfg)
	newVAD := selectVADFactory(cfg)

	srv := transport.NewServer(cfg, asrP, mtP, ttsP, newVAD, logger, cfg.RecordingsDir, cfg.TTSArchiveDir)

	fmt.Printf("Configured: ASR=%s | MT=%s | TTS=%s | VAD=%s\n", cfg.ASRProvider, cfg.MTProvider, cfg.TTSProvider, cfg.VADProvider)
	fmt.Printf("Listening on %s\n", cfg.ListenAddr)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Routes(),
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func selectASR(cfg relayconfig.Config) asr.Provider {
	switch cfg.ASRProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai ASR")
		}
		return asr.NewOpenAI(cfg.OpenAIAPIKey, "whisper-1")
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			log.Fatal("Error: DEEPGRAM_API_KEY must be set for deepgram ASR")
		}
		return asr.NewDeepgram(cfg.DeepgramAPIKey)
	case "assemblyai":
		if cfg.AssemblyAIAPIKey == "" {
			log.Fatal("Error: ASSEMBLYAI_API_KEY must be set for assemblyai ASR")
		}
		return asr.NewAssemblyAI(cfg.AssemblyAIAPIKey)
	case "groq":
		fallthrough
	default:
		if cfg.GroqAPIKey == "" {
			log.Fatal("Error: GROQ_API_KEY must be set for groq ASR")
		}
		return asr.NewGroq(cfg.GroqAPIKey, "whisper-large-v3-turbo")
	}
}

func selectMT(cfg relayconfig.Config) mt.Provider {
	switch cfg.MTProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatal("Error: ANTHROPIC_API_KEY must be set for anthropic MT")
		}
		return mt.NewAnthropic(cfg.AnthropicAPIKey, "claude-3-5-sonnet-20241022")
	case "google":
		if cfg.GoogleAPIKey == "" {
			log.Fatal("Error: GOOGLE_API_KEY must be set for google MT")
		}
		return mt.NewGoogle(cfg.GoogleAPIKey, "gemini-1.5-flash")
	case "openai":
		fallthrough
	default:
		if cfg.OpenAIAPIKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai MT")
		}
		return mt.NewOpenAI(cfg.OpenAIAPIKey, "gpt-4o-mini")
	}
}

func selectTTS(cfg relayconfig.Config) tts.Provider {
	if cfg.LokutorAPIKey == "" {
		log.Fatal("Error: LOKUTOR_API_KEY must be set.")
	}
	return tts.NewLokutor(cfg.LokutorAPIKey)
}

func selectVADFactory(cfg relayconfig.Config) func() vad.Provider {
	switch cfg.VADProvider {
	case "silero-onnx":
		return func() vad.Provider {
			p, err := vad.NewSileroONNX(cfg.SileroModelPath, cfg.SileroLibPath, 0.5)
			if err != nil {
				log.Fatalf("Error: failed to load silero VAD: %v", err)
			}
			return p
		}
	case "rms":
		fallthrough
	default:
		return func() vad.Provider { return vad.NewRMS(0.02) }
	}
}
