package transport

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/websocket"
	"github.com/lokutor-ai/speech-relay/pkg/audio"
	"github.com/lokutor-ai/speech-relay/pkg/providers/asr"
	"github.com/lokutor-ai/speech-relay/pkg/segment"
	"github.com/lokutor-ai/speech-relay/pkg/session"
	"github.com/lokutor-ai/speech-relay/pkg/streamdecoder"
	"github.com/lokutor-ai/speech-relay/pkg/wire"
)

// handleAudio serves the solo `/ws/audio` endpoint. There is no Room
// and no Turn Controller: a solo session only ever talks to itself,
// with ASR feeding an optional MT pass and, when enabled, TTS whose
// output is archived to disk rather than streamed back (spec.md §6.1,
// §6.3), mirroring original_source's audio_websocket handler.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	q := r.URL.Query()
	langHint := soloLanguage(q.Get("lang"))
	targetLang := soloLanguage(q.Get("target_lang"))
	ttsEnabled := q.Get("tts") != "false"

	vadProvider := s.newVAD()
	pipeline, err := session.New(langHint, s.cfg.SampleRate, s.cfg.ChunkSize, s.cfg.SilenceThresholdMS, vadProvider)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "pipeline init failed")
		return
	}

	sess := &soloSession{
		id:         pipeline.ID,
		srv:        s,
		langHint:   langHint,
		targetLang: targetLang,
		ttsEnabled: ttsEnabled && targetLang != "",
	}

	s.register(sess.id, conn, nil)
	s.log.Info("solo session opened", "session", sess.id, "lang", langHint, "target", targetLang)

	ctx := r.Context()
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		if msgType != websocket.MessageBinary {
			continue
		}

		events, err := pipeline.ProcessChunk(data)
		if err != nil {
			s.log.Warn("solo decode failed", "session", sess.id, "err", err)
			continue
		}

		for _, ev := range events {
			switch ev.Type {
			case segment.SpeechStart:
				sess.beginUtterance()
			case segment.SpeechEnd:
				uid := sess.currentUtteranceID()
				go sess.runJob(context.Background(), ev.UtterancePCM, true, uid)
			}
		}

		if pipeline.IsSpeaking() {
			pcm := pipeline.CurrentUtterancePCM()
			if len(pcm) >= s.cfg.SampleRate && sess.tryBeginPartial() {
				uid := sess.currentUtteranceID()
				go func() {
					defer sess.endPartial()
					sess.runJob(context.Background(), pcm, false, uid)
				}()
			}
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
	s.unregister(sess.id)
	pipeline.Close()
	s.archiveRaw(sess.id, pipeline.RawLog())
	sess.archiveTTS()

	s.log.Info("solo session closed", "session", sess.id)
}

// soloSession tracks the bits of per-connection state a solo session
// needs beyond the Session Pipeline: the monotonic utterance counter
// used to discard stale partials, the single in-flight-partial flag,
// and the accumulated TTS PCM awaiting the session-close archive
// write.
type soloSession struct {
	id         string
	srv        *Server
	langHint   string
	targetLang string
	ttsEnabled bool

	mu          sync.Mutex
	utteranceID int64
	partialBusy bool

	ttsMu         sync.Mutex
	ttsPCM        []int16
	ttsSampleRate int
}

// beginUtterance advances the utterance counter and returns the new
// value. Called on speech_start only, so a late partial still
// referencing the previous utterance is recognized as stale the moment
// the next one begins.
func (ss *soloSession) beginUtterance() int64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.utteranceID++
	return ss.utteranceID
}

func (ss *soloSession) currentUtteranceID() int64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.utteranceID
}

func (ss *soloSession) tryBeginPartial() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.partialBusy {
		return false
	}
	ss.partialBusy = true
	return true
}

func (ss *soloSession) endPartial() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.partialBusy = false
}

// runJob is the solo equivalent of pkg/dispatch's per-utterance job:
// ASR, an optional MT pass whose result is attached to the single
// payload sent back to the speaker, and for final utterances, an
// optional TTS pass whose audio is appended to the session's TTS
// archive instead of streamed.
func (ss *soloSession) runJob(ctx context.Context, pcm []int16, final bool, utteranceID int64) {
	s := ss.srv
	text, usedLang, err := s.asr.Transcribe(ctx, pcm, s.cfg.SampleRate, ss.langHint)
	if err != nil {
		s.log.Warn("solo asr failed", "session", ss.id, "err", err)
		return
	}
	if text == "" {
		return
	}
	if !final && ss.currentUtteranceID() != utteranceID {
		return
	}

	msgType := wire.TypeTranscriptFinal
	if !final {
		msgType = wire.TypeTranscriptPartial
	}
	payload := wire.Transcript{
		Type:      msgType,
		SessionID: ss.id,
		Text:      text,
		Language:  usedLang,
	}
	if final {
		payload.DurationSec = durationSeconds(pcm, s.cfg.SampleRate)
	}

	if ss.targetLang != "" && usedLang != ss.targetLang && usedLang != asr.UnknownLanguage {
		translated, err := s.mt.Translate(ctx, text, usedLang, ss.targetLang)
		if err != nil {
			s.log.Warn("solo mt failed", "session", ss.id, "err", err)
		} else if translated != "" {
			payload.Translation = translated
			payload.TargetLanguage = ss.targetLang
		}
	}

	if final && ss.ttsEnabled && payload.Translation != "" {
		wav, err := s.tts.Synthesize(ctx, payload.Translation, ss.targetLang)
		if err != nil {
			s.log.Warn("solo tts failed", "session", ss.id, "err", err)
		} else if len(wav) > 0 {
			payload.HasTTS = true
			ss.appendTTS(wav)
		}
	}

	if err := s.SendJSON(ss.id, payload); err != nil {
		s.log.Warn("solo send failed", "session", ss.id, "err", err)
	}
}

func (ss *soloSession) appendTTS(wav []byte) {
	data, err := audio.ExtractData(wav)
	if err != nil {
		return
	}
	header, err := audio.ParseHeader(wav)
	if err != nil {
		return
	}
	ss.ttsMu.Lock()
	defer ss.ttsMu.Unlock()
	ss.ttsSampleRate = int(header.SampleRate)
	ss.ttsPCM = append(ss.ttsPCM, audio.BytesToPCM(data)...)
}

// archiveTTS writes the concatenated TTS WAV per spec.md §6.3. A no-op
// for sessions that never enabled TTS or never produced any audio.
func (ss *soloSession) archiveTTS() {
	ss.ttsMu.Lock()
	pcm := ss.ttsPCM
	rate := ss.ttsSampleRate
	ss.ttsMu.Unlock()

	if len(pcm) == 0 || rate == 0 {
		return
	}
	wav := audio.NewWavBuffer(audio.PCMToBytes(pcm), rate)
	name := fmt.Sprintf("%s_%s.wav", ss.id, ss.targetLang)
	path := filepath.Join(ss.srv.ttsArchiveDir, name)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		ss.srv.log.Warn("tts archive write failed", "session", ss.id, "err", err)
	}
}

// archiveRaw decodes a session's full WebM/Opus byte stream at native
// quality and writes it as a WAV, per spec.md §6.3.
func (s *Server) archiveRaw(sessionID string, raw []byte) {
	if len(raw) == 0 {
		return
	}
	pcm, err := streamdecoder.DecodeArchive(raw)
	if err != nil {
		s.log.Warn("archive decode failed", "session", sessionID, "err", err)
		return
	}
	if len(pcm) == 0 {
		return
	}
	wav := audio.NewWavBuffer(audio.PCMToBytes(pcm), 48000)
	path := filepath.Join(s.recordingsDir, sessionID+".wav")
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		s.log.Warn("recording write failed", "session", sessionID, "err", err)
	}
}

func durationSeconds(pcm []int16, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	sec := float64(len(pcm)) / float64(sampleRate)
	return float64(int(sec*100+0.5)) / 100
}
