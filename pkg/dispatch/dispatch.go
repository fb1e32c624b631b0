// Package dispatch implements spec.md §4.6's Dispatcher: the per-
// utterance ASR→MT→TTS job that fans results out to the originating
// participant ("self") and, when translation applies, to their partner.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/lokutor-ai/speech-relay/pkg/audio"
	"github.com/lokutor-ai/speech-relay/pkg/providers/asr"
	"github.com/lokutor-ai/speech-relay/pkg/providers/mt"
	"github.com/lokutor-ai/speech-relay/pkg/providers/tts"
	"github.com/lokutor-ai/speech-relay/pkg/relaylog"
	"github.com/lokutor-ai/speech-relay/pkg/room"
	"github.com/lokutor-ai/speech-relay/pkg/wire"
)

// Sender delivers frames to a participant by session id, independent of
// transport. Implementations own the actual socket and are responsible
// for flipping the owning Participant's socket-open flag on failure;
// Dispatcher only needs to know whether the send happened.
type Sender interface {
	SendJSON(sessionID string, v interface{}) error
	SendBinary(sessionID string, data []byte) error
}

// Job is one ASR→MT→TTS unit of work, created on speech_end (final)
// or mid-utterance (partial) per spec.md §4.5.
type Job struct {
	UtteranceID  int64
	Final        bool
	PCM          []int16
	SampleRate   int
	LanguageHint string

	Room   *room.Room
	Origin *room.Participant

	// CurrentUtteranceID reports the session's live utterance counter
	// at send time; a partial whose UtteranceID no longer matches is
	// stale and is discarded without transmission.
	CurrentUtteranceID func() int64

	// OnComplete, if set, runs once the job has finished, whatever its
	// outcome. The conversation handler uses this to clear its local
	// "partial in flight" flag so it can submit the next one once
	// enough new audio has accumulated, mirroring the original
	// receive loop's partial_task.done() check.
	OnComplete func()
}

// Dispatcher owns the ASR/MT/TTS collaborator handles and runs Jobs on
// a worker goroutine per call, off the caller's receive loop.
type Dispatcher struct {
	asr asr.Provider
	mt  mt.Provider
	tts tts.Provider

	sender        Sender
	log           relaylog.Logger
	lockoutBuffer time.Duration

	mu       sync.Mutex
	partials map[string]partialSlot // sessionID -> its in-flight partial, if any
}

// partialSlot pairs a cancel func with a token so run's cleanup can
// tell whether it's still the current partial for its session (versus
// having already been superseded and cancelled by a newer one).
type partialSlot struct {
	token  uint64
	cancel context.CancelFunc
}

// New builds a Dispatcher. lockoutBuffer must match the value the
// Room's Turn Controller was constructed with, so the mic_locked
// frame's duration_ms agrees with the lockout the Controller actually
// enforces.
func New(asrP asr.Provider, mtP mt.Provider, ttsP tts.Provider, sender Sender, log relaylog.Logger, lockoutBuffer time.Duration) *Dispatcher {
	return &Dispatcher{
		asr:           asrP,
		mt:            mtP,
		tts:           ttsP,
		sender:        sender,
		log:           relaylog.OrDefault(log),
		lockoutBuffer: lockoutBuffer,
		partials:      make(map[string]partialSlot),
	}
}

// SubmitPartial cancels any prior in-flight partial for the job's
// session and starts a new one. Per spec.md §5, a session has at most
// one in-flight partial at a time.
func (d *Dispatcher) SubmitPartial(ctx context.Context, job Job) {
	ctx, token := d.replacePartial(job.Origin.SessionID, ctx)
	go d.run(ctx, job, token)
}

// SubmitFinal cancels any outstanding partial for the session (a final
// utterance always supersedes a partial guess at the same speech) and
// runs the job; finals are never themselves cancelled by a later
// partial or final, only by barge-in's tts_cancelled gate in stage 4.
func (d *Dispatcher) SubmitFinal(ctx context.Context, job Job) {
	d.CancelPartial(job.Origin.SessionID)
	go d.run(ctx, job, 0)
}

// CancelPartial cancels sessionID's in-flight partial job, if any. Call
// this on every speech_start and speech_end per spec.md §5's
// cancellation points 1.
func (d *Dispatcher) CancelPartial(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slot, ok := d.partials[sessionID]; ok {
		slot.cancel()
		delete(d.partials, sessionID)
	}
}

func (d *Dispatcher) replacePartial(sessionID string, parent context.Context) (context.Context, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var token uint64 = 1
	if slot, ok := d.partials[sessionID]; ok {
		slot.cancel()
		token = slot.token + 1
	}
	ctx, cancel := context.WithCancel(parent)
	d.partials[sessionID] = partialSlot{token: token, cancel: cancel}
	return ctx, token
}

// clearPartial removes sessionID's slot only if it still belongs to
// token, so a run that finishes after being superseded doesn't delete
// its successor's (already-cancelled) slot.
func (d *Dispatcher) clearPartial(sessionID string, token uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if slot, ok := d.partials[sessionID]; ok && slot.token == token {
		delete(d.partials, sessionID)
	}
}

func (d *Dispatcher) run(ctx context.Context, job Job, partialToken uint64) {
	defer func() {
		if !job.Final {
			d.clearPartial(job.Origin.SessionID, partialToken)
		}
		if job.OnComplete != nil {
			job.OnComplete()
		}
	}()

	text, usedLang, err := d.asr.Transcribe(ctx, job.PCM, job.SampleRate, job.LanguageHint)
	if err != nil {
		if ctx.Err() == nil {
			d.log.Warn("asr failed", "session", job.Origin.SessionID, "err", err)
		}
		return
	}
	if text == "" {
		return
	}
	if !job.Final && job.CurrentUtteranceID != nil && job.CurrentUtteranceID() != job.UtteranceID {
		return // stale partial, superseded while ASR was in flight
	}

	msgType := wire.TypeTranscriptFinal
	if !job.Final {
		msgType = wire.TypeTranscriptPartial
	}

	self := wire.Transcript{
		Type:      msgType,
		SessionID: job.Origin.SessionID,
		Speaker:   wire.SpeakerSelf,
		Text:      text,
		Language:  usedLang,
	}
	if job.Final {
		self.DurationSec = durationSeconds(job.PCM, job.SampleRate)
	}

	partner := job.Room.Partner(job.Origin.Role)
	var partnerPayload *wire.Transcript
	var ttsAudio []byte

	if partner != nil && partner.SocketOpen() {
		target := partner.Language
		p := wire.Transcript{
			Type:        msgType,
			SessionID:   partner.SessionID,
			Speaker:     wire.SpeakerPartner,
			SpeakerName: job.Origin.Name,
			Language:    usedLang,
			DurationSec: self.DurationSec,
		}

		if result, skip := mt.Passthrough(text, usedLang, target); skip || usedLang == asr.UnknownLanguage {
			p.Text = result
			if p.Text == "" {
				p.Text = text
			}
		} else {
			translated, err := d.mt.Translate(ctx, text, usedLang, target)
			if err != nil {
				// spec.md §7: an engine exception drops the job
				// outright; it is never relayed untranslated.
				if ctx.Err() == nil {
					d.log.Warn("mt failed", "session", job.Origin.SessionID, "err", err)
				}
				return
			}
			p.Text = text
			p.Translation = translated
			p.TargetLanguage = target
			self.Translation = translated
			self.TargetLanguage = target
		}
		partnerPayload = &p
	}

	if job.Final && partnerPayload != nil && partnerPayload.Translation != "" && !partner.TTSCancelled() {
		wav, err := d.tts.Synthesize(ctx, partnerPayload.Translation, partnerPayload.TargetLanguage)
		if err != nil {
			// spec.md §7: drop the job rather than relay text
			// without the audio it promised.
			if ctx.Err() == nil {
				d.log.Warn("tts failed", "session", partner.SessionID, "err", err)
			}
			return
		}
		if len(wav) > 0 {
			partnerPayload.HasTTS = true
			ttsAudio = wav
		}
	}

	if err := d.sender.SendJSON(job.Origin.SessionID, self); err != nil {
		d.log.Warn("send self transcript failed", "session", job.Origin.SessionID, "err", err)
	}

	if partnerPayload == nil {
		return
	}

	if partnerPayload.HasTTS && partner.TTSCancelled() {
		partnerPayload.HasTTS = false
		ttsAudio = nil
	}

	if err := d.sender.SendJSON(partner.SessionID, *partnerPayload); err != nil {
		d.log.Warn("send partner transcript failed", "session", partner.SessionID, "err", err)
		return
	}

	if !partnerPayload.HasTTS || len(ttsAudio) == 0 {
		return
	}

	if err := d.sender.SendBinary(partner.SessionID, ttsAudio); err != nil {
		d.log.Warn("send tts audio failed", "session", partner.SessionID, "err", err)
		return
	}

	ttsDuration := audio.Duration(ttsAudio)
	job.Room.Turn.LockUser(partner.Role, ttsDuration)
	totalLockMS := ttsDuration.Milliseconds() + d.lockoutBuffer.Milliseconds()
	if err := d.sender.SendJSON(partner.SessionID, wire.NewMicLocked(totalLockMS)); err != nil {
		d.log.Warn("send mic_locked failed", "session", partner.SessionID, "err", err)
	}
}

// durationSeconds converts a PCM sample count into seconds at
// sampleRate, rounded to two decimals to match the Segment Detector's
// duration field elsewhere on the wire.
func durationSeconds(pcm []int16, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	sec := float64(len(pcm)) / float64(sampleRate)
	return float64(int(sec*100+0.5)) / 100
}
