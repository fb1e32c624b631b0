// Package session owns the per-WebSocket decode/segment pipeline:
// spec.md §4.3's Session Pipeline, binding a Stream Decoder, a VAD
// Provider, and a Segment Detector behind one mutex owned by the
// handler goroutine that reads from the socket.
package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/lokutor-ai/speech-relay/pkg/providers/vad"
	"github.com/lokutor-ai/speech-relay/pkg/segment"
	"github.com/lokutor-ai/speech-relay/pkg/streamdecoder"
)

// Event is emitted by ProcessChunk whenever a chunk crosses a speech
// boundary. UtterancePCM is populated only on SpeechEnd, a snapshot of
// everything accumulated since the matching SpeechStart.
type Event struct {
	Type            segment.EventType
	DurationSeconds float64
	UtterancePCM    []int16
}

// Pipeline is one per WebSocket connection. Its exported methods other
// than the metadata getters are intended to be called only from the
// single goroutine reading that socket; CurrentUtterancePCM and
// IsSpeaking are read-only snapshots safe to call from a Room's
// goroutine under its own synchronization because they take a lock.
type Pipeline struct {
	ID       string
	Language string

	decoder  *streamdecoder.Decoder
	detector *segment.Detector
	vad      vad.Provider

	chunkSize int

	mu               sync.Mutex
	rawLog           []byte
	pcmBuffer        []int16
	currentUtterance []int16
}

// New builds a Pipeline for one session. sampleRate/chunkSize/
// silenceThresholdMS configure the Segment Detector (spec.md §4.2);
// vadProvider is the per-session classifier instance (each session
// must own its own, since Silero-backed providers carry RNN state).
func New(language string, sampleRate, chunkSize, silenceThresholdMS int, vadProvider vad.Provider) (*Pipeline, error) {
	dec, err := streamdecoder.New(sampleRate)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		ID:        uuid.NewString(),
		Language:  language,
		decoder:   dec,
		detector:  segment.New(silenceThresholdMS, sampleRate, chunkSize),
		vad:       vadProvider,
		chunkSize: chunkSize,
	}, nil
}

// ProcessChunk decodes one raw WebM fragment, advances the VAD/Detector
// state machine over every complete chunkSize window it produces, and
// returns the boundary events observed, in order. Multiple events in
// one call are possible if enough PCM arrived to close out one
// utterance and start another within the same fragment.
func (p *Pipeline) ProcessChunk(raw []byte) ([]Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rawLog = append(p.rawLog, raw...)

	pcm, err := p.decoder.AddChunk(raw)
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, nil
	}
	p.pcmBuffer = append(p.pcmBuffer, pcm...)

	var events []Event
	for len(p.pcmBuffer) >= p.chunkSize {
		window := p.pcmBuffer[:p.chunkSize]
		p.pcmBuffer = p.pcmBuffer[p.chunkSize:]

		isSpeech, err := p.vad.IsSpeech(window)
		if err != nil {
			return events, err
		}

		ev := p.detector.Update(isSpeech)

		if p.detector.IsSpeaking() {
			if ev.Type == segment.SpeechStart {
				p.currentUtterance = append([]int16(nil), window...)
			} else {
				p.currentUtterance = append(p.currentUtterance, window...)
			}
		}

		if ev.Type == segment.NoEvent {
			continue
		}

		out := Event{Type: ev.Type, DurationSeconds: ev.DurationSeconds}
		if ev.Type == segment.SpeechEnd {
			out.UtterancePCM = p.currentUtterance
			p.currentUtterance = nil
		}
		events = append(events, out)
	}

	return events, nil
}

// CurrentUtterancePCM returns a copy of the in-progress utterance
// buffer, for the Room's partial-dispatch threshold check (spec.md
// §4.5: "at least 1.0 x sample_rate samples").
func (p *Pipeline) CurrentUtterancePCM() []int16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int16, len(p.currentUtterance))
	copy(out, p.currentUtterance)
	return out
}

// IsSpeaking reports whether the Detector currently believes an
// utterance is open.
func (p *Pipeline) IsSpeaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detector.IsSpeaking()
}

// RawLog returns a copy of every raw WebM fragment received so far, in
// order, for the §6.3 archival write at session close.
func (p *Pipeline) RawLog() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.rawLog))
	copy(out, p.rawLog)
	return out
}

// Close resets the VAD provider's per-stream state. It does not touch
// the raw log; callers archive it first via RawLog.
func (p *Pipeline) Close() {
	p.vad.Reset()
}
