// Package segment turns a stream of per-chunk VAD decisions into
// higher-level speech_start/speech_end boundary events.
package segment

import "math"

// EventType names the kind of boundary Detector.Update observed.
type EventType int

const (
	// NoEvent means the chunk didn't cross a speech boundary.
	NoEvent EventType = iota
	SpeechStart
	SpeechEnd
)

func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

// Event is the result of one Detector.Update call.
type Event struct {
	Type EventType
	// DurationSeconds is set only on SpeechEnd: the length of the
	// utterance that just closed, rounded to two decimal places to
	// match the wire protocol's "duration" field.
	DurationSeconds float64
}

// Detector accumulates per-chunk VAD is-speech decisions and reports
// speech_start the first chunk speech is detected, and speech_end once
// enough consecutive silent chunks have elapsed to cross
// silenceThresholdMS. One Detector exists per session.
type Detector struct {
	silenceThresholdMS int
	sampleRate         int
	chunkSize          int

	silenceChunksThreshold int

	isSpeaking        bool
	silentChunks      int
	speechStartChunk  int
	totalSpeechChunks int
}

// New creates a Detector. chunkSize is the number of PCM samples passed
// to each Update call; sampleRate lets the detector convert chunk
// counts back into wall-clock duration.
func New(silenceThresholdMS, sampleRate, chunkSize int) *Detector {
	d := &Detector{
		silenceThresholdMS: silenceThresholdMS,
		sampleRate:         sampleRate,
		chunkSize:          chunkSize,
	}
	chunkDurationMS := float64(chunkSize) / float64(sampleRate) * 1000
	d.silenceChunksThreshold = int(math.Ceil(float64(silenceThresholdMS) / chunkDurationMS))
	if d.silenceChunksThreshold < 1 {
		d.silenceChunksThreshold = 1
	}
	return d
}

// Update folds in the next chunk's VAD decision and returns whatever
// boundary event, if any, that decision produced.
func (d *Detector) Update(isSpeech bool) Event {
	if isSpeech {
		d.silentChunks = 0

		if !d.isSpeaking {
			d.isSpeaking = true
			d.speechStartChunk = d.totalSpeechChunks
			d.totalSpeechChunks++
			return Event{Type: SpeechStart}
		}
		d.totalSpeechChunks++
		return Event{Type: NoEvent}
	}

	if !d.isSpeaking {
		return Event{Type: NoEvent}
	}

	d.silentChunks++
	if d.silentChunks < d.silenceChunksThreshold {
		return Event{Type: NoEvent}
	}

	chunkSeconds := float64(d.chunkSize) / float64(d.sampleRate)
	duration := float64(d.totalSpeechChunks-d.speechStartChunk) * chunkSeconds

	d.isSpeaking = false
	d.silentChunks = 0
	return Event{Type: SpeechEnd, DurationSeconds: round2(duration)}
}

// IsSpeaking reports whether the detector currently believes an
// utterance is in progress.
func (d *Detector) IsSpeaking() bool {
	return d.isSpeaking
}

// Reset returns the detector to its initial state, for reuse across
// sessions without reallocating.
func (d *Detector) Reset() {
	d.isSpeaking = false
	d.silentChunks = 0
	d.speechStartChunk = 0
	d.totalSpeechChunks = 0
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
