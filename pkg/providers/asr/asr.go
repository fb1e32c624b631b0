// Package asr defines the Automatic Speech Recognition collaborator
// interface and its concrete cloud-backed implementations.
package asr

import "context"

// Provider transcribes a finished utterance of 16kHz mono PCM. hintLang
// is a BCP-47 code when the caller already knows the speaker's language
// (set on the session), empty otherwise, in which case the provider
// attempts detection. detectedLang echoes back whatever language the
// provider actually used, or "unknown" if it couldn't tell.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, pcm []int16, sampleRate int, hintLang string) (text string, detectedLang string, err error)
}

// UnknownLanguage is the sentinel returned when a provider cannot
// determine (or wasn't told) the utterance's language.
const UnknownLanguage = "unknown"

func int16ToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
