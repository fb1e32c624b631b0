// Package tts defines the Text-to-Speech collaborator interface.
package tts

import "context"

// Provider synthesizes text into a complete WAV blob for one language.
// Unlike a voice-call agent, this relay never needs to start playback
// before synthesis finishes, so the streaming-chunk callback the
// teacher's client exposed collapses to a single buffered call here.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}
