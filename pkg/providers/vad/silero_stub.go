//go:build !silero

package vad

import "errors"

// ErrSileroUnavailable is returned by NewSileroONNX in builds that
// don't carry the "silero" build tag (the tag that pulls in the cgo
// ONNX Runtime bindings).
var ErrSileroUnavailable = errors.New("vad: silero backend not compiled in (build with -tags silero)")

// SileroONNX is an unusable placeholder outside of -tags silero
// builds, present so cmd/relayd's provider switch compiles either way.
type SileroONNX struct{}

func NewSileroONNX(modelPath, ortLibPath string, threshold float64) (*SileroONNX, error) {
	return nil, ErrSileroUnavailable
}

func (s *SileroONNX) Name() string                      { return "silero-onnx" }
func (s *SileroONNX) IsSpeech(pcm []int16) (bool, error) { return false, ErrSileroUnavailable }
func (s *SileroONNX) Reset()                             {}
func (s *SileroONNX) Close() error                       { return nil }
