// Package relayerr centralizes the sentinel errors used across the relay,
// following the teacher's errors.go convention of one sentinel per
// recoverable failure kind, wrapped with %w at the call site.
package relayerr

import "errors"

var (
	// ErrASRFailure is returned when the ASR collaborator call fails.
	ErrASRFailure = errors.New("asr transcription failed")

	// ErrMTFailure is returned when the MT collaborator call fails.
	ErrMTFailure = errors.New("machine translation failed")

	// ErrTTSFailure is returned when the TTS collaborator call fails.
	ErrTTSFailure = errors.New("speech synthesis failed")

	// ErrSocketClosed is returned by a send attempt on a socket whose
	// open flag has already flipped false.
	ErrSocketClosed = errors.New("socket closed")

	// ErrRoomNotFound is returned when a join references an unknown
	// room code.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomFull is returned when a third participant attempts to
	// join a room that already has two.
	ErrRoomFull = errors.New("room is full")

	// ErrInvalidLanguage is returned by strict language validation
	// paths; most callers instead silently coerce to a default per
	// spec and never see this.
	ErrInvalidLanguage = errors.New("invalid language code")

	// ErrEmptyTranscript marks an ASR result with no recognizable
	// speech; the job is dropped without further processing.
	ErrEmptyTranscript = errors.New("transcription returned empty text")
)
