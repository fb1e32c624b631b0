// Package streamdecoder turns a WebM/Opus byte stream, delivered as a
// series of MediaRecorder chunks, into 16 kHz mono PCM suitable for VAD
// and ASR.
package streamdecoder

import (
	"errors"
	"fmt"

	"layeh.com/gopus"
)

// Browser MediaRecorder always encodes Opus at 48 kHz. Decoder always
// decodes packets as a single channel; the stream's channel count is
// not read.
const (
	opusSampleRate   = 48000
	opusMaxFrameSize = 5760 // 120ms @ 48kHz, the longest valid Opus frame
)

// errDecodeIncomplete names the "not enough data yet" condition. It is
// never returned to callers: per the wire protocol, a chunk that doesn't
// yet contain a decodable frame simply yields zero samples, not an
// error.
var errDecodeIncomplete = errors.New("streamdecoder: insufficient data buffered")

// Decoder incrementally decodes a WebM/Opus byte stream into PCM. Each
// AddChunk call fully re-parses and re-decodes the accumulated buffer
// (the EBML stream does not support seeking into the middle of a
// Cluster) and returns only the samples not yet handed back, mirroring
// how a browser-facing decoder must treat an append-only stream whose
// container framing isn't known to be closed off.
//
// A fresh decode on every call means the decoder's internal concealment
// state restarts each time too; this trades a little quality for
// simplicity and is judged acceptable for the buffered, sub-second
// chunk sizes this relay expects.
type Decoder struct {
	targetSampleRate int
	buffer           []byte
	delivered        int
}

// New creates a Decoder that emits mono PCM at targetSampleRate.
// opusSampleRate (48kHz) must be evenly divisible by targetSampleRate;
// 16kHz (divisor 3) is the only rate the relay actually uses.
func New(targetSampleRate int) (*Decoder, error) {
	if targetSampleRate <= 0 || opusSampleRate%targetSampleRate != 0 {
		return nil, fmt.Errorf("streamdecoder: target rate %d must evenly divide %d", targetSampleRate, opusSampleRate)
	}
	return &Decoder{targetSampleRate: targetSampleRate}, nil
}

// AddChunk appends data to the buffered stream and returns the PCM
// samples (int16, mono) decoded since the previous call. An empty
// return is the normal outcome while the stream hasn't yet produced a
// complete frame; it is not an error.
func (d *Decoder) AddChunk(data []byte) ([]int16, error) {
	d.buffer = append(d.buffer, data...)

	packets := extractOpusPackets(d.buffer)
	if len(packets) == 0 {
		return nil, nil
	}

	pcm, channels, err := decodeAll(packets)
	if err != nil {
		// Malformed so far is expected mid-stream (a Cluster cut off
		// mid-frame); treat it the same as "nothing decodable yet".
		return nil, nil
	}

	mono := downmix(pcm, channels)
	decimated := decimate(mono, opusSampleRate/d.targetSampleRate)

	if d.delivered > len(decimated) {
		d.delivered = len(decimated)
	}
	fresh := decimated[d.delivered:]
	d.delivered = len(decimated)

	out := make([]int16, len(fresh))
	copy(out, fresh)
	return out, nil
}

// Reset clears all buffered bytes and delivery state, for reuse across
// sessions without reallocating a Decoder.
func (d *Decoder) Reset() {
	d.buffer = d.buffer[:0]
	d.delivered = 0
}

// DecodeArchive fully decodes a complete WebM/Opus byte stream (the
// concatenation of every chunk a session ever received) to mono PCM at
// the native 48kHz Opus rate, for §6.3's archival WAV, which is kept at
// full quality rather than the 16kHz the VAD pipeline downsamples to.
func DecodeArchive(raw []byte) ([]int16, error) {
	packets := extractOpusPackets(raw)
	if len(packets) == 0 {
		return nil, nil
	}
	pcm, channels, err := decodeAll(packets)
	if err != nil {
		return nil, fmt.Errorf("streamdecoder: decode archive: %w", err)
	}
	return downmix(pcm, channels), nil
}

// decodeAll decodes every buffered Opus packet with a fresh decoder,
// assuming a single-channel capture. Browser microphone capture is
// overwhelmingly mono; a stereo source would need its channel count
// negotiated out of the WebM CodecPrivate data, which this relay does
// not currently parse.
func decodeAll(packets [][]byte) ([]int16, int, error) {
	channels := 1
	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return nil, 0, fmt.Errorf("streamdecoder: create opus decoder: %w", err)
	}

	var pcm []int16
	for _, p := range packets {
		frame, err := dec.Decode(p, opusMaxFrameSize, false)
		if err != nil {
			return nil, 0, fmt.Errorf("streamdecoder: opus decode: %w", err)
		}
		pcm = append(pcm, frame...)
	}
	return pcm, channels, nil
}

// downmix averages interleaved multi-channel PCM down to mono.
func downmix(pcm []int16, channels int) []int16 {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(pcm[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// decimate takes every stride'th sample, matching the original
// pipeline's naive 48kHz->16kHz downsample (no anti-aliasing filter;
// acceptable for speech VAD/ASR, not for playback quality).
func decimate(pcm []int16, stride int) []int16 {
	if stride <= 1 {
		return pcm
	}
	out := make([]int16, 0, len(pcm)/stride+1)
	for i := 0; i < len(pcm); i += stride {
		out = append(out, pcm[i])
	}
	return out
}
