// Package webmmux packages raw PCM into the WebM/Opus byte stream
// pkg/streamdecoder expects, in miniature MediaRecorder style: a single
// EBML header + unknown-size Segment + Tracks element up front, then a
// fresh unknown-size Cluster of SimpleBlocks per call after that. It's
// the client-side mirror of pkg/streamdecoder's webm.go walker, used by
// cmd/relaycli to talk to /ws/audio and /ws/session over a real
// microphone instead of a browser's MediaRecorder.
package webmmux

import "layeh.com/gopus"

const (
	idEBML        = 0x1A45DFA3
	idSegment     = 0x18538067
	idTracks      = 0x1654AE6B
	idTrackEntry  = 0xAE
	idTrackNumber = 0xD7
	idCodecID     = 0x86
	idCluster     = 0x1F43B675
	idSimpleBlock = 0xA3

	opusTrackNumber = 1
)

// Encoder turns int16 PCM frames into Opus packets and packages them
// into the append-only WebM/Opus chunk stream the relay server
// decodes. SampleRate must match the Opus encoder's rate; the relay
// assumes 48kHz mono throughout.
type Encoder struct {
	enc        *gopus.Encoder
	headerSent bool
}

// NewEncoder builds an Encoder for mono audio at sampleRate.
func NewEncoder(sampleRate int) (*Encoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Audio)
	if err != nil {
		return nil, err
	}
	return &Encoder{enc: enc}, nil
}

// EncodeFrame Opus-encodes one PCM frame (typically 20ms, e.g. 960
// samples at 48kHz). The encoded packet is bounded at 4000 bytes,
// generous headroom for speech at any reasonable bitrate.
func (e *Encoder) EncodeFrame(pcm []int16) ([]byte, error) {
	return e.enc.Encode(pcm, len(pcm), 4000)
}

// Chunk packages one or more already-Opus-encoded frames into a single
// WebSocket binary message. The first call additionally emits the EBML
// header, Segment open marker, and Tracks element; every later call
// emits only a fresh Cluster, since the server's Decoder re-parses the
// whole accumulated byte stream on every AddChunk and Segment's
// unknown size lets Cluster elements keep appending to it indefinitely.
func (e *Encoder) Chunk(opusFrames [][]byte) []byte {
	var out []byte
	if !e.headerSent {
		out = append(out, header()...)
		e.headerSent = true
	}
	out = append(out, cluster(opusFrames)...)
	return out
}

func header() []byte {
	ebml := elem(idEBML, []byte{0x01, 0x02, 0x03})
	trackEntry := elem(idTrackEntry, concat(
		elem(idTrackNumber, []byte{opusTrackNumber}),
		elem(idCodecID, []byte("A_OPUS")),
	))
	tracks := elem(idTracks, trackEntry)
	segmentBody := concat(tracks)
	return concat(ebml, elemUnknownSize(idSegment, segmentBody))
}

func cluster(frames [][]byte) []byte {
	var blocks []byte
	for _, f := range frames {
		body := concat([]byte{0x81}, []byte{0x00, 0x00}, []byte{0x00}, f)
		blocks = append(blocks, elem(idSimpleBlock, body)...)
	}
	return elemUnknownSize(idCluster, blocks)
}

// elem writes id, the body's size as a 4-byte vint, then body.
func elem(id uint32, body []byte) []byte {
	out := idBytes(id)
	out = append(out, vint4(uint64(len(body)))...)
	return append(out, body...)
}

// elemUnknownSize writes id followed by the single-byte "unknown size"
// marker (0xFF) instead of a real length, matching how MediaRecorder
// writes Segment and Cluster since it never knows their final size in
// advance.
func elemUnknownSize(id uint32, body []byte) []byte {
	out := idBytes(id)
	out = append(out, 0xFF)
	return append(out, body...)
}

func idBytes(id uint32) []byte {
	switch {
	case id <= 0xFF:
		return []byte{byte(id)}
	case id <= 0xFFFF:
		return []byte{byte(id >> 8), byte(id)}
	case id <= 0xFFFFFF:
		return []byte{byte(id >> 16), byte(id >> 8), byte(id)}
	default:
		return []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
	}
}

// vint4 encodes n as a 4-byte EBML size vint (the 0x10 length marker
// plus 28 bits of value), comfortably large enough for any chunk this
// encoder ever produces.
func vint4(n uint64) []byte {
	return []byte{
		0x10 | byte(n>>24),
		byte(n >> 16),
		byte(n >> 8),
		byte(n),
	}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
