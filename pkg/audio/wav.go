package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// PCMToBytes packs mono 16-bit samples little-endian, the layout
// NewWavBuffer expects.
func PCMToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToPCM unpacks little-endian 16-bit samples, the inverse of
// PCMToBytes. A trailing odd byte is ignored.
func BytesToPCM(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return out
}

var ErrNotWav = errors.New("audio: not a valid WAV container")

// Header holds the fields of a canonical PCM WAV file needed to compute
// playback duration, read back out of a blob produced by NewWavBuffer (or
// any conforming 16-bit PCM mono/stereo WAV).
type Header struct {
	SampleRate    uint32
	Channels      uint16
	BitsPerSample uint16
	DataBytes     uint32
}

// ParseHeader reads the RIFF/fmt /data chunks of a WAV blob. It does not
// require the data chunk to be last or the fmt chunk to be exactly 16
// bytes, matching the variety of encoders producing valid-but-not-minimal
// WAV files.
func ParseHeader(wav []byte) (Header, error) {
	var h Header
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return h, ErrNotWav
	}

	off := 12
	sawFmt := false
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := binary.LittleEndian.Uint32(wav[off+4 : off+8])
		body := off + 8
		if uint64(body)+uint64(size) > uint64(len(wav)) {
			break
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return h, ErrNotWav
			}
			h.Channels = binary.LittleEndian.Uint16(wav[body+2 : body+4])
			h.SampleRate = binary.LittleEndian.Uint32(wav[body+4 : body+8])
			h.BitsPerSample = binary.LittleEndian.Uint16(wav[body+14 : body+16])
			sawFmt = true
		case "data":
			h.DataBytes = size
		}

		off = body + int(size)
		if size%2 == 1 {
			off++ // chunks are word-aligned
		}
	}

	if !sawFmt || h.SampleRate == 0 || h.Channels == 0 || h.BitsPerSample == 0 {
		return h, ErrNotWav
	}
	return h, nil
}

// ExtractData returns the raw PCM bytes of a WAV blob's data chunk,
// stripping the RIFF/fmt framing. Used to re-concatenate several WAV
// blobs (e.g. per-utterance TTS output) into one archival file without
// re-encoding.
func ExtractData(wav []byte) ([]byte, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, ErrNotWav
	}
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := binary.LittleEndian.Uint32(wav[off+4 : off+8])
		body := off + 8
		if uint64(body)+uint64(size) > uint64(len(wav)) {
			break
		}
		if id == "data" {
			return wav[body : body+int(size)], nil
		}
		off = body + int(size)
		if size%2 == 1 {
			off++
		}
	}
	return nil, ErrNotWav
}

// Duration returns the playback duration of a WAV blob, rounded down to
// the millisecond. Returns 0 if the blob cannot be parsed.
func Duration(wav []byte) time.Duration {
	h, err := ParseHeader(wav)
	if err != nil {
		return 0
	}
	bytesPerSample := uint32(h.BitsPerSample) / 8
	if bytesPerSample == 0 || h.Channels == 0 || h.SampleRate == 0 {
		return 0
	}
	frames := h.DataBytes / (bytesPerSample * uint32(h.Channels))
	seconds := float64(frames) / float64(h.SampleRate)
	return time.Duration(seconds * float64(time.Second)).Truncate(time.Millisecond)
}
