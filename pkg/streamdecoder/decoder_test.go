package streamdecoder

import (
	"math"
	"testing"

	"layeh.com/gopus"
)

func vintEncode(n uint64, width int) []byte {
	b := make([]byte, width)
	marker := byte(0x80) >> uint(width-1)
	b[0] = marker | byte(n>>uint(8*(width-1)))
	for i := 1; i < width; i++ {
		b[i] = byte(n >> uint(8*(width-1-i)))
	}
	return b
}

func unknownSize() []byte { return []byte{0xFF} }

func elem(id []byte, body []byte) []byte {
	out := append([]byte{}, id...)
	out = append(out, vintEncode(uint64(len(body)), 4)...)
	out = append(out, body...)
	return out
}

func elemUnknown(id []byte, body []byte) []byte {
	out := append([]byte{}, id...)
	out = append(out, unknownSize()...)
	out = append(out, body...)
	return out
}

var (
	bEBML        = []byte{0x1A, 0x45, 0xDF, 0xA3}
	bSegment     = []byte{0x18, 0x53, 0x80, 0x67}
	bTracks      = []byte{0x16, 0x54, 0xAE, 0x6B}
	bTrackEntry  = []byte{0xAE}
	bTrackNumber = []byte{0xD7}
	bCodecID     = []byte{0x86}
	bCluster     = []byte{0x1F, 0x43, 0xB6, 0x75}
	bSimpleBlock = []byte{0xA3}
)

// buildWebM assembles a minimal WebM byte stream carrying the given Opus
// packets on track 1.
func buildWebM(packets [][]byte) []byte {
	header := elem(bEBML, []byte{0x01, 0x02, 0x03}) // contents irrelevant, skipped by size
	trackEntry := elem(bTrackEntry, append(
		elem(bTrackNumber, []byte{0x01}),
		elem(bCodecID, []byte("A_OPUS"))...,
	))
	tracks := elem(bTracks, trackEntry)

	var blocks []byte
	for _, p := range packets {
		body := append(vintEncode(1, 1), 0x00, 0x00, 0x00) // track=1, timecode=0, flags=0
		body = append(body, p...)
		blocks = append(blocks, elem(bSimpleBlock, body)...)
	}
	cluster := elemUnknown(bCluster, blocks)

	segment := elemUnknown(bSegment, append(tracks, cluster...))

	out := append([]byte{}, header...)
	out = append(out, segment...)
	return out
}

func generateSine(freq float64, sampleRate, numSamples int) []int16 {
	out := make([]int16, numSamples)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = int16(0.3 * 32767 * math.Sin(2*math.Pi*freq*t))
	}
	return out
}

func encodeOpusFrames(t *testing.T, pcm []int16, channels, frameSize int) [][]byte {
	t.Helper()
	enc, err := gopus.NewEncoder(opusSampleRate, channels, gopus.Audio)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	var packets [][]byte
	for i := 0; i+frameSize*channels <= len(pcm); i += frameSize * channels {
		frame := pcm[i : i+frameSize*channels]
		data, err := enc.Encode(frame, frameSize, 4000)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		packets = append(packets, data)
	}
	return packets
}

func TestExtractOpusPacketsFindsTrack(t *testing.T) {
	raw := [][]byte{{0x01, 0x02, 0x03}, {0x04, 0x05}}
	buf := buildWebM(raw)

	got := extractOpusPackets(buf)
	if len(got) != len(raw) {
		t.Fatalf("expected %d packets, got %d", len(raw), len(got))
	}
	for i := range raw {
		if string(got[i]) != string(raw[i]) {
			t.Errorf("packet %d mismatch: got %x want %x", i, got[i], raw[i])
		}
	}
}

func TestExtractOpusPacketsTruncatedStream(t *testing.T) {
	buf := buildWebM([][]byte{{0xAA, 0xBB}})
	// Cut the buffer off mid-element; the walker should just stop, not panic.
	truncated := buf[:len(buf)-1]
	_ = extractOpusPackets(truncated) // must not panic
}

func TestDecoderAddChunkDecodesAndDecimates(t *testing.T) {
	const frameSize = 960 // 20ms @ 48kHz
	pcm := generateSine(440, opusSampleRate, frameSize*5)
	packets := encodeOpusFrames(t, pcm, 1, frameSize)

	buf := buildWebM(packets)

	d, err := New(16000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := d.AddChunk(buf)
	if err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	wantSamples := (frameSize * 5) / 3
	if len(out) < wantSamples-10 || len(out) > wantSamples+10 {
		t.Errorf("expected ~%d decimated samples, got %d", wantSamples, len(out))
	}

	// A second call with no new bytes should yield nothing further.
	again, err := d.AddChunk(nil)
	if err != nil {
		t.Fatalf("AddChunk (no new data): %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected 0 new samples on repeat call, got %d", len(again))
	}
}

func TestDecoderIncrementalChunks(t *testing.T) {
	const frameSize = 960
	pcm := generateSine(220, opusSampleRate, frameSize*4)
	packets := encodeOpusFrames(t, pcm, 1, frameSize)
	full := buildWebM(packets)

	d, err := New(16000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mid := len(full) / 2
	first, err := d.AddChunk(full[:mid])
	if err != nil {
		t.Fatalf("AddChunk first half: %v", err)
	}
	second, err := d.AddChunk(full[mid:])
	if err != nil {
		t.Fatalf("AddChunk second half: %v", err)
	}

	total := len(first) + len(second)
	want := (frameSize * 4) / 3
	if total < want-10 || total > want+10 {
		t.Errorf("expected ~%d total decimated samples across both calls, got %d", want, total)
	}
}

func TestNewRejectsBadRate(t *testing.T) {
	if _, err := New(11025); err == nil {
		t.Error("expected error for a rate that doesn't evenly divide 48000")
	}
}

func TestDownmixStereo(t *testing.T) {
	stereo := []int16{10, 20, 30, 40}
	mono := downmix(stereo, 2)
	if len(mono) != 2 || mono[0] != 15 || mono[1] != 35 {
		t.Errorf("unexpected downmix result: %v", mono)
	}
}

func TestDecimateStride(t *testing.T) {
	in := []int16{1, 2, 3, 4, 5, 6, 7}
	out := decimate(in, 3)
	want := []int16{1, 4, 7}
	if len(out) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("index %d: got %d want %d", i, out[i], want[i])
		}
	}
}
