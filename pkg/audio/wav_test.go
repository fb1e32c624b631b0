package audio

import (
	"bytes"
	"testing"
	"time"
)

func TestNewWavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sampleRate := 44100
	wav := NewWavBuffer(pcm, sampleRate)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("Expected RIFF prefix")
	}

	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("Expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("Expected length %d, got %d", expectedLen, len(wav))
	}
}

func TestParseHeaderRoundTrip(t *testing.T) {
	sampleRate := 16000
	pcm := make([]byte, sampleRate*2) // 1 second, 16-bit mono
	wav := NewWavBuffer(pcm, sampleRate)

	h, err := ParseHeader(wav)
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if h.SampleRate != uint32(sampleRate) {
		t.Errorf("expected sample rate %d, got %d", sampleRate, h.SampleRate)
	}
	if h.Channels != 1 {
		t.Errorf("expected 1 channel, got %d", h.Channels)
	}
	if h.BitsPerSample != 16 {
		t.Errorf("expected 16 bits per sample, got %d", h.BitsPerSample)
	}
	if h.DataBytes != uint32(len(pcm)) {
		t.Errorf("expected %d data bytes, got %d", len(pcm), h.DataBytes)
	}
}

func TestDuration(t *testing.T) {
	sampleRate := 22050
	// 3000ms of audio at 22050Hz, 16-bit mono
	numSamples := sampleRate * 3
	pcm := make([]byte, numSamples*2)
	wav := NewWavBuffer(pcm, sampleRate)

	d := Duration(wav)
	want := 3000 * time.Millisecond
	diff := d - want
	if diff < 0 {
		diff = -diff
	}
	if diff > time.Millisecond {
		t.Errorf("expected duration ~%v, got %v", want, d)
	}
}

func TestDurationInvalid(t *testing.T) {
	if d := Duration([]byte("not a wav")); d != 0 {
		t.Errorf("expected 0 duration for invalid input, got %v", d)
	}
}
