package vad

import (
	"math"
	"testing"
)

func sine(freq float64, sampleRate, n int, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		out[i] = int16(amp * 32767 * math.Sin(2*math.Pi*freq*t))
	}
	return out
}

func TestRMSDetectsLoudChunk(t *testing.T) {
	r := NewRMS(0.1)
	loud := sine(440, 16000, 512, 0.5)
	speech, err := r.IsSpeech(loud)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !speech {
		t.Error("expected loud chunk to be classified as speech")
	}
}

func TestRMSIgnoresQuietChunk(t *testing.T) {
	r := NewRMS(0.1)
	quiet := make([]int16, 512)
	speech, err := r.IsSpeech(quiet)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if speech {
		t.Error("expected silence to not be classified as speech")
	}
}

func TestRMSEmptyChunk(t *testing.T) {
	r := NewRMS(0.1)
	speech, err := r.IsSpeech(nil)
	if err != nil || speech {
		t.Errorf("expected (false, nil) for empty chunk, got (%v, %v)", speech, err)
	}
}

func TestRMSName(t *testing.T) {
	if NewRMS(0.1).Name() != "rms-vad" {
		t.Error("unexpected provider name")
	}
}
