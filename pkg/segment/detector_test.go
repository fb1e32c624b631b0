package segment

import (
	"math"
	"testing"
)

func feed(d *Detector, speech []bool) []Event {
	var events []Event
	for _, s := range speech {
		if e := d.Update(s); e.Type != NoEvent {
			events = append(events, e)
		}
	}
	return events
}

func TestSpeechStartOnFirstSpeechChunk(t *testing.T) {
	d := New(500, 16000, 512) // ~32ms/chunk, threshold ~15-16 chunks
	events := feed(d, []bool{false, false, true})
	if len(events) != 1 || events[0].Type != SpeechStart {
		t.Fatalf("expected single speech_start, got %+v", events)
	}
}

func TestSpeechEndAfterSilenceThreshold(t *testing.T) {
	d := New(500, 16000, 512)
	chunkMS := 512.0 / 16000.0 * 1000
	silentNeeded := int(math.Ceil(500.0 / chunkMS))

	seq := []bool{true} // one speech chunk to open the utterance
	for i := 0; i < silentNeeded; i++ {
		seq = append(seq, false)
	}
	events := feed(d, seq)

	if len(events) != 2 {
		t.Fatalf("expected speech_start + speech_end, got %+v", events)
	}
	if events[0].Type != SpeechStart {
		t.Errorf("expected first event speech_start, got %v", events[0].Type)
	}
	if events[1].Type != SpeechEnd {
		t.Errorf("expected second event speech_end, got %v", events[1].Type)
	}
	if events[1].DurationSeconds <= 0 {
		t.Errorf("expected positive duration, got %v", events[1].DurationSeconds)
	}
}

func TestBriefSilenceDoesNotEndUtterance(t *testing.T) {
	d := New(500, 16000, 512)
	// One speech chunk, two silent chunks (well under threshold), then
	// speech resumes: should not have produced a speech_end.
	events := feed(d, []bool{true, false, false, true, false, false})
	for _, e := range events {
		if e.Type == SpeechEnd {
			t.Fatalf("unexpected speech_end from brief silence: %+v", events)
		}
	}
}

func TestIsSpeakingTracksState(t *testing.T) {
	d := New(500, 16000, 512)
	if d.IsSpeaking() {
		t.Fatal("expected not speaking initially")
	}
	d.Update(true)
	if !d.IsSpeaking() {
		t.Fatal("expected speaking after a speech chunk")
	}
}

func TestResetClearsState(t *testing.T) {
	d := New(500, 16000, 512)
	d.Update(true)
	d.Reset()
	if d.IsSpeaking() {
		t.Fatal("expected not speaking after reset")
	}
	events := feed(d, []bool{true})
	if len(events) != 1 || events[0].Type != SpeechStart {
		t.Fatalf("expected a fresh speech_start after reset, got %+v", events)
	}
}

func TestDurationReflectsChunkCount(t *testing.T) {
	d := New(200, 16000, 512)
	chunkMS := 512.0 / 16000.0 * 1000
	silentNeeded := int(math.Ceil(200.0 / chunkMS))

	// Three speech chunks, then enough silence to close.
	seq := []bool{true, true, true}
	for i := 0; i < silentNeeded; i++ {
		seq = append(seq, false)
	}
	events := feed(d, seq)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	wantSeconds := 3 * (512.0 / 16000.0)
	got := events[1].DurationSeconds
	diff := got - wantSeconds
	if diff < 0 {
		diff = -diff
	}
	if diff > 0.01 {
		t.Errorf("expected duration ~%.3f, got %.3f", wantSeconds, got)
	}
}
