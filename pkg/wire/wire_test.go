package wire

import (
	"encoding/json"
	"testing"
)

func TestTranscriptOmitsEmptyOptionalFields(t *testing.T) {
	tr := Transcript{Type: TypeTranscriptPartial, Text: "hola"}
	b, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, field := range []string{"translation", "target_language", "has_tts", "speaker", "duration"} {
		if _, ok := m[field]; ok {
			t.Errorf("expected %q to be omitted when zero, got %v", field, m[field])
		}
	}
	if m["text"] != "hola" {
		t.Errorf("expected text to survive marshal, got %v", m["text"])
	}
}

func TestTranscriptIncludesTranslationFields(t *testing.T) {
	tr := Transcript{
		Type:           TypeTranscriptFinal,
		Speaker:        SpeakerPartner,
		SpeakerName:    "bob",
		Text:           "hello",
		Translation:    "hola",
		TargetLanguage: "es",
		HasTTS:         true,
	}
	b, _ := json.Marshal(tr)
	var m map[string]interface{}
	json.Unmarshal(b, &m)
	if m["speaker"] != "partner" || m["translation"] != "hola" || m["has_tts"] != true {
		t.Errorf("unexpected marshaled fields: %v", m)
	}
}

func TestNewRoomCreated(t *testing.T) {
	f := NewRoomCreated("ABC123", "alice", "en", "es")
	if f.Type != "room_created" || f.RoomID != "ABC123" {
		t.Errorf("unexpected frame: %+v", f)
	}
}

func TestNewMicLockedSetsReason(t *testing.T) {
	f := NewMicLocked(3200)
	if f.Reason != MicLockedReasonTTSEcho || f.DurationMS != 3200 {
		t.Errorf("unexpected frame: %+v", f)
	}
}

func TestInterruptTypeConstant(t *testing.T) {
	raw := []byte(`{"type":"interrupt"}`)
	var in Interrupt
	if err := json.Unmarshal(raw, &in); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if in.Type != TypeInterrupt {
		t.Errorf("expected type %q, got %q", TypeInterrupt, in.Type)
	}
}
