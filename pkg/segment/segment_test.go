package segment

import (
	"testing"
	"time"
)

func TestSortAndValidateSequence(t *testing.T) {
	segs := []Segment{
		{ID: "c", Sequence: 3},
		{ID: "a", Sequence: 1},
		{ID: "b", Sequence: 2},
	}
	SortSegments(segs)
	if segs[0].ID != "a" || segs[2].ID != "c" {
		t.Fatalf("expected sorted order a,b,c got %s,%s,%s", segs[0].ID, segs[1].ID, segs[2].ID)
	}
	if err := ValidateSequence(segs); err != nil {
		t.Fatalf("expected contiguous sequence, got %v", err)
	}
}

func TestValidateSequenceGap(t *testing.T) {
	segs := []Segment{{Sequence: 1}, {Sequence: 3}}
	if err := ValidateSequence(segs); err == nil {
		t.Fatalf("expected gap error")
	}
	if err := ValidateSequence(nil); err == nil {
		t.Fatalf("expected error for empty sequence")
	}
}

func TestDurationPrefersActual(t *testing.T) {
	seg := Segment{EstimatedDuration: 60 * time.Second}
	if seg.Duration() != 60*time.Second {
		t.Fatalf("expected estimate before measurement")
	}
	seg.ActualDuration = 58 * time.Second
	if seg.Duration() != 58*time.Second {
		t.Fatalf("expected measured duration to win")
	}
}

func TestParseSpeaker(t *testing.T) {
	for in, want := range map[string]Speaker{"host": SpeakerHost, "expert": SpeakerExpert} {
		got, err := ParseSpeaker(in)
		if err != nil || got != want {
			t.Fatalf("ParseSpeaker(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseSpeaker("narrator"); err == nil {
		t.Fatalf("expected error for unknown speaker")
	}
}

func TestVoiceTableFallback(t *testing.T) {
	table := VoiceTable{SpeakerHost: {VoiceID: "h1"}}
	if table.Profile(SpeakerExpert).VoiceID != "h1" {
		t.Fatalf("expected host fallback for missing expert voice")
	}
}
