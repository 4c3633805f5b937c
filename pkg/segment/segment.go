package segment

import (
	"fmt"
	"sort"
	"time"
)

// Speaker identifies which authored voice delivers a dialogue line.
type Speaker int

const (
	SpeakerHost Speaker = iota
	SpeakerExpert
)

// String returns the string representation of a Speaker.
func (s Speaker) String() string {
	switch s {
	case SpeakerHost:
		return "host"
	case SpeakerExpert:
		return "expert"
	default:
		return "unknown"
	}
}

// ParseSpeaker converts a wire-format speaker tag into a Speaker.
func ParseSpeaker(v string) (Speaker, error) {
	switch v {
	case "host":
		return SpeakerHost, nil
	case "expert":
		return SpeakerExpert, nil
	default:
		return SpeakerHost, fmt.Errorf("unknown speaker %q", v)
	}
}

// VoiceProfile selects a synthesis voice for one speaker.
type VoiceProfile struct {
	VoiceID string
	ModelID string
}

// VoiceTable maps each speaker to its synthesis voice for one subject.
type VoiceTable map[Speaker]VoiceProfile

// Profile returns the voice for a speaker, falling back to the host voice.
func (t VoiceTable) Profile(s Speaker) VoiceProfile {
	if p, ok := t[s]; ok {
		return p
	}
	return t[SpeakerHost]
}

// DialogueLine is one speaker-tagged utterance inside a segment.
type DialogueLine struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Segment is one unit of pre-authored multi-speaker dialogue.
// Segments are immutable and owned by the segment store.
type Segment struct {
	ID                string         `json:"id"`
	Sequence          int            `json:"sequence"`
	TopicLabel        string         `json:"topic_label"`
	Dialogue          []DialogueLine `json:"dialogue"`
	EstimatedDuration time.Duration  `json:"estimated_duration"`
	// ActualDuration is zero until measured from real audio metadata.
	ActualDuration   time.Duration `json:"actual_duration"`
	TransitionPhrase string        `json:"transition_phrase"`
	ResumePhrase     string        `json:"resume_phrase"`
	Interruptible    bool          `json:"interruptible"`
}

// Duration returns the measured duration when known, the estimate otherwise.
func (s Segment) Duration() time.Duration {
	if s.ActualDuration > 0 {
		return s.ActualDuration
	}
	return s.EstimatedDuration
}

// SortSegments orders segments by ascending sequence number in place.
func SortSegments(segs []Segment) {
	sort.Slice(segs, func(i, j int) bool { return segs[i].Sequence < segs[j].Sequence })
}

// ValidateSequence checks that sorted segments carry contiguous,
// strictly increasing sequence numbers starting from the first entry.
func ValidateSequence(segs []Segment) error {
	if len(segs) == 0 {
		return fmt.Errorf("no segments")
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].Sequence != segs[i-1].Sequence+1 {
			return fmt.Errorf("sequence gap between %d and %d", segs[i-1].Sequence, segs[i].Sequence)
		}
	}
	return nil
}
