package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonAudioLoad)
	if Reason(err) != ReasonAudioLoad {
		t.Fatalf("expected reason %s, got %s", ReasonAudioLoad, Reason(err))
	}
	if !HasReason(err, ReasonAudioLoad) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonProviderTimeout)
	second := Wrap(first, ReasonQAAnswer)
	if Reason(second) != ReasonProviderTimeout {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestReasonNil(t *testing.T) {
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil error")
	}
	if Wrap(nil, ReasonConflict) != nil {
		t.Fatalf("expected nil wrap for nil error")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
