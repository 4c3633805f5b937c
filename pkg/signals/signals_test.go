package signals

import "testing"

func TestIsContinueSignal(t *testing.T) {
	cases := map[string]bool{
		"okay thanks":               true,
		"Got it":                    true,
		"thanks, let's keep going":  true,
		"why does gradient descent converge":                          false,
		"thanks for that, but can you explain the second part please": false,
	}
	for in, want := range cases {
		if got := IsContinueSignal(in); got != want {
			t.Fatalf("IsContinueSignal(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestIsQuestion(t *testing.T) {
	cases := map[string]bool{
		"what is backpropagation":   true,
		"Can you repeat that?":      true,
		"explain the second point":  true,
		"that was a great segment.": false,
	}
	for in, want := range cases {
		if got := IsQuestion(in); got != want {
			t.Fatalf("IsQuestion(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestClassifyAmbiguousDefaultsToQuestion(t *testing.T) {
	isQ, isCont := Classify("hmm the thing about entropy")
	if !isQ || isCont {
		t.Fatalf("expected ambiguous input classified as question, got q=%v cont=%v", isQ, isCont)
	}
}

func TestClassifyQuestionBeatsContinue(t *testing.T) {
	isQ, isCont := Classify("okay but why is that true?")
	if !isQ || isCont {
		t.Fatalf("expected question to win over continue, got q=%v cont=%v", isQ, isCont)
	}
}

func TestClassifyContinue(t *testing.T) {
	isQ, isCont := Classify("okay thanks")
	if isQ || !isCont {
		t.Fatalf("expected continue signal, got q=%v cont=%v", isQ, isCont)
	}
}
