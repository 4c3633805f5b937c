package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabled(t *testing.T) {
	SetEnabled(false)
	in := "email a@b.com and phone +62 812 3456 7890"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	SetEnabled(true)
	in := "email a@b.com and phone +62 812 3456 7890"
	got := Text(in)
	if got == in {
		t.Fatalf("expected redaction")
	}
	if want := "[REDACTED_EMAIL]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
	if want := "[REDACTED_PHONE]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
}

func TestQuestionTruncates(t *testing.T) {
	SetEnabled(true)
	in := strings.Repeat("why does the second example hold? ", 20)
	got := Question(in)
	if len(got) > maxQuestionLogLen+3 {
		t.Fatalf("question not truncated, len %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got[len(got)-10:])
	}
}

func TestQuestionRedacts(t *testing.T) {
	SetEnabled(true)
	got := Question("can you email me at a@b.com?")
	if strings.Contains(got, "a@b.com") {
		t.Fatalf("email leaked: %q", got)
	}
}
