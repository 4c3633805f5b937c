// Package signals classifies transcribed listener utterances as
// continue signals or questions.
package signals

import "strings"

var continueSignals = []string{
	"okay thanks",
	"ok thanks",
	"got it",
	"continue",
	"let's keep going",
	"lets keep going",
	"thanks",
	"alright",
	"i'm good",
	"im good",
	"next",
	"move on",
	"keep going",
	"go ahead",
	"okay",
	"ok",
	"sure",
	"yes",
	"yep",
	"yeah",
}

var questionStarters = []string{
	"what", "why", "how", "when", "where", "who", "which",
	"can you", "could you", "would you", "do you", "does",
	"is there", "are there", "was", "were", "will",
	"explain", "tell me", "clarify",
}

// IsContinueSignal reports whether the utterance means "resume playback".
// Short utterances containing a known signal phrase also count.
func IsContinueSignal(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, signal := range continueSignals {
		if normalized == signal {
			return true
		}
	}
	for _, signal := range continueSignals {
		if strings.Contains(normalized, signal) && len(normalized) < 30 {
			return true
		}
	}
	return false
}

// IsQuestion reports whether the utterance looks like a question.
func IsQuestion(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if strings.HasSuffix(normalized, "?") {
		return true
	}
	for _, starter := range questionStarters {
		if strings.HasPrefix(normalized, starter) {
			return true
		}
	}
	return false
}

// Classify resolves an utterance into (isQuestion, isContinueSignal).
// Ambiguous input resolves conservatively as a question so nothing the
// listener says is silently dropped.
func Classify(text string) (isQuestion, isContinue bool) {
	isContinue = IsContinueSignal(text)
	isQuestion = IsQuestion(text)
	if isContinue && isQuestion {
		// "okay, but why does that work?" counts as a question.
		isContinue = false
	}
	if !isContinue && !isQuestion {
		isQuestion = true
	}
	return isQuestion, isContinue
}
