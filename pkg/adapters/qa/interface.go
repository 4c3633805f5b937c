// Package qa defines the vendor-agnostic question-answering contract.
package qa

import "context"

// PriorExchange is one already-answered question, carried as context so
// follow-ups can build on earlier answers.
type PriorExchange struct {
	Question string
	Answer   string
}

// Request carries one listener question with its surrounding context.
type Request struct {
	SessionID string
	TraceID   string
	Question  string
	// TopicLabel and SegmentText describe the dialogue segment that was
	// interrupted, so the answer stays on topic.
	TopicLabel  string
	SegmentText string
	History     []PriorExchange
}

// Response is a two-part answer: a short spoken acknowledgment followed
// by the detailed answer. The acknowledgment is synthesized and played
// first to keep perceived latency low.
type Response struct {
	Acknowledgment string
	Answer         string
}

// Answerer defines the contract for any QA vendor implementation.
type Answerer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Answer produces a response for one listener question.
	Answer(ctx context.Context, req Request) (Response, error)
}
