package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lectern-ai/lectern/pkg/adapters/qa"
	"github.com/lectern-ai/lectern/pkg/errorsx"
	"github.com/lectern-ai/lectern/pkg/logging"
	"github.com/lectern-ai/lectern/pkg/resilience"
)

const systemPrompt = `You are the expert co-host of a spoken dialogue. A listener has
interrupted playback to ask a question about the topic being discussed.
Answer in two parts and respond with JSON only, in the form
{"acknowledgment": "...", "answer": "..."}.
The acknowledgment is one short spoken sentence confirming you heard the
question. The answer is a conversational spoken explanation, at most a
few sentences, grounded in the dialogue context you are given.`

// Answerer produces two-part spoken answers through an OpenAI-compatible
// chat completions endpoint. BaseURL is configurable so any provider
// speaking the same wire format can serve it.
type Answerer struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client

	logger *slog.Logger
}

func NewAnswerer(apiKey, model string) *Answerer {
	return &Answerer{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logging.NewComponentLogger(slog.Default(), "openai_qa"),
	}
}

func (a *Answerer) Name() string { return "openai" }

func (a *Answerer) Answer(ctx context.Context, req qa.Request) (qa.Response, error) {
	body, err := a.buildRequest(req)
	if err != nil {
		return qa.Response{}, errorsx.Wrap(err, errorsx.ReasonQAAnswer)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", body)
	if err != nil {
		return qa.Response{}, errorsx.Wrap(err, errorsx.ReasonQAAnswer)
	}
	a.applyHeaders(httpReq)

	resp, err := a.client().Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return qa.Response{}, errorsx.Wrap(err, errorsx.ReasonProviderTimeout)
		}
		return qa.Response{}, errorsx.Wrap(err, errorsx.ReasonQAAnswer)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		payload, _ := io.ReadAll(resp.Body)
		a.logger.Error("qa_rate_limited",
			slog.String("session_id", req.SessionID),
			slog.String("status", resp.Status))
		return qa.Response{}, errorsx.Wrap(
			resilience.RateLimitError{Provider: "openai", Message: string(payload)},
			errorsx.ReasonQARateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return qa.Response{}, errorsx.Wrap(errors.New(string(payload)), errorsx.ReasonQAAnswer)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return qa.Response{}, errorsx.Wrap(err, errorsx.ReasonQAAnswer)
	}
	out, err := parseResponse(payload)
	if err != nil {
		return qa.Response{}, errorsx.Wrap(err, errorsx.ReasonQAAnswer)
	}
	a.logger.Info("qa_answer_received",
		slog.String("session_id", req.SessionID),
		slog.Int("answer_len", len(out.Answer)))
	return out, nil
}

func (a *Answerer) buildRequest(req qa.Request) (*bytes.Buffer, error) {
	messages := []map[string]any{
		{"role": "system", "content": systemPrompt},
		{"role": "system", "content": contextMessage(req)},
	}
	for _, prior := range req.History {
		messages = append(messages,
			map[string]any{"role": "user", "content": prior.Question},
			map[string]any{"role": "assistant", "content": prior.Answer})
	}
	messages = append(messages, map[string]any{"role": "user", "content": req.Question})

	body := map[string]any{
		"model":           a.Model,
		"messages":        messages,
		"response_format": map[string]any{"type": "json_object"},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func contextMessage(req qa.Request) string {
	var sb strings.Builder
	if req.TopicLabel != "" {
		fmt.Fprintf(&sb, "Current topic: %s\n", req.TopicLabel)
	}
	if req.SegmentText != "" {
		fmt.Fprintf(&sb, "Dialogue being played when interrupted:\n%s", req.SegmentText)
	}
	if sb.Len() == 0 {
		return "No dialogue context available."
	}
	return sb.String()
}

func parseResponse(payload map[string]any) (qa.Response, error) {
	choices, _ := payload["choices"].([]any)
	if len(choices) == 0 {
		return qa.Response{}, errors.New("no choices")
	}
	first, _ := choices[0].(map[string]any)
	msg, _ := first["message"].(map[string]any)
	content, _ := msg["content"].(string)
	if content == "" {
		return qa.Response{}, errors.New("empty completion")
	}

	var parsed struct {
		Acknowledgment string `json:"acknowledgment"`
		Answer         string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || parsed.Answer == "" {
		// A provider that ignores response_format still yields usable
		// prose; treat the whole completion as the answer.
		return qa.Response{
			Acknowledgment: "Good question.",
			Answer:         strings.TrimSpace(content),
		}, nil
	}
	if parsed.Acknowledgment == "" {
		parsed.Acknowledgment = "Good question."
	}
	return qa.Response{Acknowledgment: parsed.Acknowledgment, Answer: parsed.Answer}, nil
}

func (a *Answerer) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
}

func (a *Answerer) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

var _ qa.Answerer = (*Answerer)(nil)
