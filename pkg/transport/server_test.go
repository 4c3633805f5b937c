package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lectern-ai/lectern/pkg/providers/mock"
	"github.com/lectern-ai/lectern/pkg/segment"
	"github.com/lectern-ai/lectern/pkg/session"
	"github.com/lectern-ai/lectern/pkg/store"
)

func testSegments() []segment.Segment {
	return []segment.Segment{
		{
			ID: "a", Sequence: 1, TopicLabel: "intro",
			Dialogue:          []segment.DialogueLine{{Speaker: segment.SpeakerHost, Text: "welcome"}},
			EstimatedDuration: 60 * time.Second,
			TransitionPhrase:  "What's on your mind?",
			ResumePhrase:      "So, as I was saying.",
			Interruptible:     true,
		},
		{
			ID: "b", Sequence: 2, TopicLabel: "depth",
			EstimatedDuration: 60 * time.Second,
			TransitionPhrase:  "Go ahead.",
			ResumePhrase:      "Back to it.",
			Interruptible:     true,
		},
	}
}

func newTestServer(t *testing.T, providers Providers) (*httptest.Server, *session.Coordinator) {
	t.Helper()
	segStore := segment.NewMemoryStore()
	segStore.PutSubject("subj", testSegments(), map[int][]byte{1: []byte("a1"), 2: []byte("a2")})
	coord := session.NewCoordinator(store.NewMemory(), segStore)
	if providers.QA == nil {
		providers.QA = mock.NewAnswerer(mock.AnswererConfig{Acknowledgment: "Good question.", Answer: "The answer."})
	}
	voices := segment.VoiceTable{
		segment.SpeakerHost:   {VoiceID: "host"},
		segment.SpeakerExpert: {VoiceID: "expert"},
	}
	srv := New(Config{ProviderTimeout: 250 * time.Millisecond}, coord, segStore, providers, voices)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, coord
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func startSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, out := postJSON(t, ts.URL+"/v1/session/start", map[string]any{"subject_id": "subj"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d", resp.StatusCode)
	}
	sess := out["session"].(map[string]any)
	return sess["id"].(string)
}

func TestAskAnswersQuestionOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t, Providers{})
	id := startSession(t, ts)

	resp, out := postJSON(t, ts.URL+"/v1/session/"+id+"/ask",
		map[string]any{"question": "What is this about?"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ask: status %d body %v", resp.StatusCode, out)
	}
	if out["acknowledgment"] != "Good question." || out["answer"] != "The answer." {
		t.Fatalf("unexpected answer payload %v", out)
	}

	// The implied raise-hand left the session in qa_active.
	resp, out = postJSON(t, ts.URL+"/v1/session/"+id+"/continue", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("continue: status %d", resp.StatusCode)
	}
	if out["status"] != "playing" {
		t.Fatalf("expected playing after continue, got %v", out["status"])
	}
	if line, _ := out["resume_line"].(string); !strings.Contains(line, "So, as I was saying.") {
		t.Fatalf("resume line missing authored phrase: %v", out["resume_line"])
	}
}

func TestContinueSignalInAskResumes(t *testing.T) {
	ts, coord := newTestServer(t, Providers{})
	id := startSession(t, ts)

	if _, _, err := coord.RaiseHand(context.Background(), id); err != nil {
		t.Fatalf("raise: %v", err)
	}
	resp, out := postJSON(t, ts.URL+"/v1/session/"+id+"/ask",
		map[string]any{"question": "okay thanks"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ask: status %d", resp.StatusCode)
	}
	if out["resumed"] != true || out["status"] != "playing" {
		t.Fatalf("expected resumed payload, got %v", out)
	}
}

func TestRetriedContinueIsIdempotent(t *testing.T) {
	ts, coord := newTestServer(t, Providers{})
	id := startSession(t, ts)
	if _, _, err := coord.RaiseHand(context.Background(), id); err != nil {
		t.Fatalf("raise: %v", err)
	}

	resp1, out1 := postJSON(t, ts.URL+"/v1/session/"+id+"/continue", nil)
	resp2, out2 := postJSON(t, ts.URL+"/v1/session/"+id+"/continue", nil)
	if resp1.StatusCode != http.StatusOK || resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200/200, got %d/%d", resp1.StatusCode, resp2.StatusCode)
	}
	if out1["status"] != "playing" || out2["status"] != "playing" {
		t.Fatalf("expected playing on both, got %v / %v", out1["status"], out2["status"])
	}
}

func TestErrorMapping(t *testing.T) {
	ts, coord := newTestServer(t, Providers{})

	// Unknown session.
	resp, _ := postJSON(t, ts.URL+"/v1/session/nope/continue", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	// A second, different question while one is still open: conflict.
	id := startSession(t, ts)
	ctx := context.Background()
	if _, _, err := coord.RaiseHand(ctx, id); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if _, err := coord.SubmitQuestion(ctx, id, "first question?"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	resp, _ = postJSON(t, ts.URL+"/v1/session/"+id+"/ask",
		map[string]any{"question": "what about something else?"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	// Terminal session: gone.
	done := startSession(t, ts)
	if _, err := coord.UpdatePosition(ctx, done, 3, 0); err != nil {
		t.Fatalf("finish: %v", err)
	}
	resp, _ = postJSON(t, ts.URL+"/v1/session/"+done+"/update",
		map[string]any{"sequence": 1, "position_seconds": 5})
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expected 410, got %d", resp.StatusCode)
	}
}

func TestStartAdvertisesClientTimings(t *testing.T) {
	ts, _ := newTestServer(t, Providers{})

	resp, out := postJSON(t, ts.URL+"/v1/session/start", map[string]any{"subject_id": "subj"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d", resp.StatusCode)
	}
	settings, ok := out["client_settings"].(map[string]any)
	if !ok {
		t.Fatalf("missing client_settings in %v", out)
	}
	if settings["silence_timeout_ms"] != float64(5000) {
		t.Fatalf("unexpected silence timeout %v", settings["silence_timeout_ms"])
	}
	if settings["position_debounce_ms"] != float64(250) {
		t.Fatalf("unexpected position debounce %v", settings["position_debounce_ms"])
	}
}

func TestSkipToSegmentOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t, Providers{})
	id := startSession(t, ts)

	resp, _ := postJSON(t, ts.URL+"/v1/session/"+id+"/update",
		map[string]any{"sequence": 2, "position_seconds": 30})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: status %d", resp.StatusCode)
	}
	resp, out := postJSON(t, ts.URL+"/v1/session/"+id+"/skip",
		map[string]any{"sequence": 1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("skip: status %d body %v", resp.StatusCode, out)
	}
	sess := out["session"].(map[string]any)
	if sess["current_sequence"] != float64(1) || sess["position_seconds"] != float64(0) {
		t.Fatalf("expected restart of segment 1, got %v", sess)
	}

	resp, _ = postJSON(t, ts.URL+"/v1/session/"+id+"/skip",
		map[string]any{"sequence": 9})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown segment, got %d", resp.StatusCode)
	}
}

func TestProviderTimeoutResumesWith504(t *testing.T) {
	slow := mock.NewAnswerer(mock.AnswererConfig{Delay: 2 * time.Second})
	ts, coord := newTestServer(t, Providers{QA: slow})
	id := startSession(t, ts)

	resp, out := postJSON(t, ts.URL+"/v1/session/"+id+"/ask",
		map[string]any{"question": "What is this about?"})
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.StatusCode)
	}
	if out["resumed"] != true {
		t.Fatalf("expected implicit continue payload, got %v", out)
	}
	sess, err := coord.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Status != session.StatusPlaying {
		t.Fatalf("expected playing after timeout, got %s", sess.Status)
	}
}

func TestEventsStreamDeliversStateChanges(t *testing.T) {
	ts, coord := newTestServer(t, Providers{})
	id := startSession(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/session/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Let the handler register the watcher before triggering the change.
	time.Sleep(50 * time.Millisecond)
	if _, _, err := coord.RaiseHand(context.Background(), id); err != nil {
		t.Fatalf("raise: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt map[string]any
	if err := json.Unmarshal(msg, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt["type"] != "state_change" || evt["from"] != "playing" || evt["to"] != "paused" {
		t.Fatalf("unexpected event %v", evt)
	}
}

func TestAudioQuestionGoesThroughSTT(t *testing.T) {
	transcriber := mock.NewTranscriber(mock.TranscriberConfig{Text: "Why does that matter?"})
	ts, _ := newTestServer(t, Providers{STT: transcriber})
	id := startSession(t, ts)

	resp, out := postJSON(t, ts.URL+"/v1/session/"+id+"/ask",
		map[string]any{"audio_base64": "dXR0ZXJhbmNl"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ask: status %d body %v", resp.StatusCode, out)
	}
	if out["answer"] != "The answer." {
		t.Fatalf("unexpected payload %v", out)
	}
	if transcriber.Calls() != 1 {
		t.Fatalf("expected one transcription, got %d", transcriber.Calls())
	}
}

func TestRaiseReturnsTransitionPhrase(t *testing.T) {
	ts, _ := newTestServer(t, Providers{})
	id := startSession(t, ts)

	resp, out := postJSON(t, ts.URL+"/v1/session/"+id+"/raise", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("raise: status %d", resp.StatusCode)
	}
	if out["transition_phrase"] != "What's on your mind?" {
		t.Fatalf("unexpected phrase %v", out["transition_phrase"])
	}
	sess := out["session"].(map[string]any)
	if sess["status"] != "paused" {
		t.Fatalf("expected paused, got %v", sess["status"])
	}
}
