// Package transport exposes the session coordinator over HTTP and
// websocket for remote playback clients.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lectern-ai/lectern/pkg/adapters/qa"
	"github.com/lectern-ai/lectern/pkg/adapters/stt"
	"github.com/lectern-ai/lectern/pkg/adapters/tts"
	"github.com/lectern-ai/lectern/pkg/errorsx"
	"github.com/lectern-ai/lectern/pkg/logging"
	"github.com/lectern-ai/lectern/pkg/segment"
	"github.com/lectern-ai/lectern/pkg/session"
	"github.com/lectern-ai/lectern/pkg/signals"
)

type Config struct {
	ServerAddr      string        `mapstructure:"server_addr"`
	AllowAnyOrigin  bool          `mapstructure:"allow_any_origin"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`

	// Client-side interrupt timings, advertised in the start response so
	// playback clients pick them up from the server.
	SilenceTimeout   time.Duration `mapstructure:"silence_timeout"`
	PositionDebounce time.Duration `mapstructure:"position_debounce"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 10 * time.Second
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 5 * time.Second
	}
	if c.PositionDebounce <= 0 {
		c.PositionDebounce = 250 * time.Millisecond
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Providers bundles the optional speech services the ask endpoint uses.
// A nil Transcriber rejects audio questions; a nil Synthesizer returns
// text-only answers.
type Providers struct {
	STT stt.Transcriber
	TTS tts.Synthesizer
	QA  qa.Answerer
}

// Server is the HTTP/websocket surface over one coordinator.
type Server struct {
	cfg       Config
	coord     *session.Coordinator
	segments  segment.Store
	providers Providers
	voices    segment.VoiceTable

	server *http.Server
	hub    *hub

	subjectMu sync.Mutex
	subjects  map[string][]segment.Segment

	draining atomic.Bool
	logger   *slog.Logger
}

func New(cfg Config, coord *session.Coordinator, segments segment.Store, providers Providers, voices segment.VoiceTable) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:       cfg,
		coord:     coord,
		segments:  segments,
		providers: providers,
		voices:    voices,
		hub:       newHub(cfg),
		subjects:  make(map[string][]segment.Segment),
		logger:    logging.NewComponentLogger(slog.Default(), "transport"),
	}
	coord.AddListener(s.hub)
	coord.AddPositionListener(s.hub)
	return s
}

// Handler builds the route table. Exposed separately so tests can drive
// the server without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/session/start", s.handleStart)
	mux.HandleFunc("GET /v1/session/{id}", s.handleGet)
	mux.HandleFunc("POST /v1/session/{id}/update", s.handleUpdate)
	mux.HandleFunc("POST /v1/session/{id}/skip", s.handleSkip)
	mux.HandleFunc("POST /v1/session/{id}/raise", s.handleRaise)
	mux.HandleFunc("POST /v1/session/{id}/ask", s.handleAsk)
	mux.HandleFunc("POST /v1/session/{id}/continue", s.handleContinue)
	mux.HandleFunc("GET /v1/session/{id}/events", s.hub.handleEvents)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.server = &http.Server{
		Addr:              s.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           s.Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("transport_server_error", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("transport listening", slog.String("addr", s.cfg.ServerAddr))
	return nil
}

func (s *Server) Stop() error {
	s.draining.Store(true)
	s.hub.closeAll()
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

type sessionPayload struct {
	ID              string  `json:"id"`
	SubjectID       string  `json:"subject_id"`
	CurrentSequence int     `json:"current_sequence"`
	PositionSeconds float64 `json:"position_seconds"`
	Status          string  `json:"status"`
}

func toPayload(sess session.Session) sessionPayload {
	return sessionPayload{
		ID:              sess.ID,
		SubjectID:       sess.SubjectID,
		CurrentSequence: sess.CurrentSequence,
		PositionSeconds: sess.PositionSeconds,
		Status:          sess.Status.String(),
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID     string `json:"session_id"`
		SubjectID     string `json:"subject_id"`
		FirstSequence int    `json:"first_sequence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "subject_id required")
		return
	}
	sess, err := s.coord.Start(r.Context(), req.SessionID, req.SubjectID, req.FirstSequence)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": toPayload(sess),
		"client_settings": map[string]any{
			"silence_timeout_ms":   s.cfg.SilenceTimeout.Milliseconds(),
			"position_debounce_ms": s.cfg.PositionDebounce.Milliseconds(),
		},
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.coord.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	exchanges, err := s.coord.Exchanges(r.Context(), sess.ID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":   toPayload(sess),
		"exchanges": exchanges,
	})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sequence        int     `json:"sequence"`
		PositionSeconds float64 `json:"position_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	sess, err := s.coord.UpdatePosition(r.Context(), r.PathValue("id"), req.Sequence, req.PositionSeconds)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": toPayload(sess)})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sequence int `json:"sequence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Sequence <= 0 {
		writeError(w, http.StatusBadRequest, "sequence required")
		return
	}
	sess, err := s.coord.SkipToSegment(r.Context(), r.PathValue("id"), req.Sequence)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": toPayload(sess)})
}

func (s *Server) handleRaise(w http.ResponseWriter, r *http.Request) {
	sess, phrase, err := s.coord.RaiseHand(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":           toPayload(sess),
		"transition_phrase": phrase,
	})
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.Continue(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, continuePayload(res))
}

func continuePayload(res session.ContinueResult) map[string]any {
	out := map[string]any{
		"status":      res.Status.String(),
		"resume_line": res.ResumeLine,
	}
	if res.NextSequence != nil {
		out["next_sequence"] = *res.NextSequence
	}
	return out
}

// handleAsk accepts a typed question or a base64 utterance. A continue
// signal resumes playback instead of opening an exchange; everything
// else is answered synchronously.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Question    string `json:"question"`
		AudioBase64 string `json:"audio_base64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" && req.AudioBase64 != "" {
		text, err := s.transcribe(r.Context(), id, req.AudioBase64)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		question = text
	}
	if question == "" {
		writeError(w, http.StatusBadRequest, "question or audio_base64 required")
		return
	}

	isQuestion, _ := signals.Classify(question)
	if !isQuestion {
		res, err := s.coord.Continue(r.Context(), id)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		out := continuePayload(res)
		out["resumed"] = true
		writeJSON(w, http.StatusOK, out)
		return
	}

	// A question against a playing session implies the hand raise.
	sess, err := s.coord.Get(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if sess.Status == session.StatusPlaying {
		if _, _, err := s.coord.RaiseHand(r.Context(), id); err != nil {
			s.writeFailure(w, err)
			return
		}
	}
	ex, err := s.coord.SubmitQuestion(r.Context(), id, question)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if ex.Complete {
		// Retried ask for an already-answered question.
		writeJSON(w, http.StatusOK, answerPayload(ex, nil, nil))
		return
	}

	qaCtx, cancel := context.WithTimeout(r.Context(), s.cfg.ProviderTimeout)
	resp, err := s.providers.QA.Answer(qaCtx, s.buildRequest(r.Context(), id, ex))
	cancel()
	if err != nil {
		// Provider failure resumes playback; the client is told so.
		if _, rerr := s.coord.ResolveExchange(r.Context(), id, ex.ID, "", "", nil); rerr != nil {
			s.logger.Warn("failed exchange close",
				slog.String("session_id", id),
				slog.String("error", rerr.Error()))
		}
		res, rerr := s.coord.Continue(r.Context(), id)
		if rerr != nil {
			s.writeFailure(w, rerr)
			return
		}
		out := continuePayload(res)
		out["resumed"] = true
		out["reason"] = string(errorsx.Reason(err))
		writeJSON(w, http.StatusGatewayTimeout, out)
		return
	}

	ackAudio, detailAudio := s.synthesize(r.Context(), id, resp)
	ex, err = s.coord.ResolveExchange(r.Context(), id, ex.ID, resp.Acknowledgment, resp.Answer, nil)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answerPayload(ex, ackAudio, detailAudio))
}

func answerPayload(ex session.Exchange, ackAudio, detailAudio []byte) map[string]any {
	out := map[string]any{
		"exchange_id":    ex.ID,
		"acknowledgment": ex.Ack,
		"answer":         ex.Detail,
	}
	if len(ackAudio) > 0 {
		out["ack_audio_base64"] = base64.StdEncoding.EncodeToString(ackAudio)
	}
	if len(detailAudio) > 0 {
		out["answer_audio_base64"] = base64.StdEncoding.EncodeToString(detailAudio)
	}
	return out
}

func (s *Server) transcribe(ctx context.Context, id, audioBase64 string) (string, error) {
	if s.providers.STT == nil {
		return "", errorsx.New(errorsx.ReasonSTTTranscribe, "no transcriber configured")
	}
	audio, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSTTTranscribe)
	}
	sttCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	result, err := s.providers.STT.Transcribe(sttCtx, audio, stt.Config{SessionID: id})
	if err != nil {
		var ambiguous *stt.AmbiguousError
		if errors.As(err, &ambiguous) && strings.TrimSpace(ambiguous.Text) != "" {
			return ambiguous.Text, nil
		}
		return "", err
	}
	return result.Text, nil
}

// synthesize voices the two answer parts, host then expert. Best effort.
func (s *Server) synthesize(ctx context.Context, id string, resp qa.Response) (ack, detail []byte) {
	if s.providers.TTS == nil {
		return nil, nil
	}
	ttsCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	cfg := tts.Config{SessionID: id}
	ack, err := s.providers.TTS.Synthesize(ttsCtx, resp.Acknowledgment, s.voices.Profile(segment.SpeakerHost), cfg)
	if err != nil {
		s.logger.Warn("ack synthesis failed",
			slog.String("session_id", id),
			slog.String("reason", string(errorsx.Reason(err))))
	}
	detail, err = s.providers.TTS.Synthesize(ttsCtx, resp.Answer, s.voices.Profile(segment.SpeakerExpert), cfg)
	if err != nil {
		s.logger.Warn("answer synthesis failed",
			slog.String("session_id", id),
			slog.String("reason", string(errorsx.Reason(err))))
	}
	return ack, detail
}

func (s *Server) buildRequest(ctx context.Context, id string, ex session.Exchange) qa.Request {
	req := qa.Request{SessionID: id, Question: ex.Question}
	sess, err := s.coord.Get(ctx, id)
	if err == nil {
		if seg, ok := s.segmentAt(ctx, sess.SubjectID, ex.Sequence); ok {
			req.TopicLabel = seg.TopicLabel
			var dialogue strings.Builder
			for _, line := range seg.Dialogue {
				fmt.Fprintf(&dialogue, "%s: %s\n", line.Speaker, line.Text)
			}
			req.SegmentText = dialogue.String()
		}
	}
	history, err := s.coord.Exchanges(ctx, id)
	if err != nil {
		return req
	}
	for _, prior := range history {
		if prior.Complete && prior.Detail != "" && prior.ID != ex.ID {
			req.History = append(req.History, qa.PriorExchange{
				Question: prior.Question,
				Answer:   prior.Detail,
			})
		}
	}
	return req
}

func (s *Server) segmentAt(ctx context.Context, subjectID string, sequence int) (segment.Segment, bool) {
	s.subjectMu.Lock()
	segs, ok := s.subjects[subjectID]
	s.subjectMu.Unlock()
	if !ok {
		listed, err := s.segments.ListSegments(ctx, subjectID)
		if err != nil {
			return segment.Segment{}, false
		}
		s.subjectMu.Lock()
		s.subjects[subjectID] = listed
		s.subjectMu.Unlock()
		segs = listed
	}
	for _, seg := range segs {
		if seg.Sequence == sequence {
			return seg, true
		}
	}
	return segment.Segment{}, false
}

// writeFailure maps domain errors onto HTTP statuses.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var conflict *session.ConflictError
	var closed *session.SessionClosedError
	var notInterruptible *session.NotInterruptibleError
	switch {
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &notInterruptible):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &closed):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errorsx.HasReason(err, errorsx.ReasonProviderTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Error("request failed",
			slog.String("reason", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
