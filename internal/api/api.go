// Package api exposes the training service over HTTP: call lifecycle
// operations, session history, human review, analytics and the live audio
// stream.
//
// Authentication is delegated to an upstream proxy; requests carry the
// authenticated user's id in the X-User-ID header and the API resolves it
// against the user store. Role checks (scenario override, human review)
// happen here, not in the controller.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/knowledgehunter6/main-line/internal/analytics"
	"github.com/knowledgehunter6/main-line/internal/call"
	"github.com/knowledgehunter6/main-line/internal/config"
	"github.com/knowledgehunter6/main-line/internal/health"
	"github.com/knowledgehunter6/main-line/internal/observe"
	"github.com/knowledgehunter6/main-line/internal/store"
	"github.com/knowledgehunter6/main-line/internal/transcript"
	"github.com/knowledgehunter6/main-line/pkg/provider/tts"
	"github.com/knowledgehunter6/main-line/pkg/score"
)

// userHeader carries the upstream-authenticated user id.
const userHeader = "X-User-ID"

// Config holds the server's dependencies. Calls, Store and Analytics are
// required; TTS enables the voice catalogue endpoint and Health the
// probe routes.
type Config struct {
	Calls     *call.Manager
	Store     store.Store
	Analytics *analytics.Service
	TTS       tts.Provider
	Health    *health.Handler
	Metrics   *observe.Metrics

	// Scenarios supplies the configured training scenarios; called per
	// request so a config reload is picked up live. May be nil.
	Scenarios func() []config.ScenarioConfig
}

// Server is the HTTP API.
type Server struct {
	calls     *call.Manager
	st        store.Store
	analytics *analytics.Service
	tts       tts.Provider
	health    *health.Handler
	metrics   *observe.Metrics
	scenarios func() []config.ScenarioConfig
}

// New validates the configuration and builds the server.
func New(cfg Config) (*Server, error) {
	if cfg.Calls == nil {
		return nil, errors.New("api: call manager is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("api: store is required")
	}
	if cfg.Analytics == nil {
		return nil, errors.New("api: analytics service is required")
	}
	return &Server{
		calls:     cfg.Calls,
		st:        cfg.Store,
		analytics: cfg.Analytics,
		tts:       cfg.TTS,
		health:    cfg.Health,
		metrics:   cfg.Metrics,
		scenarios: cfg.Scenarios,
	}, nil
}

// Router assembles the route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.metrics))

	if s.health != nil {
		s.health.Register(r)
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.withUser)

		r.Get("/users/me", s.handleMe)
		r.Post("/users", s.handleCreateUser)

		r.Route("/calls", func(r chi.Router) {
			r.Post("/", s.handleStartCall)
			r.Get("/current", s.handleCallStatus)
			r.Post("/current/message", s.handleSendMessage)
			r.Post("/current/voice/start", s.handleVoiceStart)
			r.Post("/current/voice/stop", s.handleVoiceStop)
			r.Post("/current/end", s.handleEndCall)
			r.Delete("/current/feedback", s.handleDismissFeedback)
			r.Get("/stream", s.handleAudioStream)
		})

		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Post("/sessions/{id}/feedback", s.handleHumanFeedback)

		r.Get("/analytics", s.handleAnalytics)
		r.Get("/voices", s.handleVoices)
		r.Get("/scenarios", s.handleScenarios)
	})
	return r
}

type userKey struct{}

// withUser resolves the X-User-ID header against the user store and puts
// the account on the request context.
func (s *Server) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(userHeader)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
			return
		}
		u, err := s.st.GetUser(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unknown user")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "resolve user")
			return
		}
		ctx := contextWithUser(r.Context(), u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUserJSON(userFrom(r)))
}

type createUserRequest struct {
	Email     string     `json:"email"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Role      store.Role `json:"role"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if userFrom(r).Role != store.RoleAdmin {
		writeError(w, http.StatusForbidden, "only admins may create users")
		return
	}
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Email == "" || !req.Role.Valid() {
		writeError(w, http.StatusBadRequest, "email and a valid role are required")
		return
	}
	u := &store.User{Email: req.Email, FirstName: req.FirstName, LastName: req.LastName, Role: req.Role}
	if err := s.st.CreateUser(r.Context(), u); err != nil {
		writeError(w, http.StatusInternalServerError, "create user")
		return
	}
	writeJSON(w, http.StatusCreated, toUserJSON(*u))
}

type startCallRequest struct {
	Scenario string `json:"scenario"`
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	var req startCallRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	if req.Scenario != "" && !user.Role.CanOverrideScenario() {
		writeError(w, http.StatusForbidden, "only trainers may set a custom scenario")
		return
	}

	ctrl, err := s.calls.Controller(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "controller")
		return
	}
	status, err := ctrl.StartCall(r.Context(), req.Scenario)
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStatusJSON(status))
}

func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.calls.Controller(userFrom(r).ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "controller")
		return
	}
	writeJSON(w, http.StatusOK, toStatusJSON(ctrl.Status()))
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	ctrl, err := s.calls.Controller(userFrom(r).ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "controller")
		return
	}
	turn, err := ctrl.SendMessage(r.Context(), req.Text)
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (s *Server) handleVoiceStart(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.calls.Controller(userFrom(r).ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "controller")
		return
	}
	if err := ctrl.StartVoiceCapture(r.Context()); err != nil {
		writeCallError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVoiceStop(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.calls.Controller(userFrom(r).ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "controller")
		return
	}
	turn, err := ctrl.StopVoiceCapture(r.Context())
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.calls.Controller(userFrom(r).ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "controller")
		return
	}
	res, err := ctrl.EndCall(r.Context())
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultJSON(res))
}

func (s *Server) handleDismissFeedback(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.calls.Controller(userFrom(r).ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "controller")
		return
	}
	ctrl.DismissFeedback()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	page := store.Page{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	sessions, err := s.st.ListSessions(r.Context(), userFrom(r).ID, page)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list sessions")
		return
	}
	out := make([]sessionJSON, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionJSON(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.st.GetSession(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get session")
		return
	}
	user := userFrom(r)
	if sess.Session.TraineeID != user.ID && !user.Role.CanReview() {
		writeError(w, http.StatusForbidden, "not your session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionJSON(sess))
}

type humanFeedbackRequest struct {
	Scores   score.Set `json:"scores"`
	Comments string    `json:"comments"`
}

func (s *Server) handleHumanFeedback(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	if !user.Role.CanReview() {
		writeError(w, http.StatusForbidden, "only trainers may review sessions")
		return
	}
	var req humanFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	fb := &store.Feedback{
		SessionID:   chi.URLParam(r, "id"),
		Scores:      req.Scores.Clamp(),
		Comments:    req.Comments,
		IsAutomated: false,
	}
	err := s.st.InsertFeedback(r.Context(), fb)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, store.ErrDuplicateFeedback):
		writeError(w, http.StatusConflict, "session already reviewed")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "persist feedback")
	default:
		writeJSON(w, http.StatusCreated, toFeedbackJSON(fb))
	}
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	traineeID := user.ID
	if other := r.URL.Query().Get("trainee_id"); other != "" && other != user.ID {
		if !user.Role.CanReview() {
			writeError(w, http.StatusForbidden, "not your analytics")
			return
		}
		traineeID = other
	}
	snap, err := s.analytics.Snapshot(r.Context(), traineeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "aggregate")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.tts == nil {
		writeError(w, http.StatusNotFound, "no tts provider configured")
		return
	}
	voices, err := s.tts.ListVoices(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "list voices")
		return
	}
	writeJSON(w, http.StatusOK, voices)
}

type scenarioJSON struct {
	Name    string `json:"name"`
	Persona string `json:"persona"`
}

func (s *Server) handleScenarios(w http.ResponseWriter, _ *http.Request) {
	out := []scenarioJSON{}
	if s.scenarios != nil {
		for _, sc := range s.scenarios() {
			out = append(out, scenarioJSON{Name: sc.Name, Persona: sc.Persona})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// writeCallError maps controller errors onto HTTP status codes.
func writeCallError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, call.ErrCallActive),
		errors.Is(err, call.ErrTurnInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, call.ErrNoActiveCall):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, call.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, call.ErrVoiceUnavailable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("api: call operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "call operation failed")
	}
}

type errorJSON struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorJSON{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("api: encode response", "err", err)
	}
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// JSON shapes. Store types carry no tags; the wire format is pinned here.

type userJSON struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Role      store.Role `json:"role"`
}

func toUserJSON(u store.User) userJSON {
	return userJSON{ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName, Role: u.Role}
}

type feedbackJSON struct {
	SessionID   string    `json:"sessionId"`
	Scores      score.Set `json:"scores"`
	Comments    string    `json:"comments"`
	IsAutomated bool      `json:"isAutomated"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toFeedbackJSON(f *store.Feedback) *feedbackJSON {
	if f == nil {
		return nil
	}
	return &feedbackJSON{
		SessionID:   f.SessionID,
		Scores:      f.Scores,
		Comments:    f.Comments,
		IsAutomated: f.IsAutomated,
		CreatedAt:   f.CreatedAt,
	}
}

type statusJSON struct {
	State           call.State        `json:"state"`
	SessionID       string            `json:"sessionId,omitempty"`
	Scenario        string            `json:"scenario,omitempty"`
	DurationSeconds int               `json:"durationSeconds"`
	Turns           []transcript.Turn `json:"turns"`
	Capturing       bool              `json:"capturing"`
	Feedback        *feedbackJSON     `json:"feedback,omitempty"`
}

func toStatusJSON(st call.Status) statusJSON {
	return statusJSON{
		State:           st.State,
		SessionID:       st.SessionID,
		Scenario:        st.Scenario,
		DurationSeconds: st.DurationSeconds,
		Turns:           st.Turns,
		Capturing:       st.Capturing,
		Feedback:        toFeedbackJSON(st.Feedback),
	}
}

type resultJSON struct {
	SessionID       string            `json:"sessionId"`
	DurationSeconds int               `json:"durationSeconds"`
	Turns           []transcript.Turn `json:"turns"`
	Feedback        *feedbackJSON     `json:"feedback,omitempty"`
	ScoringError    string            `json:"scoringError,omitempty"`
}

func toResultJSON(res call.Result) resultJSON {
	out := resultJSON{
		SessionID:       res.SessionID,
		DurationSeconds: res.DurationSeconds,
		Turns:           res.Turns,
		Feedback:        toFeedbackJSON(res.Feedback),
	}
	if res.ScoringErr != nil {
		out.ScoringError = res.ScoringErr.Error()
	}
	return out
}

type sessionJSON struct {
	ID              string            `json:"id"`
	TraineeID       string            `json:"traineeId"`
	Scenario        string            `json:"scenario,omitempty"`
	Transcript      []transcript.Turn `json:"transcript"`
	RecordingURL    string            `json:"recordingUrl,omitempty"`
	DurationSeconds int               `json:"durationSeconds"`
	CreatedAt       time.Time         `json:"createdAt"`
	Automated       *feedbackJSON     `json:"automatedFeedback,omitempty"`
	Human           *feedbackJSON     `json:"humanFeedback,omitempty"`
}

func toSessionJSON(s store.SessionWithFeedback) sessionJSON {
	return sessionJSON{
		ID:              s.Session.ID,
		TraineeID:       s.Session.TraineeID,
		Scenario:        s.Session.Scenario,
		Transcript:      s.Session.Transcript,
		RecordingURL:    s.Session.RecordingURL,
		DurationSeconds: s.Session.DurationSeconds,
		CreatedAt:       s.Session.CreatedAt,
		Automated:       toFeedbackJSON(s.Automated),
		Human:           toFeedbackJSON(s.Human),
	}
}
