package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/knowledgehunter6/main-line/internal/analytics"
	"github.com/knowledgehunter6/main-line/internal/call"
	"github.com/knowledgehunter6/main-line/internal/config"
	"github.com/knowledgehunter6/main-line/internal/gateway"
	"github.com/knowledgehunter6/main-line/internal/health"
	"github.com/knowledgehunter6/main-line/internal/scoring"
	"github.com/knowledgehunter6/main-line/internal/store"
	"github.com/knowledgehunter6/main-line/pkg/provider/llm"
	llmmock "github.com/knowledgehunter6/main-line/pkg/provider/llm/mock"
	sttmock "github.com/knowledgehunter6/main-line/pkg/provider/stt/mock"
	ttsmock "github.com/knowledgehunter6/main-line/pkg/provider/tts/mock"
	"github.com/knowledgehunter6/main-line/pkg/score"
	"github.com/knowledgehunter6/main-line/pkg/types"
)

const scoreJSON = `{"clarity": 8, "problemSolving": 7, "empathy": 9, "control": 6, "speed": 7, "comments": "solid"}`

type testEnv struct {
	srv     *Server
	router  http.Handler
	store   *store.Memory
	agent   *llmmock.Provider
	stt     *sttmock.Provider
	ttsMock *ttsmock.Provider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store: store.NewMemory(),
		agent: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "But why was my claim denied?"}},
		stt:   &sttmock.Provider{Text: "let me check your plan"},
		ttsMock: &ttsmock.Provider{Voices: []types.VoiceProfile{
			{ID: "caller-v1", Name: "Alma", Provider: "elevenlabs"},
		}},
	}

	ctx := context.Background()
	for _, u := range []*store.User{
		{ID: "trainee-1", Email: "t1@example.com", Role: store.RoleTrainee},
		{ID: "trainee-2", Email: "t2@example.com", Role: store.RoleTrainee},
		{ID: "trainer-1", Email: "coach@example.com", Role: store.RoleTrainer},
		{ID: "admin-1", Email: "admin@example.com", Role: store.RoleAdmin},
	} {
		if err := env.store.CreateUser(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	gw, err := gateway.New(gateway.Config{LLM: env.agent, STT: env.stt, MaxRetries: 1})
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	eval, err := scoring.New(&llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: scoreJSON}}, nil)
	if err != nil {
		t.Fatalf("scoring.New: %v", err)
	}
	calls, err := call.NewManager(call.ManagerConfig{Store: env.store, Gateway: gw, Evaluator: eval})
	if err != nil {
		t.Fatalf("call.NewManager: %v", err)
	}
	env.srv, err = New(Config{
		Calls:     calls,
		Store:     env.store,
		Analytics: analytics.NewService(env.store),
		TTS:       env.ttsMock,
		Health:    health.New(health.Store(nil)),
	})
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	env.router = env.srv.Router()
	return env
}

func (env *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, "GET", "/api/users/me", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no header: status = %d, want 401", rec.Code)
	}
	if rec := env.do(t, "GET", "/api/users/me", "ghost", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown user: status = %d, want 401", rec.Code)
	}
	if rec := env.do(t, "GET", "/api/users/me", "trainee-1", nil); rec.Code != http.StatusOK {
		t.Errorf("known user: status = %d, want 200", rec.Code)
	}
}

func TestHealthAndMetricsAreUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, "GET", "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", rec.Code)
	}
	if rec := env.do(t, "GET", "/readyz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("/readyz status = %d, want 200", rec.Code)
	}
	if rec := env.do(t, "GET", "/metrics", "", nil); rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", rec.Code)
	}
}

func TestStartCallLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/calls", "trainee-1", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d (body %q)", rec.Code, rec.Body.String())
	}
	status := decode[statusJSON](t, rec)
	if status.State != call.StateActive {
		t.Errorf("state = %q, want active", status.State)
	}
	if len(status.Turns) != 1 || status.Turns[0].Content != "But why was my claim denied?" {
		t.Errorf("turns = %+v, want the generated opening", status.Turns)
	}

	// A second call for the same trainee conflicts.
	if rec := env.do(t, "POST", "/api/calls", "trainee-1", nil); rec.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", rec.Code)
	}
	// Another trainee is unaffected.
	if rec := env.do(t, "POST", "/api/calls", "trainee-2", nil); rec.Code != http.StatusCreated {
		t.Errorf("other trainee status = %d, want 201", rec.Code)
	}

	if rec := env.do(t, "GET", "/api/calls/current", "trainee-1", nil); rec.Code != http.StatusOK {
		t.Errorf("status endpoint = %d, want 200", rec.Code)
	}
}

func TestScenarioOverrideRequiresTrainer(t *testing.T) {
	env := newTestEnv(t)
	body := startCallRequest{Scenario: "angry caller, denied claim"}

	if rec := env.do(t, "POST", "/api/calls", "trainee-1", body); rec.Code != http.StatusForbidden {
		t.Errorf("trainee scenario status = %d, want 403", rec.Code)
	}
	if rec := env.do(t, "POST", "/api/calls", "trainer-1", body); rec.Code != http.StatusCreated {
		t.Errorf("trainer scenario status = %d, want 201", rec.Code)
	}
}

func TestSendMessage(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/api/calls", "trainee-1", nil)

	rec := env.do(t, "POST", "/api/calls/current/message", "trainee-1", sendMessageRequest{Text: "How can I help?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("message status = %d (body %q)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "claim denied") {
		t.Errorf("body = %q, want agent reply", rec.Body.String())
	}

	if rec := env.do(t, "POST", "/api/calls/current/message", "trainee-1", sendMessageRequest{Text: "  "}); rec.Code != http.StatusBadRequest {
		t.Errorf("blank message status = %d, want 400", rec.Code)
	}
	if rec := env.do(t, "POST", "/api/calls/current/message", "trainee-2", sendMessageRequest{Text: "hi"}); rec.Code != http.StatusNotFound {
		t.Errorf("no-call message status = %d, want 404", rec.Code)
	}
}

func TestEndCallAndHistory(t *testing.T) {
	env := newTestEnv(t)
	started := decode[statusJSON](t, env.do(t, "POST", "/api/calls", "trainee-1", nil))
	env.do(t, "POST", "/api/calls/current/message", "trainee-1", sendMessageRequest{Text: "Good morning!"})

	rec := env.do(t, "POST", "/api/calls/current/end", "trainee-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end status = %d (body %q)", rec.Code, rec.Body.String())
	}
	res := decode[resultJSON](t, rec)
	if res.Feedback == nil {
		t.Fatal("expected automated feedback in the end-call response")
	}
	if res.Feedback.Scores.Empathy != 9 {
		t.Errorf("empathy = %v, want 9", res.Feedback.Scores.Empathy)
	}

	sessions := decode[[]sessionJSON](t, env.do(t, "GET", "/api/sessions", "trainee-1", nil))
	if len(sessions) != 1 || sessions[0].ID != started.SessionID {
		t.Fatalf("sessions = %+v, want the finished call", sessions)
	}
	if sessions[0].Automated == nil {
		t.Error("listed session missing automated feedback")
	}

	// Ending again without an active call is a 404.
	if rec := env.do(t, "POST", "/api/calls/current/end", "trainee-1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("double end status = %d, want 404", rec.Code)
	}
}

func TestGetSessionAuthorization(t *testing.T) {
	env := newTestEnv(t)
	started := decode[statusJSON](t, env.do(t, "POST", "/api/calls", "trainee-1", nil))
	env.do(t, "POST", "/api/calls/current/end", "trainee-1", nil)
	path := "/api/sessions/" + started.SessionID

	if rec := env.do(t, "GET", path, "trainee-1", nil); rec.Code != http.StatusOK {
		t.Errorf("owner status = %d, want 200", rec.Code)
	}
	if rec := env.do(t, "GET", path, "trainee-2", nil); rec.Code != http.StatusForbidden {
		t.Errorf("other trainee status = %d, want 403", rec.Code)
	}
	if rec := env.do(t, "GET", path, "trainer-1", nil); rec.Code != http.StatusOK {
		t.Errorf("trainer status = %d, want 200", rec.Code)
	}
	if rec := env.do(t, "GET", "/api/sessions/nope", "trainee-1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d, want 404", rec.Code)
	}
}

func TestHumanFeedback(t *testing.T) {
	env := newTestEnv(t)
	started := decode[statusJSON](t, env.do(t, "POST", "/api/calls", "trainee-1", nil))
	env.do(t, "POST", "/api/calls/current/end", "trainee-1", nil)
	path := "/api/sessions/" + started.SessionID + "/feedback"
	body := humanFeedbackRequest{
		Scores:   score.Set{Clarity: 7, ProblemSolving: 8, Empathy: 6, Control: 7, Speed: 9},
		Comments: "Good recovery after the hold.",
	}

	if rec := env.do(t, "POST", path, "trainee-1", body); rec.Code != http.StatusForbidden {
		t.Errorf("trainee review status = %d, want 403", rec.Code)
	}

	rec := env.do(t, "POST", path, "trainer-1", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("trainer review status = %d (body %q)", rec.Code, rec.Body.String())
	}
	fb := decode[feedbackJSON](t, rec)
	if fb.IsAutomated {
		t.Error("human feedback flagged automated")
	}

	if rec := env.do(t, "POST", path, "trainer-1", body); rec.Code != http.StatusConflict {
		t.Errorf("duplicate review status = %d, want 409", rec.Code)
	}
	if rec := env.do(t, "POST", "/api/sessions/nope/feedback", "trainer-1", body); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}

	// The human record is now the displayed one.
	got := decode[sessionJSON](t, env.do(t, "GET", "/api/sessions/"+started.SessionID, "trainer-1", nil))
	if got.Human == nil {
		t.Fatal("session missing human feedback")
	}
	if got.Human.Scores.Speed != 9 {
		t.Errorf("speed = %v, want 9", got.Human.Scores.Speed)
	}
}

func TestAnalyticsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/api/calls", "trainee-1", nil)
	env.do(t, "POST", "/api/calls/current/message", "trainee-1", sendMessageRequest{Text: "hello"})
	env.do(t, "POST", "/api/calls/current/end", "trainee-1", nil)

	snap := decode[analytics.Snapshot](t, env.do(t, "GET", "/api/analytics", "trainee-1", nil))
	if snap.TotalCalls != 1 || snap.ScoredCalls != 1 {
		t.Errorf("snapshot = %+v, want one scored call", snap)
	}

	// Trainers may read another trainee's analytics, trainees may not.
	if rec := env.do(t, "GET", "/api/analytics?trainee_id=trainee-1", "trainer-1", nil); rec.Code != http.StatusOK {
		t.Errorf("trainer cross-read status = %d, want 200", rec.Code)
	}
	if rec := env.do(t, "GET", "/api/analytics?trainee_id=trainee-1", "trainee-2", nil); rec.Code != http.StatusForbidden {
		t.Errorf("trainee cross-read status = %d, want 403", rec.Code)
	}
}

func TestVoices(t *testing.T) {
	env := newTestEnv(t)

	voices := decode[[]types.VoiceProfile](t, env.do(t, "GET", "/api/voices", "trainee-1", nil))
	if len(voices) != 1 || voices[0].ID != "caller-v1" {
		t.Errorf("voices = %+v", voices)
	}

	env.srv.tts = nil
	if rec := env.do(t, "GET", "/api/voices", "trainee-1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("no tts status = %d, want 404", rec.Code)
	}
}

func TestCreateUser(t *testing.T) {
	env := newTestEnv(t)
	body := createUserRequest{Email: "new@example.com", FirstName: "New", LastName: "Hire", Role: store.RoleTrainee}

	if rec := env.do(t, "POST", "/api/users", "trainer-1", body); rec.Code != http.StatusForbidden {
		t.Errorf("trainer create status = %d, want 403", rec.Code)
	}
	rec := env.do(t, "POST", "/api/users", "admin-1", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin create status = %d (body %q)", rec.Code, rec.Body.String())
	}
	created := decode[userJSON](t, rec)
	if created.ID == "" {
		t.Error("created user has no id")
	}

	if rec := env.do(t, "POST", "/api/users", "admin-1", createUserRequest{Role: "wizard"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad role status = %d, want 400", rec.Code)
	}
}

func TestScenariosEndpoint(t *testing.T) {
	env := newTestEnv(t)

	list := decode[[]scenarioJSON](t, env.do(t, "GET", "/api/scenarios", "trainee-1", nil))
	if len(list) != 0 {
		t.Errorf("scenarios = %+v, want empty without config", list)
	}

	env.srv.scenarios = func() []config.ScenarioConfig {
		return []config.ScenarioConfig{{Name: "denied-claim", Persona: "You are upset about a denied MRI claim."}}
	}
	list = decode[[]scenarioJSON](t, env.do(t, "GET", "/api/scenarios", "trainee-1", nil))
	if len(list) != 1 || list[0].Name != "denied-claim" {
		t.Errorf("scenarios = %+v", list)
	}
}
