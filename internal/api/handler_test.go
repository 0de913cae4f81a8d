package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/RichardoC/talknow/internal/chat"
	"github.com/RichardoC/talknow/internal/config"
	"github.com/RichardoC/talknow/internal/db"
	"github.com/RichardoC/talknow/internal/llm"
	"github.com/RichardoC/talknow/internal/llm/llmtest"
	"github.com/RichardoC/talknow/internal/models"
	"github.com/RichardoC/talknow/internal/render"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("github.com/dlclark/regexp2.runClock"),
	)
}

type testAPI struct {
	t       *testing.T
	handler http.Handler
	cookie  *http.Cookie
}

func newTestAPI(t *testing.T, fake *llmtest.FakeModel) *testAPI {
	t.Helper()
	database, err := db.New("")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	model := llm.NewWithModel(fake, config.DefaultConfig().LLM, nil, logger)
	h := NewHandler(chat.NewService(database, model, logger), render.NewHTML(), logger)

	static := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("page"))
	})
	return &testAPI{
		t:       t,
		handler: Chain(h.Routes(static), WithRequestID, Recover(logger), AccessLog(logger)),
	}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if a.cookie != nil {
		req.AddCookie(a.cookie)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) login(name string) models.Session {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/login", LoginRequest{Username: name})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())

	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			a.cookie = c
		}
	}
	require.NotNil(a.t, a.cookie, "session cookie set")

	var sess models.Session
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &sess))
	return sess
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestLoginAndSession(t *testing.T) {
	a := newTestAPI(t, &llmtest.FakeModel{})

	rec := a.do(http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sess := a.login("Ada")
	assert.Equal(t, "Ada", sess.Username)
	assert.True(t, a.cookie.HttpOnly)

	rec = a.do(http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sess.ID, decodeBody[models.Session](t, rec).ID)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestLoginValidation(t *testing.T) {
	a := newTestAPI(t, &llmtest.FakeModel{})

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/login", LoginRequest{Username: "  "}).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, a.do(http.MethodGet, "/api/login", nil).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationsRequireSession(t *testing.T) {
	a := newTestAPI(t, &llmtest.FakeModel{})
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/conversations", nil).Code)

	a.cookie = &http.Cookie{Name: SessionCookie, Value: "stale"}
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/conversations", nil).Code)
}

func TestSeededConversationsAndMessages(t *testing.T) {
	a := newTestAPI(t, &llmtest.FakeModel{})
	a.login("ada")

	rec := a.do(http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	convs := decodeBody[[]models.Conversation](t, rec)
	require.Len(t, convs, 2)
	assert.Equal(t, "Code Examples", convs[0].Title)
	assert.Equal(t, 1, convs[0].MessageCount)

	rec = a.do(http.MethodGet, "/api/messages?conversation_id="+convs[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[MessagesResponse](t, rec)
	assert.Equal(t, "Code Examples", resp.Conversation.Title)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, models.Text("Show me a React component"), resp.Messages[0].Message.Content)
	assert.Contains(t, string(resp.Messages[0].HTML), "Show me a React component")

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/messages", nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/messages?conversation_id=nope", nil).Code)
}

func TestSendMessageStartsConversation(t *testing.T) {
	fake := &llmtest.FakeModel{Answer: "function Hello() {}"}
	a := newTestAPI(t, fake)
	a.login("ada")

	rec := a.do(http.MethodPost, "/api/message", MessageRequest{Content: "Show me a React component please"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[MessageResponse](t, rec)

	assert.Equal(t, "Show me a React component plea...", resp.Conversation.Title)
	assert.Equal(t, 2, resp.Conversation.MessageCount)
	assert.Equal(t, models.RoleUser, resp.User.Message.Role)
	assert.Equal(t, models.ContentCode, resp.Assistant.Message.Type())
	assert.Equal(t, "javascript", resp.Assistant.Message.Language)
	assert.Contains(t, string(resp.Assistant.HTML), "Code - javascript")

	rec = a.do(http.MethodPost, "/api/message?conversation_id="+resp.Conversation.ID, MessageRequest{Content: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	again := decodeBody[MessageResponse](t, rec)
	assert.Equal(t, resp.Conversation.ID, again.Conversation.ID)
	assert.Equal(t, 4, again.Conversation.MessageCount)
	assert.Equal(t, models.Text("function Hello() {}"), again.Assistant.Message.Content)
}

func TestSendMessageErrors(t *testing.T) {
	a := newTestAPI(t, &llmtest.FakeModel{Answer: "x"})
	a.login("ada")

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/message", MessageRequest{Content: " "}).Code)
	assert.Equal(t, http.StatusNotFound,
		a.do(http.MethodPost, "/api/message?conversation_id=missing", MessageRequest{Content: "hi"}).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, a.do(http.MethodGet, "/api/message", nil).Code)
}

func TestSendMessageWhileBusy(t *testing.T) {
	fake := &llmtest.FakeModel{Answer: "done", Block: make(chan struct{})}
	a := newTestAPI(t, fake)
	a.login("ada")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rec := a.do(http.MethodPost, "/api/message", MessageRequest{Content: "first"})
		assert.Equal(t, http.StatusOK, rec.Code)
	}()
	require.Eventually(t, func() bool { return fake.Calls() == 1 }, time.Second, 5*time.Millisecond)

	rec := a.do(http.MethodPost, "/api/message", MessageRequest{Content: "second"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(fake.Block)
	wg.Wait()
}

func TestNewRenameDeleteConversation(t *testing.T) {
	a := newTestAPI(t, &llmtest.FakeModel{})
	a.login("ada")

	rec := a.do(http.MethodPost, "/api/conversations", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	conv := decodeBody[models.Conversation](t, rec)
	assert.Equal(t, "New Chat", conv.Title)

	path := "/api/conversations/update?conversation_id=" + conv.ID
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPut, path, UpdateConversationRequest{Title: ""}).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodPut, path, UpdateConversationRequest{Title: "Renamed"}).Code)

	convs := decodeBody[[]models.Conversation](t, a.do(http.MethodGet, "/api/conversations", nil))
	require.Len(t, convs, 3)
	assert.Equal(t, "Renamed", convs[0].Title)

	path = "/api/conversations/delete?conversation_id=" + conv.ID
	assert.Equal(t, http.StatusMethodNotAllowed, a.do(http.MethodPost, path, nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodDelete, path, nil).Code)
}

func TestOtherSessionsConversationsAreHidden(t *testing.T) {
	a := newTestAPI(t, &llmtest.FakeModel{})
	a.login("alice")
	convs := decodeBody[[]models.Conversation](t, a.do(http.MethodGet, "/api/conversations", nil))

	a.login("bob")
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/messages?conversation_id="+convs[0].ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodDelete, "/api/conversations/delete?conversation_id="+convs[0].ID, nil).Code)
}

func TestLogoutClearsSession(t *testing.T) {
	a := newTestAPI(t, &llmtest.FakeModel{})
	a.login("ada")

	rec := a.do(http.MethodPost, "/api/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/conversations", nil).Code)

	a.cookie = nil
	assert.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/logout", nil).Code)
}

func TestStaticFallback(t *testing.T) {
	a := newTestAPI(t, &llmtest.FakeModel{})
	rec := a.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "page", rec.Body.String())
}

func TestRecoverReturns500(t *testing.T) {
	logger := zaptest.NewLogger(t)
	h := Recover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))

	assert.Empty(t, RequestID(context.Background()))
}

func TestRateLimitPerClient(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RateLimit(1, 2)(ok)

	send := func(path, remote string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("/api/session", "10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, send("/api/session", "10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, send("/api/session", "10.0.0.1:1002"))
	assert.Equal(t, http.StatusOK, send("/api/session", "10.0.0.2:1000"), "other clients have their own bucket")
	assert.Equal(t, http.StatusOK, send("/app.js", "10.0.0.1:1003"), "static files are not limited")

	disabled := RateLimit(0, 0)(ok)
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestClientLimiterForgetsIdleClients(t *testing.T) {
	l := newClientLimiter(1, 1)
	start := time.Now()
	assert.True(t, l.allow("a", start))
	assert.False(t, l.allow("a", start))

	later := start.Add(limiterIdle + limiterGCPeriod + time.Second)
	assert.True(t, l.allow("b", later))
	l.mu.Lock()
	_, kept := l.limiters["a"]
	l.mu.Unlock()
	assert.False(t, kept)
}
