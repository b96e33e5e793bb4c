package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timbermart/internal/adapter/api"
	"timbermart/internal/adapter/api/handler"
	"timbermart/internal/adapter/api/middleware"
	"timbermart/internal/adapter/repository"
	"timbermart/internal/infrastructure/auth"
	"timbermart/internal/infrastructure/ratelimit"
	ws "timbermart/internal/infrastructure/websocket"
	"timbermart/internal/usecase"
)

const testSecret = "test-secret"

type apiFixture struct {
	e        *echo.Echo
	verifier *auth.JWTVerifier
	hub      *ws.Hub
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	chatRepo := repository.NewMemoryChatRepository()
	chat := usecase.NewChatUseCase(chatRepo, 4096, time.Second)
	receipts := usecase.NewReadReceiptUseCase(chatRepo, time.Second)
	presence := usecase.NewPresenceUseCase(repository.NewMemoryParticipantRepository(), chatRepo, usecase.PresenceConfig{
		IdleThreshold:  5 * time.Minute,
		SweepInterval:  time.Minute,
		CoalesceWindow: time.Second,
		StoreTimeout:   time.Second,
	})
	hub := ws.NewHub(chat, receipts, presence, nil, ws.Options{})
	chat.SetNotifier(hub)
	receipts.SetNotifier(hub)
	presence.SetNotifier(hub)

	verifier := auth.NewJWTVerifier(testSecret)
	limiter := ratelimit.NewRateLimiter(map[string]ratelimit.Policy{ratelimit.ActionHTTP: {PerMinute: 1000}})

	e := echo.New()
	e.Validator = api.NewValidator()
	Setup(e, Handlers{
		Chat:      handler.NewChatHandler(chat, receipts, presence),
		Presence:  handler.NewPresenceHandler(presence, 300*time.Second),
		WebSocket: handler.NewWebSocketHandler(hub, chat),
		Health:    handler.NewHealthHandler(nil, hub),
	}, middleware.NewAuthMiddleware(verifier), limiter)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
	})

	return &apiFixture{e: e, verifier: verifier, hub: hub}
}

func (f *apiFixture) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.verifier.GenerateToken("sub-"+userID, userID, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, userID, body string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, userID))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	return rec.Code, decoded
}

func errorCode(body map[string]interface{}) string {
	info, _ := body["error"].(map[string]interface{})
	code, _ := info["code"].(string)
	return code
}

func data(body map[string]interface{}) map[string]interface{} {
	d, _ := body["data"].(map[string]interface{})
	return d
}

func (f *apiFixture) startThread(t *testing.T, buyerID, sellerID string) string {
	t.Helper()
	code, body := f.do(t, http.MethodPost, "/api/v1/chat-threads/start-with-seller", buyerID, `{"seller_id":"`+sellerID+`"}`, nil)
	require.Equal(t, http.StatusOK, code, body)
	return data(body)["thread_id"].(string)
}

func TestAPI_RequiresToken(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.do(t, http.MethodGet, "/api/v1/unread-count?user_type=buyer", "", "", nil)

	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestAPI_StartSendAndRead(t *testing.T) {
	f := newAPIFixture(t)
	threadID := f.startThread(t, "B1", "S1")

	// Starting again returns the same thread.
	assert.Equal(t, threadID, f.startThread(t, "B1", "S1"))

	code, body := f.do(t, http.MethodPost, "/api/v1/chat-threads/"+threadID+"/messages", "B1",
		`{"message_id":"m1","message":"Is the oak still available?","user_type":"buyer"}`, nil)
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "m1", data(body)["message_id"])
	assert.Equal(t, "buyer", data(body)["sender_type"])

	code, body = f.do(t, http.MethodGet, "/api/v1/unread-count?user_type=seller", "S1", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, data(body)["unread_count"])

	code, body = f.do(t, http.MethodGet, "/api/v1/chat-threads/"+threadID+"/messages?user_type=seller&limit=10", "S1", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, data(body)["count"])
	assert.EqualValues(t, 10, data(body)["limit"])

	code, body = f.do(t, http.MethodPost, "/api/v1/chat-threads/"+threadID+"/read", "S1", `{"user_type":"seller"}`, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, data(body)["updated"])
	assert.Equal(t, "seller", data(body)["by_role"])

	code, body = f.do(t, http.MethodGet, "/api/v1/unread-count?user_type=seller&thread_id="+threadID, "S1", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, data(body)["unread_count"])

	code, body = f.do(t, http.MethodGet, "/api/v1/chat-threads/by-seller/S1", "S1", "", nil)
	require.Equal(t, http.StatusOK, code)
	summaries, _ := body["data"].([]interface{})
	require.Len(t, summaries, 1)
	assert.Equal(t, "Is the oak still available?", summaries[0].(map[string]interface{})["last_message"])
}

func TestAPI_MessagePagingBySeq(t *testing.T) {
	f := newAPIFixture(t)
	threadID := f.startThread(t, "B1", "S1")

	for _, id := range []string{"m1", "m2", "m3"} {
		code, body := f.do(t, http.MethodPost, "/api/v1/chat-threads/"+threadID+"/messages", "B1",
			`{"message_id":"`+id+`","message":"pine boards","user_type":"buyer"}`, nil)
		require.Equal(t, http.StatusCreated, code, body)
	}

	var seen []string
	path := "/api/v1/chat-threads/" + threadID + "/messages?user_type=seller&limit=2"
	next := path
	for i := 0; i < 3; i++ {
		code, body := f.do(t, http.MethodGet, next, "S1", "", nil)
		require.Equal(t, http.StatusOK, code)
		items, _ := data(body)["items"].([]interface{})
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			seen = append(seen, item.(map[string]interface{})["message_id"].(string))
		}
		oldest := items[len(items)-1].(map[string]interface{})
		next = fmt.Sprintf("%s&before=%d", path, int64(oldest["seq"].(float64)))
	}

	assert.Equal(t, []string{"m3", "m2", "m1"}, seen)
}

func TestAPI_Errors(t *testing.T) {
	f := newAPIFixture(t)
	threadID := f.startThread(t, "B1", "S1")

	tests := []struct {
		name   string
		method string
		path   string
		userID string
		body   string
		status int
		code   string
	}{
		{"self chat", http.MethodPost, "/api/v1/chat-threads/start-with-seller", "B1", `{"seller_id":"B1"}`, http.StatusBadRequest, "BAD_REQUEST"},
		{"missing seller", http.MethodPost, "/api/v1/chat-threads/start-with-seller", "B1", `{}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"other user's threads", http.MethodGet, "/api/v1/chat-threads/by-buyer/B2", "B1", "", http.StatusForbidden, "FORBIDDEN"},
		{"bad user_type", http.MethodGet, "/api/v1/unread-count?user_type=admin", "B1", "", http.StatusBadRequest, "BAD_REQUEST"},
		{"outsider reads history", http.MethodGet, "/api/v1/chat-threads/" + threadID + "/messages?user_type=seller", "S2", "", http.StatusForbidden, "NOT_A_PARTICIPANT"},
		{"outsider sends", http.MethodPost, "/api/v1/chat-threads/" + threadID + "/messages", "S2", `{"message_id":"x","message":"hi","user_type":"seller"}`, http.StatusForbidden, "NOT_A_PARTICIPANT"},
		{"blank body", http.MethodPost, "/api/v1/chat-threads/" + threadID + "/messages", "B1", `{"message_id":"x","message":"   ","user_type":"buyer"}`, http.StatusBadRequest, "INVALID_BODY"},
		{"unknown thread", http.MethodPost, "/api/v1/chat-threads/nope/read", "B1", `{"user_type":"buyer"}`, http.StatusNotFound, "THREAD_NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(t, tt.method, tt.path, tt.userID, tt.body, nil)
			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.code, errorCode(body))
		})
	}
}

func TestAPI_KeepAliveAndPresence(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/v1/keep-alive", "B1", "", map[string]string{
		"X-User-Type": "buyer",
		"X-User-ID":   "B2",
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	code, body = f.do(t, http.MethodPost, "/api/v1/keep-alive", "B1", "", map[string]string{
		"X-User-Type": "buyer",
		"X-User-ID":   "B1",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.EqualValues(t, 300, body["next_keep_alive_in_seconds"])

	code, body = f.do(t, http.MethodGet, "/api/v1/presence/buyer/B1", "S1", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, data(body)["is_online"])

	code, _ = f.do(t, http.MethodPost, "/api/v1/presence/offline", "B1", "", map[string]string{
		"X-User-Type": "buyer",
		"X-User-ID":   "B1",
	})
	require.Equal(t, http.StatusOK, code)

	code, body = f.do(t, http.MethodGet, "/api/v1/presence/buyer/B1", "S1", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, data(body)["is_online"])
}

func TestAPI_Health(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.do(t, http.MethodGet, "/health", "", "", nil)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", data(body)["status"])
	assert.EqualValues(t, 0, data(body)["live_sessions"])
}

func TestAPI_WebSocket(t *testing.T) {
	f := newAPIFixture(t)
	threadID := f.startThread(t, "B1", "S1")

	server := httptest.NewServer(f.e)
	defer server.Close()
	base := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat/" + threadID

	t.Run("outsider is rejected before upgrade", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(base+"?user_id=S2&user_type=seller&token="+f.token(t, "S2"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("identity must match the token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(base+"?user_id=S1&user_type=seller&token="+f.token(t, "B1"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("participant receives history", func(t *testing.T) {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+f.token(t, "S1"))
		conn, _, err := websocket.DefaultDialer.Dial(base+"?user_id=S1&user_type=seller", header)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var frame map[string]interface{}
		require.NoError(t, conn.ReadJSON(&frame))
		assert.Equal(t, "history", frame["type"])
		assert.Equal(t, threadID, frame["thread_id"])

		assert.Eventually(t, func() bool { return f.hub.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	})
}
