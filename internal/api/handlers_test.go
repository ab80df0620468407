package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gwi.com/chat-relay/internal/auth"
	"gwi.com/chat-relay/internal/core"
	"gwi.com/chat-relay/internal/llm"
	"gwi.com/chat-relay/internal/store"
)

func newTestRouter(t *testing.T, jwtSecret string) http.Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	resolver := llm.NewResolver(map[llm.Family]llm.Credentials{
		llm.FamilyGemini: {APIKey: "g", BaseURL: "gemini.test:443"},
		llm.FamilyOpenAI: {APIKey: "o", BaseURL: "https://openai.test/v1"},
	})
	registry := llm.NewRegistry(llm.MockFactory, logger)
	svc := core.NewChatService(store.NewMemoryStore(), resolver, registry, core.Settings{
		DefaultModelID:      "gemini-1.5-flash",
		DefaultOwnerID:      "default-user",
		DefaultSystemPrompt: "You are a helpful assistant.",
	}, logger)
	return NewRouter(NewAPIHandler(svc, logger), jwtSecret, logger)
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func readFrames(t *testing.T, rec *httptest.ResponseRecorder) []core.Frame {
	t.Helper()
	var frames []core.Frame
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var f core.Frame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &f), scanner.Text())
		frames = append(frames, f)
	}
	require.NoError(t, scanner.Err())
	return frames
}

func startConversation(t *testing.T, h http.Handler, body map[string]any, headers ...string) string {
	t.Helper()
	body["newConversation"] = true
	rec := doJSON(t, h, http.MethodPost, "/api/chat", body, headers...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[successResponse](t, rec)
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.ThreadID)
	return resp.ThreadID
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, newTestRouter(t, ""), http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestChatStreamsFrames(t *testing.T) {
	h := newTestRouter(t, "")
	threadID := startConversation(t, h, map[string]any{"modelId": "gpt-4o"})

	rec := doJSON(t, h, http.MethodPost, "/api/chat", map[string]any{"threadId": threadID, "message": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	frames := readFrames(t, rec)
	require.GreaterOrEqual(t, len(frames), 2)
	var reply strings.Builder
	for _, f := range frames[:len(frames)-1] {
		assert.Equal(t, core.FrameChunk, f.Type)
		reply.WriteString(f.Content)
	}
	want := `[MOCK] Received your message: "hello". This is a mock response.`
	assert.Equal(t, want, reply.String())
	assert.Equal(t, core.Frame{Type: core.FrameDone, ThreadID: threadID, ModelID: "gpt-4o"}, frames[len(frames)-1])

	rec = doJSON(t, h, http.MethodGet, "/api/threads?threadId="+threadID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	details := decode[ThreadDetailsResponse](t, rec)
	require.Len(t, details.Messages, 2)
	assert.Equal(t, "hello", details.Messages[0].Content)
	assert.Equal(t, want, details.Messages[1].Content)
	assert.Equal(t, "hello", details.Thread.Title)
}

func TestChatValidation(t *testing.T) {
	h := newTestRouter(t, "")
	threadID := startConversation(t, h, map[string]any{})

	tests := []struct {
		name string
		body map[string]any
		want string
	}{
		{"missing message", map[string]any{"threadId": threadID}, "message is required"},
		{"missing thread", map[string]any{"message": "hi"}, "threadId is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/chat", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.want, decode[errorResponse](t, rec).Error)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatUnknownModelEndsWithErrorFrame(t *testing.T) {
	h := newTestRouter(t, "")
	threadID := startConversation(t, h, map[string]any{})

	rec := doJSON(t, h, http.MethodPost, "/api/chat", map[string]any{
		"threadId": threadID,
		"message":  "hello",
		"modelId":  "llama-3",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	frames := readFrames(t, rec)
	require.Len(t, frames, 1)
	assert.Equal(t, core.FrameError, frames[0].Type)
	assert.Contains(t, frames[0].Error, "llama-3")
}

func TestChatMissingCredentialsNamesVariable(t *testing.T) {
	h := newTestRouter(t, "")
	threadID := startConversation(t, h, map[string]any{"modelId": "deepseek-chat"})

	rec := doJSON(t, h, http.MethodPost, "/api/chat", map[string]any{"threadId": threadID, "message": "hello"})
	frames := readFrames(t, rec)
	require.Len(t, frames, 1)
	assert.Equal(t, core.FrameError, frames[0].Type)
	assert.Contains(t, frames[0].Error, "DEEPSEEK_API_KEY")
}

func TestThreadsLifecycle(t *testing.T) {
	h := newTestRouter(t, "")

	rec := doJSON(t, h, http.MethodGet, "/api/threads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"threads":[]}`, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/threads", map[string]any{
		"title":    "Research",
		"metadata": map[string]any{"topic": "go"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	created := decode[ThreadResponse](t, rec).Thread
	require.NotNil(t, created)
	assert.Equal(t, "Research", created.Title)
	assert.Equal(t, "default-user", created.OwnerID)

	rec = doJSON(t, h, http.MethodGet, "/api/threads?threadId="+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"messages":[]`)

	second := startConversation(t, h, map[string]any{})
	time.Sleep(time.Millisecond)
	stream := doJSON(t, h, http.MethodPost, "/api/chat", map[string]any{"threadId": created.ID, "message": "bump"})
	require.Equal(t, http.StatusOK, stream.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/threads", nil)
	threads := decode[ListThreadsResponse](t, rec).Threads
	require.Len(t, threads, 2)
	assert.Equal(t, created.ID, threads[0].ID)
	assert.Equal(t, second, threads[1].ID)

	rec = doJSON(t, h, http.MethodDelete, "/api/threads?threadId="+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/api/threads?threadId="+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/threads", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "threadId is required", decode[errorResponse](t, rec).Error)
}

func TestJWTAuthentication(t *testing.T) {
	const secret = "test-secret"
	h := newTestRouter(t, secret)

	rec := doJSON(t, h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/threads", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/threads", nil, "Authorization", "Bearer nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	aliceToken, err := auth.GenerateJWT(secret, "alice", time.Hour)
	require.NoError(t, err)
	bobToken, err := auth.GenerateJWT(secret, "bob", time.Hour)
	require.NoError(t, err)
	alice := []string{"Authorization", "Bearer " + aliceToken}
	bob := []string{"Authorization", "Bearer " + bobToken}

	// The token subject wins over the ownerId in the body.
	threadID := startConversation(t, h, map[string]any{"ownerId": "bob"}, alice...)

	rec = doJSON(t, h, http.MethodGet, "/api/threads?ownerId=bob", nil, alice...)
	threads := decode[ListThreadsResponse](t, rec).Threads
	require.Len(t, threads, 1)
	assert.Equal(t, threadID, threads[0].ID)
	assert.Equal(t, "alice", threads[0].OwnerID)

	rec = doJSON(t, h, http.MethodGet, "/api/threads", nil, bob...)
	assert.Empty(t, decode[ListThreadsResponse](t, rec).Threads)

	rec = doJSON(t, h, http.MethodGet, "/api/threads?threadId="+threadID, nil, bob...)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
