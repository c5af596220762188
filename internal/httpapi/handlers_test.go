package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"llmexplorer/internal/ollama"
	"llmexplorer/internal/session"
	"llmexplorer/internal/store"
)

// modelRecorder captures the JSON payloads the handlers send to the model
// server so tests can assert on the outgoing model and options.
type modelRecorder struct {
	mu       sync.Mutex
	payloads []map[string]any
}

func (m *modelRecorder) record(r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return
	}
	m.mu.Lock()
	m.payloads = append(m.payloads, payload)
	m.mu.Unlock()
}

func (m *modelRecorder) last() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.payloads) == 0 {
		return nil
	}
	return m.payloads[len(m.payloads)-1]
}

func newTestRouter(t *testing.T) (*gin.Engine, *modelRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	rec := &modelRecorder{}
	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			rec.record(r)
			w.Write([]byte(`{"message":{"role":"assistant","content":"Try Portugal."}}` + "\n"))
		case "/api/generate":
			rec.record(r)
			w.Write([]byte(`{"response":"generated"}` + "\n"))
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"llama3","size":1}]}`))
		case "/api/embeddings":
			w.Write([]byte(`{"embedding":[1,2]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(model.Close)

	manager := session.NewManager(session.Config{
		Users:        store.NewUsers(rdb),
		Chats:        store.NewChats(rdb),
		Embeddings:   store.NewEmbeddings(rdb),
		Model:        ollama.New(ollama.Config{BaseURL: model.URL}),
		Sessions:     session.NewTokenStore(rdb, time.Hour),
		Logger:       zerolog.Nop(),
		DefaultModel: "llama3",
	})
	return NewRouter(RouterConfig{
		Handlers:    NewHandlers(manager, zerolog.Nop()),
		CORSOrigins: []string{"*"},
	}), rec
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, r *gin.Engine) string {
	t.Helper()
	if w := doJSON(t, r, http.MethodPost, "/api/register", "", `{"username":"alice","password":"p1","display_name":"Alice"}`); w.Code != http.StatusCreated {
		t.Fatalf("register status %d: %s", w.Code, w.Body.String())
	}
	w := doJSON(t, r, http.MethodPost, "/api/login", "", `{"username":"alice","password":"p1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected non-empty token")
	}
	return resp.Token
}

func TestRegisterDuplicateConflict(t *testing.T) {
	r, _ := newTestRouter(t)
	login(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/register", "", `{"username":"alice","password":"p2","display_name":"Other"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", w.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	r, _ := newTestRouter(t)
	login(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/login", "", `{"username":"alice","password":"wrong"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/chats", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/api/chats", "bogus-token", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", w.Code)
	}
}

func TestChatFlow(t *testing.T) {
	r, _ := newTestRouter(t)
	token := login(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/chats", token, `{"name":"Trip Planning","context":""}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create chat status %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ChatID string `json:"chat_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ChatID != "1" {
		t.Fatalf("expected chat id \"1\", got %q", created.ChatID)
	}

	w = doJSON(t, r, http.MethodPost, "/api/chats/1/messages", token, `{"content":"Where should I go in March?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("send message status %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, "event: partial") || !strings.Contains(body, "event: done") {
		t.Fatalf("expected SSE partial and done events, got: %s", body)
	}
	if !strings.Contains(body, "Try Portugal.") {
		t.Fatalf("expected assistant reply in stream, got: %s", body)
	}

	w = doJSON(t, r, http.MethodGet, "/api/chats/1/messages", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("history status %d", w.Code)
	}
	var hist struct {
		Messages []store.Message `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Messages) != 2 || hist.Messages[1].Content != "Try Portugal." {
		t.Fatalf("unexpected history %#v", hist.Messages)
	}

	w = doJSON(t, r, http.MethodGet, "/api/chats", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list chats status %d", w.Code)
	}
	var listed struct {
		Chats []store.ChatMetadata `json:"chats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode chat list: %v", err)
	}
	if len(listed.Chats) != 1 || listed.Chats[0].MessagesCount != 2 {
		t.Fatalf("unexpected chat list %#v", listed.Chats)
	}

	w = doJSON(t, r, http.MethodDelete, "/api/chats/1", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete chat status %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/api/chats", token, "")
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode chat list: %v", err)
	}
	if len(listed.Chats) != 0 {
		t.Fatalf("expected empty chat list after delete, got %#v", listed.Chats)
	}
}

func TestSendMessageUnknownChat(t *testing.T) {
	r, _ := newTestRouter(t)
	token := login(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/chats/42/messages", token, `{"content":"hi"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown chat, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRenameChat(t *testing.T) {
	r, _ := newTestRouter(t)
	token := login(t, r)

	doJSON(t, r, http.MethodPost, "/api/chats", token, `{"name":"Old"}`)
	w := doJSON(t, r, http.MethodPatch, "/api/chats/1", token, `{"name":"New"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("rename status %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodPatch, "/api/chats/9", token, `{"name":"Ghost"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 renaming missing chat, got %d", w.Code)
	}
}

func TestGenerateStreams(t *testing.T) {
	r, _ := newTestRouter(t)
	token := login(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/generate", token, `{"prompt":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("generate status %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "generated") {
		t.Fatalf("expected generated text in stream, got: %s", w.Body.String())
	}
}

func TestModelsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	token := login(t, r)

	w := doJSON(t, r, http.MethodGet, "/api/models", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("models status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "llama3") {
		t.Fatalf("expected model name in response, got: %s", w.Body.String())
	}
}

func TestSendMessageOverridesModelAndOptions(t *testing.T) {
	r, rec := newTestRouter(t)
	token := login(t, r)

	if w := doJSON(t, r, http.MethodPost, "/api/chats", token, `{"name":"Trip Planning"}`); w.Code != http.StatusCreated {
		t.Fatalf("create chat status %d: %s", w.Code, w.Body.String())
	}

	w := doJSON(t, r, http.MethodPost, "/api/chats/1/messages", token, `{"content":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("send message status %d: %s", w.Code, w.Body.String())
	}
	payload := rec.last()
	if payload == nil || payload["model"] != "llama3" {
		t.Fatalf("expected configured default model in payload, got %#v", payload)
	}

	w = doJSON(t, r, http.MethodPost, "/api/chats/1/messages", token,
		`{"content":"hi again","model":"mistral","temperature":0.2,"top_p":0.5,"num_predict":64}`)
	if w.Code != http.StatusOK {
		t.Fatalf("send message status %d: %s", w.Code, w.Body.String())
	}
	payload = rec.last()
	if payload["model"] != "mistral" {
		t.Fatalf("expected overridden model in payload, got %#v", payload["model"])
	}
	opts, ok := payload["options"].(map[string]any)
	if !ok {
		t.Fatalf("expected options object in payload, got %#v", payload["options"])
	}
	if opts["temperature"] != 0.2 || opts["top_p"] != 0.5 || opts["num_predict"] != float64(64) {
		t.Fatalf("expected overridden options in payload, got %#v", opts)
	}
}

func TestGenerateOverridesModel(t *testing.T) {
	r, rec := newTestRouter(t)
	token := login(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/generate", token, `{"prompt":"hello","model":"mistral"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("generate status %d: %s", w.Code, w.Body.String())
	}
	if payload := rec.last(); payload["model"] != "mistral" {
		t.Fatalf("expected overridden model in payload, got %#v", payload["model"])
	}
}

func TestQueryTokenRejected(t *testing.T) {
	r, _ := newTestRouter(t)
	token := login(t, r)

	w := doJSON(t, r, http.MethodGet, "/api/chats?token="+token, "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for token in query string, got %d", w.Code)
	}
}

func TestAuditTrailWithoutStore(t *testing.T) {
	r, _ := newTestRouter(t)
	token := login(t, r)

	w := doJSON(t, r, http.MethodGet, "/api/audit", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("audit status %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"entries":[]`) {
		t.Fatalf("expected empty entries list, got: %s", w.Body.String())
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	r, _ := newTestRouter(t)
	token := login(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/logout", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("logout status %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/api/chats", token, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", w.Code)
	}
}
