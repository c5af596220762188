package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"llmexplorer/internal/session"
	"llmexplorer/internal/store"
)

type Handlers struct {
	manager *session.Manager
	logger  zerolog.Logger
}

func NewHandlers(manager *session.Manager, logger zerolog.Logger) *Handlers {
	return &Handlers{manager: manager, logger: logger}
}

func (h *Handlers) Register(c *gin.Context) {
	var req struct {
		Username    string `json:"username" binding:"required"`
		Password    string `json:"password" binding:"required"`
		DisplayName string `json:"display_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.manager.Register(c.Request.Context(), req.Username, req.Password, req.DisplayName); err != nil {
		if errors.Is(err, session.ErrUsernameTaken) {
			respondError(c, http.StatusConflict, "username_taken", err)
			return
		}
		respondError(c, http.StatusInternalServerError, "registration_failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true})
}

func (h *Handlers) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	sess, err := h.manager.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, "invalid_credentials", err)
			return
		}
		respondError(c, http.StatusInternalServerError, "login_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": sess.Token, "username": sess.Username})
}

func (h *Handlers) Logout(c *gin.Context) {
	if err := h.manager.Logout(c.Request.Context(), currentSession(c)); err != nil {
		respondError(c, http.StatusInternalServerError, "logout_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) Me(c *gin.Context) {
	profile, err := h.manager.Profile(c.Request.Context(), currentSession(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "profile_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"username":     profile.Username,
		"display_name": profile.DisplayName,
		"created_at":   profile.CreatedAt,
		"last_login":   profile.LastLogin,
	})
}

func (h *Handlers) Models(c *gin.Context) {
	models, err := h.manager.Models(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusBadGateway, "models_unavailable", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// ListChats returns the user's chats ordered by last_updated descending; the
// registry itself hands them back unordered.
func (h *Handlers) ListChats(c *gin.Context) {
	chats, err := h.manager.Chats(c.Request.Context(), currentSession(c))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "list_chats_failed", err)
		return
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].LastUpdated.After(chats[j].LastUpdated)
	})
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (h *Handlers) CreateChat(c *gin.Context) {
	var req struct {
		Name    string `json:"name" binding:"required"`
		Context string `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	chatID, err := h.manager.CreateChat(c.Request.Context(), currentSession(c), req.Name, req.Context)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "create_chat_failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"chat_id": chatID})
}

func (h *Handlers) SelectChat(c *gin.Context) {
	err := h.manager.SelectChat(c.Request.Context(), currentSession(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, "chat_not_found", err)
			return
		}
		respondError(c, http.StatusInternalServerError, "select_chat_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) RenameChat(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	renamed, err := h.manager.RenameChat(c.Request.Context(), currentSession(c), c.Param("id"), req.Name)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "rename_chat_failed", err)
		return
	}
	if !renamed {
		respondError(c, http.StatusNotFound, "chat_not_found", store.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) DeleteChat(c *gin.Context) {
	deleted, err := h.manager.DeleteChat(c.Request.Context(), currentSession(c), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "delete_chat_failed", err)
		return
	}
	if !deleted {
		respondError(c, http.StatusNotFound, "chat_not_found", store.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) History(c *gin.Context) {
	history, err := h.manager.History(c.Request.Context(), currentSession(c), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "history_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": history})
}

// SendMessage streams one exchange as SSE: a "partial" event per fragment with
// the accumulated text so far, then a "done" event with the stored transcript.
// Model failures before the first fragment surface as a plain error response.
func (h *Handlers) SendMessage(c *gin.Context) {
	var req struct {
		Content     string   `json:"content" binding:"required"`
		Model       string   `json:"model"`
		Temperature *float64 `json:"temperature"`
		TopP        *float64 `json:"top_p"`
		NumPredict  *int     `json:"num_predict"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	sess := currentSession(c)
	chatID := c.Param("id")
	if sess.ChatID != chatID {
		if err := h.manager.SelectChat(c.Request.Context(), sess, chatID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				respondError(c, http.StatusNotFound, "chat_not_found", err)
				return
			}
			respondError(c, http.StatusInternalServerError, "select_chat_failed", err)
			return
		}
	}

	overrides := session.CallOverrides{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		NumPredict:  req.NumPredict,
	}
	sse := newSSEWriter(c)
	updated, err := h.manager.SendMessage(c.Request.Context(), sess, req.Content, overrides, func(accumulated string) {
		sse.event("partial", gin.H{"content": accumulated})
	})
	if err != nil {
		h.sendMessageError(sse, err)
		return
	}
	sse.event("done", gin.H{"messages": updated})
}

func (h *Handlers) Generate(c *gin.Context) {
	var req struct {
		Prompt      string   `json:"prompt" binding:"required"`
		Model       string   `json:"model"`
		Temperature *float64 `json:"temperature"`
		TopP        *float64 `json:"top_p"`
		NumPredict  *int     `json:"num_predict"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	overrides := session.CallOverrides{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		NumPredict:  req.NumPredict,
	}
	sse := newSSEWriter(c)
	response, err := h.manager.Generate(c.Request.Context(), currentSession(c), req.Prompt, overrides, func(accumulated string) {
		sse.event("partial", gin.H{"content": accumulated})
	})
	if err != nil {
		h.sendMessageError(sse, err)
		return
	}
	sse.event("done", gin.H{"response": response})
}

func (h *Handlers) Embeddings(c *gin.Context) {
	var req struct {
		Prompt string `json:"prompt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	embedding, err := h.manager.Embed(c.Request.Context(), currentSession(c), req.Prompt)
	if err != nil {
		respondError(c, http.StatusBadGateway, "embeddings_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"embedding": embedding})
}

func (h *Handlers) AuditTrail(c *gin.Context) {
	entries, err := h.manager.AuditTrail(c.Request.Context(), currentSession(c), 100)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "audit_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handlers) sendMessageError(sse *sseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrRateLimited):
		sse.fail(http.StatusTooManyRequests, "rate_limited", err)
	case errors.Is(err, session.ErrNoChatSelected):
		sse.fail(http.StatusBadRequest, "no_chat_selected", err)
	case errors.Is(err, store.ErrNotFound):
		sse.fail(http.StatusNotFound, "chat_not_found", err)
	default:
		h.logger.Error().Err(err).Msg("message exchange failed")
		sse.fail(http.StatusBadGateway, "model_call_failed", err)
	}
}

// sseWriter lazily switches the response to an event stream: headers are only
// written once the first event arrives, so early failures can still use plain
// JSON status responses.
type sseWriter struct {
	c       *gin.Context
	started bool
}

func newSSEWriter(c *gin.Context) *sseWriter {
	return &sseWriter{c: c}
}

func (w *sseWriter) event(name string, data any) {
	if !w.started {
		w.c.Writer.Header().Set("Content-Type", "text/event-stream")
		w.c.Writer.Header().Set("Cache-Control", "no-cache")
		w.c.Writer.Header().Set("Connection", "keep-alive")
		w.c.Writer.WriteHeader(http.StatusOK)
		w.started = true
	}
	b, err := json.Marshal(data)
	if err != nil {
		return
	}
	_, _ = w.c.Writer.WriteString("event: " + name + "\n")
	_, _ = w.c.Writer.WriteString("data: " + string(b) + "\n\n")
	w.c.Writer.Flush()
}

func (w *sseWriter) fail(status int, code string, err error) {
	if w.started {
		w.event("error", gin.H{"code": code, "message": err.Error()})
		return
	}
	respondError(w.c, status, code, err)
}

func respondError(c *gin.Context, status int, code string, err error) {
	c.JSON(status, gin.H{
		"error": gin.H{"message": err.Error(), "code": code},
	})
}
