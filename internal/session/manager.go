package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"llmexplorer/internal/limits"
	"llmexplorer/internal/metrics"
	"llmexplorer/internal/ollama"
	"llmexplorer/internal/storage"
	"llmexplorer/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrNoChatSelected     = errors.New("no chat selected")
	ErrRateLimited        = errors.New("rate limit exceeded")
)

// Manager glues the user directory, chat registry and model gateway together
// and owns the session lifecycle. Every call takes the explicit session
// object; there is no ambient current-user state.
type Manager struct {
	users       *store.Users
	chats       *store.Chats
	embeddings  *store.Embeddings
	model       *ollama.Client
	sessions    *TokenStore
	audit       *storage.Store
	rateLimiter *limits.RateLimiter
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	defaultModel string
	options      ollama.Options
}

type Config struct {
	Users       *store.Users
	Chats       *store.Chats
	Embeddings  *store.Embeddings
	Model       *ollama.Client
	Sessions    *TokenStore
	Audit       *storage.Store
	RateLimiter *limits.RateLimiter
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics

	DefaultModel string
	Options      ollama.Options
}

func NewManager(cfg Config) *Manager {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Manager{
		users:        cfg.Users,
		chats:        cfg.Chats,
		embeddings:   cfg.Embeddings,
		model:        cfg.Model,
		sessions:     cfg.Sessions,
		audit:        cfg.Audit,
		rateLimiter:  cfg.RateLimiter,
		logger:       cfg.Logger,
		metrics:      m,
		defaultModel: cfg.DefaultModel,
		options:      cfg.Options,
	}
}

func (m *Manager) Register(ctx context.Context, username, password, displayName string) error {
	created, err := m.users.CreateUser(ctx, username, password, displayName)
	if err != nil {
		return err
	}
	if !created {
		return ErrUsernameTaken
	}
	m.metrics.Registrations.Inc()
	m.recordAudit(ctx, username, "register", nil)
	return nil
}

// Login moves a caller from Unauthenticated to Authenticated: verifies the
// credentials, refreshes last_login and mints a session.
func (m *Manager) Login(ctx context.Context, username, password string) (*Session, error) {
	ok, err := m.users.VerifyUser(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		m.metrics.FailedLogins.Inc()
		return nil, ErrInvalidCredentials
	}

	if err := m.users.UpdateLastLogin(ctx, username); err != nil {
		return nil, err
	}
	sess, err := m.sessions.Create(ctx, username)
	if err != nil {
		return nil, err
	}
	m.metrics.Logins.Inc()
	m.recordAudit(ctx, username, "login", nil)
	return sess, nil
}

func (m *Manager) Logout(ctx context.Context, sess *Session) error {
	if err := m.sessions.Clear(ctx, sess.Token); err != nil {
		return err
	}
	m.recordAudit(ctx, sess.Username, "logout", nil)
	return nil
}

// Resolve maps a bearer token back to its session; nil means unauthenticated.
func (m *Manager) Resolve(ctx context.Context, token string) (*Session, error) {
	return m.sessions.Get(ctx, token)
}

func (m *Manager) Profile(ctx context.Context, sess *Session) (store.Profile, error) {
	return m.users.GetProfile(ctx, sess.Username)
}

func (m *Manager) Chats(ctx context.Context, sess *Session) ([]store.ChatMetadata, error) {
	return m.chats.Chats(ctx, sess.Username)
}

func (m *Manager) CreateChat(ctx context.Context, sess *Session, name, chatContext string) (string, error) {
	chatID, err := m.chats.CreateChat(ctx, sess.Username, name, chatContext)
	if err != nil {
		return "", err
	}
	sess.ChatID = chatID
	if err := m.sessions.Save(ctx, sess); err != nil {
		return "", err
	}
	m.metrics.ChatsCreated.Inc()
	m.recordAudit(ctx, sess.Username, "chat_create", map[string]any{"chat_id": chatID, "name": name})
	return chatID, nil
}

// SelectChat activates an existing chat. Unknown ids surface store.ErrNotFound.
func (m *Manager) SelectChat(ctx context.Context, sess *Session, chatID string) error {
	if _, err := m.chats.GetMetadata(ctx, sess.Username, chatID); err != nil {
		return err
	}
	sess.ChatID = chatID
	return m.sessions.Save(ctx, sess)
}

// DeleteChat removes a chat; deleting the open chat drops the session back to
// the no-chat-selected state.
func (m *Manager) DeleteChat(ctx context.Context, sess *Session, chatID string) (bool, error) {
	existed, err := m.chats.DeleteChat(ctx, sess.Username, chatID)
	if err != nil {
		return false, err
	}
	if existed && sess.ChatID == chatID {
		sess.ChatID = ""
		if err := m.sessions.Save(ctx, sess); err != nil {
			return existed, err
		}
	}
	if existed {
		m.metrics.ChatsDeleted.Inc()
		m.recordAudit(ctx, sess.Username, "chat_delete", map[string]any{"chat_id": chatID})
	}
	return existed, nil
}

func (m *Manager) RenameChat(ctx context.Context, sess *Session, chatID, newName string) (bool, error) {
	return m.chats.RenameChat(ctx, sess.Username, chatID, newName)
}

func (m *Manager) History(ctx context.Context, sess *Session, chatID string) ([]store.Message, error) {
	return m.chats.History(ctx, sess.Username, chatID)
}

// CallOverrides carries per-request model and generation-parameter choices.
// Unset fields fall back to the configured defaults.
type CallOverrides struct {
	Model       string
	Temperature *float64
	TopP        *float64
	NumPredict  *int
}

func (m *Manager) resolveCall(ov CallOverrides) (string, ollama.Options) {
	model := m.defaultModel
	if ov.Model != "" {
		model = ov.Model
	}
	opts := m.options
	if ov.Temperature != nil {
		opts.Temperature = *ov.Temperature
	}
	if ov.TopP != nil {
		opts.TopP = *ov.TopP
	}
	if ov.NumPredict != nil {
		opts.NumPredict = *ov.NumPredict
	}
	return model, opts
}

// SendMessage runs one exchange on the active chat: full history plus the new
// user turn goes to the model, and only a successful response is persisted. On
// model failure nothing is written and the user turn is not retained.
func (m *Manager) SendMessage(ctx context.Context, sess *Session, content string, ov CallOverrides, sink ollama.Sink) ([]store.Message, error) {
	if !sess.ChatActive() {
		return nil, ErrNoChatSelected
	}
	if err := m.allowRate(ctx, sess.Username); err != nil {
		return nil, err
	}

	meta, err := m.chats.GetMetadata(ctx, sess.Username, sess.ChatID)
	if err != nil {
		return nil, err
	}
	history, err := m.chats.History(ctx, sess.Username, sess.ChatID)
	if err != nil {
		return nil, err
	}

	messages := make([]ollama.Message, 0, len(history)+2)
	if meta.Context != "" {
		messages = append(messages, ollama.Message{Role: "system", Content: meta.Context})
	}
	for _, msg := range history {
		messages = append(messages, ollama.Message{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, ollama.Message{Role: store.RoleUser, Content: content})

	model, opts := m.resolveCall(ov)
	m.metrics.ModelCalls.Inc()
	response, err := m.model.Chat(ctx, model, messages, opts, sink)
	if err != nil {
		m.metrics.ModelCallFails.Inc()
		return nil, fmt.Errorf("model chat: %w", err)
	}

	updated, err := m.chats.AppendExchange(ctx, sess.Username, sess.ChatID, content, response)
	if err != nil {
		return nil, err
	}
	m.metrics.Exchanges.Inc()
	m.recordAudit(ctx, sess.Username, "exchange", map[string]any{"chat_id": sess.ChatID})
	return updated, nil
}

// Generate is the stateless completion path: no history, nothing persisted.
func (m *Manager) Generate(ctx context.Context, sess *Session, prompt string, ov CallOverrides, sink ollama.Sink) (string, error) {
	if err := m.allowRate(ctx, sess.Username); err != nil {
		return "", err
	}
	model, opts := m.resolveCall(ov)
	m.metrics.ModelCalls.Inc()
	response, err := m.model.Generate(ctx, model, prompt, opts, sink)
	if err != nil {
		m.metrics.ModelCallFails.Inc()
		return "", fmt.Errorf("model generate: %w", err)
	}
	return response, nil
}

// Embed fetches an embedding and appends it to the user's embedding history.
func (m *Manager) Embed(ctx context.Context, sess *Session, prompt string) ([]float64, error) {
	m.metrics.ModelCalls.Inc()
	embedding, err := m.model.Embeddings(ctx, m.defaultModel, prompt)
	if err != nil {
		m.metrics.ModelCallFails.Inc()
		return nil, fmt.Errorf("model embeddings: %w", err)
	}
	if _, err := m.embeddings.Append(ctx, sess.Username, prompt, embedding); err != nil {
		return nil, err
	}
	return embedding, nil
}

func (m *Manager) Models(ctx context.Context) ([]ollama.Model, error) {
	return m.model.Models(ctx)
}

func (m *Manager) AuditTrail(ctx context.Context, sess *Session, limit uint64) ([]storage.AuditEntry, error) {
	if m.audit == nil {
		return []storage.AuditEntry{}, nil
	}
	return m.audit.ListAuditByUser(ctx, sess.Username, limit)
}

func (m *Manager) allowRate(ctx context.Context, username string) error {
	if m.rateLimiter == nil {
		return nil
	}
	allowed, used, _, err := m.rateLimiter.Allow(ctx, username, time.Now())
	if err != nil {
		return err
	}
	if !allowed {
		m.logger.Warn().Str("username", username).Int64("used", used).Msg("rate limit exceeded")
		return ErrRateLimited
	}
	return nil
}

// recordAudit is best effort: a broken audit store must not fail user flows.
func (m *Manager) recordAudit(ctx context.Context, username, action string, meta map[string]any) {
	if m.audit == nil {
		return
	}
	metaJSON := "{}"
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			metaJSON = string(b)
		}
	}
	if err := m.audit.InsertAudit(ctx, storage.AuditEntry{Username: username, Action: action, MetaJSON: metaJSON}); err != nil {
		m.logger.Error().Err(err).Str("action", action).Msg("failed to write audit entry")
	}
}
