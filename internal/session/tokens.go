package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Session is the explicit per-login context: created at login, destroyed at
// logout. ChatID is empty until the user selects or creates a chat.
type Session struct {
	Token    string `json:"-"`
	Username string `json:"username"`
	ChatID   string `json:"chat_id"`
}

func (s *Session) ChatActive() bool {
	return s.ChatID != ""
}

// TokenStore keeps session records in Redis under an opaque token, with a TTL
// refreshed on every save.
type TokenStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewTokenStore(rdb *redis.Client, ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenStore{redis: rdb, ttl: ttl}
}

func (t *TokenStore) key(token string) string {
	return "llmexplorer:session:" + token
}

func (t *TokenStore) Create(ctx context.Context, username string) (*Session, error) {
	sess := &Session{Token: uuid.NewString(), Username: username}
	if err := t.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (t *TokenStore) Save(ctx context.Context, sess *Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := t.redis.Set(ctx, t.key(sess.Token), string(b), t.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Get returns nil when the token is unknown or expired.
func (t *TokenStore) Get(ctx context.Context, token string) (*Session, error) {
	raw, err := t.redis.Get(ctx, t.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	sess.Token = token
	return &sess, nil
}

func (t *TokenStore) Clear(ctx context.Context, token string) error {
	if err := t.redis.Del(ctx, t.key(token)).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
