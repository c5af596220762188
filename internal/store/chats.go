package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Chats is the per-user chat registry. Metadata lives in the chats:{username}
// hash keyed by chat id; each transcript is a single JSON list under
// chat:{username}:{chat_id}. Ids come from INCR of chat_counter:{username}
// and are never reused.
type Chats struct {
	redis *redis.Client
}

func NewChats(rdb *redis.Client) *Chats {
	return &Chats{redis: rdb}
}

// CreateChat allocates the next chat id, writes empty metadata and an empty
// transcript, and returns the id as a string.
func (c *Chats) CreateChat(ctx context.Context, username, name, chatContext string) (string, error) {
	id, err := c.redis.Incr(ctx, chatCounterKey(username)).Result()
	if err != nil {
		return "", fmt.Errorf("next chat id: %w", err)
	}
	chatID := strconv.FormatInt(id, 10)

	now := time.Now().UTC()
	meta := ChatMetadata{
		ID:            chatID,
		Name:          name,
		Context:       chatContext,
		CreatedAt:     now,
		MessagesCount: 0,
		LastUpdated:   now,
	}
	if err := c.setMetadata(ctx, username, meta); err != nil {
		return "", err
	}
	if err := c.redis.Set(ctx, transcriptKey(username, chatID), "[]", 0).Err(); err != nil {
		return "", fmt.Errorf("init transcript: %w", err)
	}
	return chatID, nil
}

// Chats returns all chat metadata for the user. Order is whatever the hash
// yields; display ordering is the caller's concern.
func (c *Chats) Chats(ctx context.Context, username string) ([]ChatMetadata, error) {
	values, err := c.redis.HVals(ctx, chatsKey(username)).Result()
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	out := make([]ChatMetadata, 0, len(values))
	for _, raw := range values {
		var meta ChatMetadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("decode chat metadata: %w", err)
		}
		out = append(out, meta)
	}
	return out, nil
}

func (c *Chats) GetMetadata(ctx context.Context, username, chatID string) (ChatMetadata, error) {
	raw, err := c.redis.HGet(ctx, chatsKey(username), chatID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ChatMetadata{}, ErrNotFound
		}
		return ChatMetadata{}, fmt.Errorf("get chat metadata: %w", err)
	}
	var meta ChatMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return ChatMetadata{}, fmt.Errorf("decode chat metadata: %w", err)
	}
	return meta, nil
}

// History returns the transcript for a chat, or an empty list when the key is
// absent. A never-created chat id is not an error.
func (c *Chats) History(ctx context.Context, username, chatID string) ([]Message, error) {
	raw, err := c.redis.Get(ctx, transcriptKey(username, chatID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("get transcript: %w", err)
	}
	var history []Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if history == nil {
		history = []Message{}
	}
	return history, nil
}

// AppendExchange appends a user turn followed by the assistant turn, writes
// the whole transcript back (last write wins) and bumps the metadata counters.
// The chat's metadata entry must already exist: a missing entry surfaces as
// ErrNotFound rather than being repaired on the fly.
func (c *Chats) AppendExchange(ctx context.Context, username, chatID, userInput, assistantResponse string) ([]Message, error) {
	meta, err := c.GetMetadata(ctx, username, chatID)
	if err != nil {
		return nil, err
	}

	history, err := c.History(ctx, username, chatID)
	if err != nil {
		return nil, err
	}
	history = append(history,
		Message{Role: RoleUser, Content: userInput},
		Message{Role: RoleAssistant, Content: assistantResponse},
	)

	b, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}
	if err := c.redis.Set(ctx, transcriptKey(username, chatID), string(b), 0).Err(); err != nil {
		return nil, fmt.Errorf("save transcript: %w", err)
	}

	meta.MessagesCount += 2
	meta.LastUpdated = time.Now().UTC()
	if err := c.setMetadata(ctx, username, meta); err != nil {
		return nil, err
	}
	return history, nil
}

// DeleteChat removes the transcript unconditionally, then the metadata entry.
// The result reflects metadata presence only; deleting an absent transcript is
// a silent no-op.
func (c *Chats) DeleteChat(ctx context.Context, username, chatID string) (bool, error) {
	if err := c.redis.Del(ctx, transcriptKey(username, chatID)).Err(); err != nil {
		return false, fmt.Errorf("delete transcript: %w", err)
	}
	removed, err := c.redis.HDel(ctx, chatsKey(username), chatID).Result()
	if err != nil {
		return false, fmt.Errorf("delete chat metadata: %w", err)
	}
	return removed > 0, nil
}

// RenameChat reports false when the chat does not exist.
func (c *Chats) RenameChat(ctx context.Context, username, chatID, newName string) (bool, error) {
	meta, err := c.GetMetadata(ctx, username, chatID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	meta.Name = newName
	meta.LastUpdated = time.Now().UTC()
	if err := c.setMetadata(ctx, username, meta); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Chats) setMetadata(ctx context.Context, username string, meta ChatMetadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal chat metadata: %w", err)
	}
	if err := c.redis.HSet(ctx, chatsKey(username), meta.ID, string(b)).Err(); err != nil {
		return fmt.Errorf("save chat metadata: %w", err)
	}
	return nil
}
