package store

import (
	"fmt"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Profile struct {
	Username    string    `json:"username"`
	Password    string    `json:"password"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	LastLogin   time.Time `json:"last_login"`
}

type ChatMetadata struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Context       string    `json:"context"`
	CreatedAt     time.Time `json:"created_at"`
	MessagesCount int       `json:"messages_count"`
	LastUpdated   time.Time `json:"last_updated"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type EmbeddingRecord struct {
	Prompt    string    `json:"prompt"`
	Embedding []float64 `json:"embedding"`
}

func profileKey(username string) string {
	return "profile:" + username
}

func chatsKey(username string) string {
	return "chats:" + username
}

func chatCounterKey(username string) string {
	return "chat_counter:" + username
}

func transcriptKey(username, chatID string) string {
	return fmt.Sprintf("chat:%s:%s", username, chatID)
}

func embeddingsKey(username string) string {
	return "embeddings:" + username
}
