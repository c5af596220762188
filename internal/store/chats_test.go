package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestCreateChatIDsIncrease(t *testing.T) {
	chats := NewChats(newTestRedis(t))
	ctx := context.Background()

	first, err := chats.CreateChat(ctx, "alice", "Trip Planning", "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if first != "1" {
		t.Fatalf("expected first chat id \"1\", got %q", first)
	}

	second, err := chats.CreateChat(ctx, "alice", "Recipes", "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if second != "2" {
		t.Fatalf("expected second chat id \"2\", got %q", second)
	}

	// Counters are per user.
	other, err := chats.CreateChat(ctx, "bob", "Notes", "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if other != "1" {
		t.Fatalf("expected bob's first chat id \"1\", got %q", other)
	}
}

func TestHistoryMissingChat(t *testing.T) {
	chats := NewChats(newTestRedis(t))

	history, err := chats.History(context.Background(), "alice", "99")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(history))
	}
}

func TestAppendExchange(t *testing.T) {
	chats := NewChats(newTestRedis(t))
	ctx := context.Background()

	chatID, err := chats.CreateChat(ctx, "alice", "Trip Planning", "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	exchanges := [][2]string{
		{"Where should I go in March?", "Try Portugal."},
		{"And in July?", "Norway is great in summer."},
		{"Thanks! Any café tips? ☕", "Café A Brasileira in Lisbon."},
	}
	for _, ex := range exchanges {
		if _, err := chats.AppendExchange(ctx, "alice", chatID, ex[0], ex[1]); err != nil {
			t.Fatalf("append exchange: %v", err)
		}
	}

	history, err := chats.History(ctx, "alice", chatID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2*len(exchanges) {
		t.Fatalf("expected %d messages, got %d", 2*len(exchanges), len(history))
	}
	for i, msg := range history {
		wantRole := RoleUser
		if i%2 == 1 {
			wantRole = RoleAssistant
		}
		if msg.Role != wantRole {
			t.Fatalf("message %d: expected role %q, got %q", i, wantRole, msg.Role)
		}
	}
	if history[4].Content != "Thanks! Any café tips? ☕" {
		t.Fatalf("unicode content mangled: %q", history[4].Content)
	}

	meta, err := chats.GetMetadata(ctx, "alice", chatID)
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if meta.MessagesCount != len(history) {
		t.Fatalf("messages_count %d != transcript length %d", meta.MessagesCount, len(history))
	}
	if !meta.LastUpdated.After(meta.CreatedAt) && !meta.LastUpdated.Equal(meta.CreatedAt) {
		t.Fatalf("last_updated %v before created_at %v", meta.LastUpdated, meta.CreatedAt)
	}
}

func TestAppendExchangeMissingMetadata(t *testing.T) {
	chats := NewChats(newTestRedis(t))

	_, err := chats.AppendExchange(context.Background(), "alice", "7", "hi", "hello")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteChat(t *testing.T) {
	chats := NewChats(newTestRedis(t))
	ctx := context.Background()

	chatID, err := chats.CreateChat(ctx, "alice", "Trip Planning", "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if _, err := chats.AppendExchange(ctx, "alice", chatID, "hi", "hello"); err != nil {
		t.Fatalf("append exchange: %v", err)
	}

	deleted, err := chats.DeleteChat(ctx, "alice", chatID)
	if err != nil {
		t.Fatalf("delete chat: %v", err)
	}
	if !deleted {
		t.Fatal("expected existing chat to report deleted")
	}

	all, err := chats.Chats(ctx, "alice")
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no chats after delete, got %d", len(all))
	}

	history, err := chats.History(ctx, "alice", chatID)
	if err != nil {
		t.Fatalf("history after delete: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history after delete, got %d messages", len(history))
	}

	deleted, err = chats.DeleteChat(ctx, "alice", chatID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted {
		t.Fatal("expected second delete to report false")
	}
}

func TestRenameChat(t *testing.T) {
	chats := NewChats(newTestRedis(t))
	ctx := context.Background()

	chatID, err := chats.CreateChat(ctx, "alice", "Trip Planning", "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	renamed, err := chats.RenameChat(ctx, "alice", chatID, "Portugal 2026")
	if err != nil {
		t.Fatalf("rename chat: %v", err)
	}
	if !renamed {
		t.Fatal("expected rename to succeed")
	}
	meta, err := chats.GetMetadata(ctx, "alice", chatID)
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if meta.Name != "Portugal 2026" {
		t.Fatalf("unexpected name %q", meta.Name)
	}

	renamed, err = chats.RenameChat(ctx, "alice", "42", "ghost")
	if err != nil {
		t.Fatalf("rename missing chat: %v", err)
	}
	if renamed {
		t.Fatal("expected rename of missing chat to report false")
	}
}

func TestTranscriptRoundTrip(t *testing.T) {
	chats := NewChats(newTestRedis(t))
	ctx := context.Background()

	chatID, err := chats.CreateChat(ctx, "alice", "Unicode", "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	userMsg := `Quotes "double", 'single', newline:\n and 日本語 🚀`
	assistantMsg := "Tabs\tand backslashes \\ survive"
	want := []Message{
		{Role: RoleUser, Content: userMsg},
		{Role: RoleAssistant, Content: assistantMsg},
	}
	if _, err := chats.AppendExchange(ctx, "alice", chatID, userMsg, assistantMsg); err != nil {
		t.Fatalf("append exchange: %v", err)
	}

	got, err := chats.History(ctx, "alice", chatID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, want)
	}
}

func TestChatContextStored(t *testing.T) {
	chats := NewChats(newTestRedis(t))
	ctx := context.Background()

	chatID, err := chats.CreateChat(ctx, "alice", "Trip Planning", "You are a travel agent.")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	meta, err := chats.GetMetadata(ctx, "alice", chatID)
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	if meta.Context != "You are a travel agent." {
		t.Fatalf("unexpected context %q", meta.Context)
	}
	if meta.MessagesCount != 0 {
		t.Fatalf("fresh chat should have messages_count 0, got %d", meta.MessagesCount)
	}
}
