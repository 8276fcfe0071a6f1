package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"studiumai/pkg/domain"
)

func seedUser(t *testing.T, s *MemoryStore, id, email string) domain.User {
	t.Helper()
	now := time.Now().UTC()
	u := domain.User{ID: id, Email: email, PasswordHash: "hash", CreatedAt: now, UpdatedAt: now}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestMemoryStoreDuplicateEmail(t *testing.T) {
	s := NewMemoryStore()
	seedUser(t, s, "u1", "a@example.com")
	err := s.CreateUser(context.Background(), domain.User{ID: "u2", Email: "a@example.com"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestMemoryStoreResetPasswordSingleUse(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUser(t, s, "u1", "a@example.com")
	now := time.Now().UTC()
	if err := s.SetResetToken(ctx, "u1", "tok-1", now.Add(15*time.Minute)); err != nil {
		t.Fatalf("set token: %v", err)
	}
	// a second request overwrites the first token
	if err := s.SetResetToken(ctx, "u1", "tok-2", now.Add(15*time.Minute)); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if ok, _ := s.ResetPassword(ctx, "tok-1", "new", now); ok {
		t.Fatalf("overwritten token must not work")
	}
	ok, err := s.ResetPassword(ctx, "tok-2", "new-hash", now)
	if err != nil || !ok {
		t.Fatalf("expected reset to succeed, ok=%v err=%v", ok, err)
	}
	u, _, _ := s.GetUserByID(ctx, "u1")
	if u.PasswordHash != "new-hash" || u.ResetToken != nil || u.ResetTokenExpiry != nil {
		t.Fatalf("expected hash swapped and token cleared, got %+v", u)
	}
	if ok, _ := s.ResetPassword(ctx, "tok-2", "again", now); ok {
		t.Fatalf("token must be single use")
	}
}

func TestMemoryStoreResetPasswordExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUser(t, s, "u1", "a@example.com")
	now := time.Now().UTC()
	_ = s.SetResetToken(ctx, "u1", "tok", now.Add(15*time.Minute))
	if ok, _ := s.ResetPassword(ctx, "tok", "x", now.Add(16*time.Minute)); ok {
		t.Fatalf("expired token must be rejected")
	}
	u, _, _ := s.GetUserByID(ctx, "u1")
	if u.PasswordHash != "hash" {
		t.Fatalf("password changed on expired token")
	}
}

func TestMemoryStoreCascadeFromUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedUser(t, s, "u1", "a@example.com")
	now := time.Now().UTC()
	_ = s.CreateNotebook(ctx, domain.Notebook{ID: "n1", UserID: "u1", Title: "t", Content: "c", CreatedAt: now, UpdatedAt: now})
	_ = s.CreateSource(ctx, domain.Source{ID: "s1", NotebookID: "n1", UploadedAt: now})
	_ = s.CreateConversation(ctx, domain.Conversation{ID: "c1", NotebookID: "n1", CreatedAt: now, UpdatedAt: now})
	if err := s.AppendMessage(ctx, domain.Message{ID: "m1", ConversationID: "c1", Role: domain.RoleUser, Content: "hi", CreatedAt: now}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, ok, _ := s.GetNotebook(ctx, "n1"); ok {
		t.Fatalf("notebook should cascade")
	}
	if _, ok, _ := s.GetSource(ctx, "s1"); ok {
		t.Fatalf("source should cascade")
	}
	if _, ok, _ := s.GetConversation(ctx, "c1"); ok {
		t.Fatalf("conversation should cascade")
	}
	if msgs, _ := s.ListMessages(ctx, "c1"); len(msgs) != 0 {
		t.Fatalf("messages should cascade")
	}
	if _, ok, _ := s.GetUserByEmail(ctx, "a@example.com"); ok {
		t.Fatalf("email index should be released")
	}
}

func TestMemoryStoreOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_ = s.CreateNotebook(ctx, domain.Notebook{ID: "old", UserID: "u1", UpdatedAt: base})
	_ = s.CreateNotebook(ctx, domain.Notebook{ID: "new", UserID: "u1", UpdatedAt: base.Add(time.Hour)})
	_ = s.CreateNotebook(ctx, domain.Notebook{ID: "other", UserID: "u2", UpdatedAt: base})
	nbs, _ := s.ListNotebooks(ctx, "u1")
	if len(nbs) != 2 || nbs[0].ID != "new" || nbs[1].ID != "old" {
		t.Fatalf("unexpected notebook order %+v", nbs)
	}

	_ = s.CreateSource(ctx, domain.Source{ID: "s-old", NotebookID: "new", UploadedAt: base})
	_ = s.CreateSource(ctx, domain.Source{ID: "s-new", NotebookID: "new", UploadedAt: base.Add(time.Minute)})
	srcs, _ := s.ListSources(ctx, "new")
	if len(srcs) != 2 || srcs[0].ID != "s-new" {
		t.Fatalf("unexpected source order %+v", srcs)
	}
}

func TestMemoryStoreConversationLatestMessage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_ = s.CreateConversation(ctx, domain.Conversation{ID: "c1", NotebookID: "n1", CreatedAt: base, UpdatedAt: base})
	_ = s.CreateConversation(ctx, domain.Conversation{ID: "c2", NotebookID: "n1", CreatedAt: base, UpdatedAt: base})
	_ = s.AppendMessage(ctx, domain.Message{ID: "m1", ConversationID: "c1", Content: "first", CreatedAt: base})
	_ = s.AppendMessage(ctx, domain.Message{ID: "m2", ConversationID: "c1", Content: "second", Sources: []string{"a.pdf"}, CreatedAt: base.Add(time.Second)})
	_ = s.TouchConversation(ctx, "c1", base.Add(time.Minute))

	convs, err := s.ListConversations(ctx, "n1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 || convs[0].ID != "c1" {
		t.Fatalf("expected touched conversation first, got %+v", convs)
	}
	if len(convs[0].Messages) != 1 || convs[0].Messages[0].ID != "m2" {
		t.Fatalf("expected only the latest message, got %+v", convs[0].Messages)
	}
	if len(convs[1].Messages) != 0 {
		t.Fatalf("empty conversation should carry no messages")
	}

	msgs, _ := s.ListMessages(ctx, "c1")
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].Sources[0] != "a.pdf" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestMemoryStoreAppendToMissingConversation(t *testing.T) {
	s := NewMemoryStore()
	if err := s.AppendMessage(context.Background(), domain.Message{ID: "m", ConversationID: "nope"}); err == nil {
		t.Fatalf("expected error for unknown conversation")
	}
}
