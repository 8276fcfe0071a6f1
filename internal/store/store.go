package store

import (
	"context"
	"errors"
	"time"

	"studiumai/pkg/domain"
)

// ErrDuplicate is returned when a unique constraint (user email) is violated.
var ErrDuplicate = errors.New("store: duplicate record")

// Store defines persistence for users, notebooks, sources, conversations and messages.
// Getters return (value, found, error); a missing row is not an error.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) error
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	SetResetToken(ctx context.Context, userID, token string, expiry time.Time) error
	// ResetPassword swaps the password hash and clears the reset token in one
	// step, only when token matches and has not expired at now.
	ResetPassword(ctx context.Context, token, passwordHash string, now time.Time) (bool, error)
	DeleteUser(ctx context.Context, id string) error

	// notebooks
	CreateNotebook(ctx context.Context, nb domain.Notebook) error
	GetNotebook(ctx context.Context, id string) (domain.Notebook, bool, error)
	ListNotebooks(ctx context.Context, userID string) ([]domain.Notebook, error)
	UpdateNotebook(ctx context.Context, nb domain.Notebook) error
	DeleteNotebook(ctx context.Context, id string) error

	// sources
	CreateSource(ctx context.Context, src domain.Source) error
	GetSource(ctx context.Context, id string) (domain.Source, bool, error)
	ListSources(ctx context.Context, notebookID string) ([]domain.Source, error)
	DeleteSource(ctx context.Context, id string) error

	// conversations
	CreateConversation(ctx context.Context, c domain.Conversation) error
	GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error)
	// ListConversations returns conversations newest first, each carrying at most its latest message.
	ListConversations(ctx context.Context, notebookID string) ([]domain.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
	DeleteConversation(ctx context.Context, id string) error

	// messages
	AppendMessage(ctx context.Context, msg domain.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
}
