package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"studiumai/pkg/domain"
)

// MemoryStore keeps everything in-process. It mirrors the cascade rules of
// the Postgres schema and is used by tests and local runs without a database.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User // key: user ID
	email         map[string]string      // email -> user ID
	notebooks     map[string]domain.Notebook
	sources       map[string]domain.Source
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message // conversation ID -> messages in insertion order
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		email:         make(map[string]string),
		notebooks:     make(map[string]domain.Notebook),
		sources:       make(map[string]domain.Source),
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.email[u.Email]; exists {
		return ErrDuplicate
	}
	if _, exists := m.users[u.ID]; exists {
		return ErrDuplicate
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) SetResetToken(_ context.Context, userID, token string, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	expiry = expiry.UTC()
	u.ResetToken = &token
	u.ResetTokenExpiry = &expiry
	u.UpdatedAt = time.Now().UTC()
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) ResetPassword(_ context.Context, token, passwordHash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if u.ResetToken == nil || *u.ResetToken != token {
			continue
		}
		if u.ResetTokenExpiry == nil || !u.ResetTokenExpiry.After(now) {
			return false, nil
		}
		u.PasswordHash = passwordHash
		u.ResetToken = nil
		u.ResetTokenExpiry = nil
		u.UpdatedAt = now.UTC()
		m.users[id] = u
		return true, nil
	}
	return false, nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	for nbID, nb := range m.notebooks {
		if nb.UserID == id {
			m.deleteNotebookLocked(nbID)
		}
	}
	delete(m.email, u.Email)
	delete(m.users, id)
	return nil
}

func (m *MemoryStore) CreateNotebook(_ context.Context, nb domain.Notebook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notebooks[nb.ID] = nb
	return nil
}

func (m *MemoryStore) GetNotebook(_ context.Context, id string) (domain.Notebook, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nb, ok := m.notebooks[id]
	return nb, ok, nil
}

func (m *MemoryStore) ListNotebooks(_ context.Context, userID string) ([]domain.Notebook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Notebook, 0)
	for _, nb := range m.notebooks {
		if nb.UserID == userID {
			res = append(res, nb)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return res, nil
}

func (m *MemoryStore) UpdateNotebook(_ context.Context, nb domain.Notebook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.notebooks[nb.ID]
	if !ok {
		return nil
	}
	cur.Title = nb.Title
	cur.Content = nb.Content
	cur.UpdatedAt = nb.UpdatedAt
	m.notebooks[nb.ID] = cur
	return nil
}

func (m *MemoryStore) DeleteNotebook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteNotebookLocked(id)
	return nil
}

func (m *MemoryStore) deleteNotebookLocked(id string) {
	for srcID, src := range m.sources {
		if src.NotebookID == id {
			delete(m.sources, srcID)
		}
	}
	for convID, c := range m.conversations {
		if c.NotebookID == id {
			delete(m.messages, convID)
			delete(m.conversations, convID)
		}
	}
	delete(m.notebooks, id)
}

func (m *MemoryStore) CreateSource(_ context.Context, src domain.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.ID] = src
	return nil
}

func (m *MemoryStore) GetSource(_ context.Context, id string) (domain.Source, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[id]
	return src, ok, nil
}

func (m *MemoryStore) ListSources(_ context.Context, notebookID string) ([]domain.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Source, 0)
	for _, src := range m.sources {
		if src.NotebookID == notebookID {
			res = append(res, src)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].UploadedAt.After(res[j].UploadedAt) })
	return res, nil
}

func (m *MemoryStore) DeleteSource(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sources, id)
	return nil
}

func (m *MemoryStore) CreateConversation(_ context.Context, c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Messages = nil
	m.conversations[c.ID] = c
	return nil
}

func (m *MemoryStore) GetConversation(_ context.Context, id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	return c, ok, nil
}

func (m *MemoryStore) ListConversations(_ context.Context, notebookID string) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Conversation, 0)
	for _, c := range m.conversations {
		if c.NotebookID != notebookID {
			continue
		}
		if msgs := m.messages[c.ID]; len(msgs) > 0 {
			c.Messages = []domain.Message{msgs[len(msgs)-1]}
		}
		res = append(res, c)
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return res, nil
}

func (m *MemoryStore) TouchConversation(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil
	}
	c.UpdatedAt = at.UTC()
	m.conversations[id] = c
	return nil
}

func (m *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, id)
	delete(m.conversations, id)
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return fmt.Errorf("append message: conversation %s not found", msg.ConversationID)
	}
	msg.Sources = slices.Clone(msg.Sources)
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Message{}, m.messages[conversationID]...), nil
}
