package domain

import "time"

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type ClientType string

const (
	ClientWeb     ClientType = "web"
	ClientIOS     ClientType = "ios"
	ClientAndroid ClientType = "android"
	ClientTablet  ClientType = "tablet"
	ClientUnknown ClientType = "unknown"
)

// User is an account. PasswordHash and reset fields never leave the server.
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             *string    `json:"name"`
	PasswordHash     string     `json:"-"`
	ResetToken       *string    `json:"-"`
	ResetTokenExpiry *time.Time `json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// PublicUser is the sanitized view returned by auth endpoints.
type PublicUser struct {
	ID    string  `json:"id"`
	Email string  `json:"email"`
	Name  *string `json:"name"`
}

// Public strips credentials from a user.
func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Email: u.Email, Name: u.Name}
}

type Notebook struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Source struct {
	ID         string    `json:"id"`
	NotebookID string    `json:"notebookId"`
	FileName   string    `json:"fileName"`
	FileType   string    `json:"fileType"`
	FileSize   int64     `json:"fileSize"`
	FilePath   string    `json:"filePath"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type Conversation struct {
	ID         string    `json:"id"`
	NotebookID string    `json:"notebookId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Messages   []Message `json:"messages"`
}

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	Sources        []string    `json:"sources,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// ClientInfo describes the calling app as detected from request headers.
type ClientInfo struct {
	Type       ClientType `json:"type"`
	AppVersion string     `json:"appVersion,omitempty"`
	DeviceID   string     `json:"deviceId,omitempty"`
}
