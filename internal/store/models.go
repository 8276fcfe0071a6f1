package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"studiumai/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID               string `gorm:"primaryKey"`
	Email            string `gorm:"uniqueIndex;not null"`
	PasswordHash     string `gorm:"not null"`
	Name             *string
	ResetToken       *string `gorm:"uniqueIndex"`
	ResetTokenExpiry *time.Time
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

type NotebookModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	Title     string    `gorm:"size:255;not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

type SourceModel struct {
	ID         string    `gorm:"primaryKey"`
	NotebookID string    `gorm:"not null;index"`
	FileName   string    `gorm:"not null"`
	FileType   string    `gorm:"not null"`
	FileSize   int64     `gorm:"not null"`
	FilePath   string    `gorm:"not null"`
	UploadedAt time.Time `gorm:"not null;index"`
}

type ConversationModel struct {
	ID         string    `gorm:"primaryKey"`
	NotebookID string    `gorm:"not null;index"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null;index"`
}

type MessageModel struct {
	ID             string         `gorm:"primaryKey"`
	ConversationID string         `gorm:"not null;index:idx_message_conversation_created,priority:1"`
	Role           string         `gorm:"not null"`
	Content        string         `gorm:"type:text;not null"`
	Sources        datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_message_conversation_created,priority:2"`
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:               u.ID,
		Email:            u.Email,
		PasswordHash:     u.PasswordHash,
		Name:             u.Name,
		ResetToken:       u.ResetToken,
		ResetTokenExpiry: u.ResetTokenExpiry,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:               m.ID,
		Email:            m.Email,
		PasswordHash:     m.PasswordHash,
		Name:             m.Name,
		ResetToken:       m.ResetToken,
		ResetTokenExpiry: m.ResetTokenExpiry,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func notebookToModel(nb domain.Notebook) NotebookModel {
	return NotebookModel{
		ID:        nb.ID,
		UserID:    nb.UserID,
		Title:     nb.Title,
		Content:   nb.Content,
		CreatedAt: nb.CreatedAt,
		UpdatedAt: nb.UpdatedAt,
	}
}

func notebookFromModel(m NotebookModel) domain.Notebook {
	return domain.Notebook{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func sourceToModel(s domain.Source) SourceModel {
	return SourceModel{
		ID:         s.ID,
		NotebookID: s.NotebookID,
		FileName:   s.FileName,
		FileType:   s.FileType,
		FileSize:   s.FileSize,
		FilePath:   s.FilePath,
		UploadedAt: s.UploadedAt,
	}
}

func sourceFromModel(m SourceModel) domain.Source {
	return domain.Source{
		ID:         m.ID,
		NotebookID: m.NotebookID,
		FileName:   m.FileName,
		FileType:   m.FileType,
		FileSize:   m.FileSize,
		FilePath:   m.FilePath,
		UploadedAt: m.UploadedAt,
	}
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:         c.ID,
		NotebookID: c.NotebookID,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:         m.ID,
		NotebookID: m.NotebookID,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	var raw datatypes.JSON
	if len(msg.Sources) > 0 {
		raw, _ = json.Marshal(msg.Sources)
	}
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		Sources:        raw,
		CreatedAt:      msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	var sources []string
	if len(m.Sources) > 0 {
		_ = json.Unmarshal(m.Sources, &sources)
	}
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           domain.MessageRole(m.Role),
		Content:        m.Content,
		Sources:        sources,
		CreatedAt:      m.CreatedAt,
	}
}
