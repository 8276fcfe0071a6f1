package app

import (
	"context"
	"fmt"
	"strings"

	"studiumai/internal/util"
	"studiumai/internal/validation"
	"studiumai/pkg/domain"
)

type CreateNotebookInput struct {
	Title   string `json:"title" validate:"max=255"`
	Content string `json:"content"`
}

// UpdateNotebookInput is a partial update; nil fields are left untouched.
type UpdateNotebookInput struct {
	Title   *string `json:"title" validate:"omitempty,min=1,max=255"`
	Content *string `json:"content"`
}

func (a *App) ListNotebooks(ctx context.Context, user domain.User) ([]domain.Notebook, error) {
	notebooks, err := a.store.ListNotebooks(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}
	return notebooks, nil
}

func (a *App) GetNotebook(ctx context.Context, user domain.User, id string) (domain.Notebook, error) {
	return a.ownedNotebook(ctx, user, id)
}

func (a *App) CreateNotebook(ctx context.Context, user domain.User, in CreateNotebookInput) (domain.Notebook, error) {
	if strings.TrimSpace(in.Title) == "" || in.Content == "" {
		return domain.Notebook{}, ErrTitleAndContentRequired
	}
	if err := validation.Struct(in); err != nil {
		return domain.Notebook{}, err
	}
	now := a.timestamp()
	nb := domain.Notebook{
		ID:        util.NewID(),
		Title:     in.Title,
		Content:   in.Content,
		UserID:    user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateNotebook(ctx, nb); err != nil {
		return domain.Notebook{}, fmt.Errorf("save notebook: %w", err)
	}
	return nb, nil
}

func (a *App) UpdateNotebook(ctx context.Context, user domain.User, id string, in UpdateNotebookInput) (domain.Notebook, error) {
	nb, err := a.ownedNotebook(ctx, user, id)
	if err != nil {
		return domain.Notebook{}, err
	}
	if err := validation.Struct(in); err != nil {
		return domain.Notebook{}, err
	}
	if in.Title != nil {
		nb.Title = *in.Title
	}
	if in.Content != nil {
		nb.Content = *in.Content
	}
	nb.UpdatedAt = a.timestamp()
	if err := a.store.UpdateNotebook(ctx, nb); err != nil {
		return domain.Notebook{}, fmt.Errorf("update notebook: %w", err)
	}
	return nb, nil
}

// DeleteNotebook removes the notebook with its sources and conversations,
// then the source blobs. Blob failures are logged and do not fail the call.
func (a *App) DeleteNotebook(ctx context.Context, user domain.User, id string) error {
	nb, err := a.ownedNotebook(ctx, user, id)
	if err != nil {
		return err
	}
	sources, err := a.store.ListSources(ctx, nb.ID)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	if err := a.store.DeleteNotebook(ctx, nb.ID); err != nil {
		return fmt.Errorf("delete notebook: %w", err)
	}
	for _, src := range sources {
		a.deleteBlob(ctx, src)
	}
	return nil
}

// ownedNotebook loads a notebook and checks that user owns it.
func (a *App) ownedNotebook(ctx context.Context, user domain.User, id string) (domain.Notebook, error) {
	nb, ok, err := a.store.GetNotebook(ctx, id)
	if err != nil {
		return domain.Notebook{}, fmt.Errorf("get notebook: %w", err)
	}
	if !ok {
		return domain.Notebook{}, ErrNotebookNotFound
	}
	if nb.UserID != user.ID {
		return domain.Notebook{}, ErrAccessDenied
	}
	return nb, nil
}

// authorizeNotebook checks ownership of a child resource's notebook. A
// missing parent reads as access denied.
func (a *App) authorizeNotebook(ctx context.Context, user domain.User, notebookID string) error {
	nb, ok, err := a.store.GetNotebook(ctx, notebookID)
	if err != nil {
		return fmt.Errorf("get notebook: %w", err)
	}
	if !ok || nb.UserID != user.ID {
		return ErrAccessDenied
	}
	return nil
}
