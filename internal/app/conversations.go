package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"studiumai/internal/metrics"
	"studiumai/internal/util"
	"studiumai/internal/validation"
	"studiumai/pkg/domain"
	"studiumai/pkg/extract"
)

type SendMessageInput struct {
	Content string `json:"content" validate:"max=10000"`
}

func (a *App) CreateConversation(ctx context.Context, user domain.User, notebookID string) (domain.Conversation, error) {
	nb, err := a.ownedNotebook(ctx, user, notebookID)
	if err != nil {
		return domain.Conversation{}, err
	}
	now := a.timestamp()
	conv := domain.Conversation{
		ID:         util.NewID(),
		NotebookID: nb.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
		Messages:   []domain.Message{},
	}
	if err := a.store.CreateConversation(ctx, conv); err != nil {
		return domain.Conversation{}, fmt.Errorf("save conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the notebook's conversations, most recently
// active first, each with its latest message.
func (a *App) ListConversations(ctx context.Context, user domain.User, notebookID string) ([]domain.Conversation, error) {
	if _, err := a.ownedNotebook(ctx, user, notebookID); err != nil {
		return nil, err
	}
	convs, err := a.store.ListConversations(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	for i := range convs {
		if convs[i].Messages == nil {
			convs[i].Messages = []domain.Message{}
		}
	}
	return convs, nil
}

// GetMessages returns the conversation transcript, oldest first.
func (a *App) GetMessages(ctx context.Context, user domain.User, conversationID string) ([]domain.Message, error) {
	conv, err := a.ownedConversation(ctx, user, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := a.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (a *App) DeleteConversation(ctx context.Context, user domain.User, conversationID string) error {
	conv, err := a.ownedConversation(ctx, user, conversationID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteConversation(ctx, conv.ID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// SendMessage records the question, answers it from the notebook's sources
// and records the answer. Generator failures become an apology reply rather
// than an error.
func (a *App) SendMessage(ctx context.Context, user domain.User, conversationID string, in SendMessageInput) (domain.Message, domain.Message, error) {
	if strings.TrimSpace(in.Content) == "" {
		return domain.Message{}, domain.Message{}, ErrMessageRequired
	}
	if err := validation.Struct(in); err != nil {
		return domain.Message{}, domain.Message{}, err
	}
	conv, err := a.ownedConversation(ctx, user, conversationID)
	if err != nil {
		return domain.Message{}, domain.Message{}, err
	}

	userMsg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        in.Content,
		CreatedAt:      a.timestamp(),
	}
	if err := a.store.AppendMessage(ctx, userMsg); err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("save user message: %w", err)
	}

	sources, err := a.store.ListSources(ctx, conv.NotebookID)
	if err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("list sources: %w", err)
	}

	reply := replyNoSources
	var used []string
	if len(sources) > 0 {
		// Store order is newest first; prompt in upload order.
		ordered := make([]domain.Source, len(sources))
		for i, src := range sources {
			ordered[len(sources)-1-i] = src
		}
		history, err := a.store.ListMessages(ctx, conv.ID)
		if err != nil {
			return domain.Message{}, domain.Message{}, fmt.Errorf("list messages: %w", err)
		}
		reply, used = a.answer(ctx, in.Content, ordered, withoutMessage(history, userMsg.ID))
	}

	created := a.timestamp()
	if !created.After(userMsg.CreatedAt) {
		created = userMsg.CreatedAt.Add(time.Microsecond)
	}
	assistantMsg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        reply,
		Sources:        used,
		CreatedAt:      created,
	}
	if err := a.store.AppendMessage(ctx, assistantMsg); err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("save assistant message: %w", err)
	}
	if err := a.store.TouchConversation(ctx, conv.ID, created); err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	return userMsg, assistantMsg, nil
}

// answer extracts every source, prompts the generator once and returns the
// reply with the names of the sources it was given.
func (a *App) answer(ctx context.Context, question string, sources []domain.Source, history []domain.Message) (string, []string) {
	blocks, err := a.sourceBlocks(ctx, sources)
	if err != nil {
		util.LoggerFromContext(ctx).Error("source_extraction_aborted", "err", err)
		return replyFailed, nil
	}
	names := make([]string, len(blocks))
	for i, b := range blocks {
		names[i] = b.FileName
	}
	text, err := a.generator.GenerateText(ctx, "", buildPrompt(question, blocks, history))
	if err != nil {
		util.LoggerFromContext(ctx).Error("answer_generation_failed", "err", err)
		return replyFailed, nil
	}
	return text, names
}

// sourceBlocks extracts text concurrently; block i always belongs to source i.
// A source that cannot be read contributes a marker instead of failing the batch.
func (a *App) sourceBlocks(ctx context.Context, sources []domain.Source) ([]sourceBlock, error) {
	blocks := make([]sourceBlock, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.extractWorkers)
	for i, src := range sources {
		g.Go(func() error {
			text, err := a.sourceText(gctx, src)
			metrics.RecordExtraction(src.FileType, err)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				util.LoggerFromContext(ctx).Warn("source_extraction_failed",
					"source_id", src.ID, "file_type", src.FileType, "err", err)
				text = unreadableText
			}
			blocks[i] = sourceBlock{FileName: src.FileName, Text: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}

func (a *App) sourceText(ctx context.Context, src domain.Source) (string, error) {
	rc, err := a.blobs.Open(ctx, src.FilePath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src.FilePath, err)
	}
	defer rc.Close()
	if !extract.NeedsContent(src.FileType) {
		return extract.Placeholder(src.FileType, src.FilePath), nil
	}
	data, err := io.ReadAll(io.LimitReader(rc, a.maxUploadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", src.FilePath, err)
	}
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := extract.Text(src.FileType, data)
		done <- result{text, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		return extract.Truncate(res.text, a.maxSourceChars), nil
	}
}

func (a *App) ownedConversation(ctx context.Context, user domain.User, id string) (domain.Conversation, error) {
	conv, ok, err := a.store.GetConversation(ctx, id)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	if !ok {
		return domain.Conversation{}, ErrConversationNotFound
	}
	if err := a.authorizeNotebook(ctx, user, conv.NotebookID); err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

func withoutMessage(msgs []domain.Message, id string) []domain.Message {
	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}
