package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gwi.com/chat-relay/internal/llm"
	"gwi.com/chat-relay/internal/store"
)

// Settings are the relay defaults resolved from configuration at startup.
type Settings struct {
	DefaultModelID      string
	DefaultOwnerID      string
	DefaultSystemPrompt string
	// HistoryLimit caps how many stored messages are sent to the provider;
	// zero sends the whole thread.
	HistoryLimit int
}

type ChatService struct {
	store    store.Store
	resolver *llm.Resolver
	registry *llm.Registry
	settings Settings
	logger   *zap.Logger
}

func NewChatService(db store.Store, resolver *llm.Resolver, registry *llm.Registry, settings Settings, logger *zap.Logger) *ChatService {
	return &ChatService{
		store:    db,
		resolver: resolver,
		registry: registry,
		settings: settings,
		logger:   logger,
	}
}

func (s *ChatService) ownerOrDefault(ownerID string) string {
	if ownerID == "" {
		return s.settings.DefaultOwnerID
	}
	return ownerID
}

// StartThread opens an empty conversation bound to modelID, recording the
// model and creation time in the thread metadata.
func (s *ChatService) StartThread(ctx context.Context, ownerID, modelID string) (*store.Thread, error) {
	if modelID == "" {
		modelID = s.settings.DefaultModelID
	}
	return s.CreateThread(ctx, ownerID, "", map[string]any{
		"modelId":   modelID,
		"createdAt": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *ChatService) CreateThread(ctx context.Context, ownerID, title string, metadata map[string]any) (*store.Thread, error) {
	thread := &store.Thread{
		OwnerID:  s.ownerOrDefault(ownerID),
		Title:    title,
		Metadata: metadata,
	}
	if err := s.store.CreateThread(ctx, thread); err != nil {
		return nil, &StorageError{Op: "create thread", Err: err}
	}
	s.logger.Info("Thread created", zap.String("thread_id", thread.ID), zap.String("owner_id", thread.OwnerID))
	return thread, nil
}

func (s *ChatService) ListThreads(ctx context.Context, ownerID string) ([]store.Thread, error) {
	threads, err := s.store.ListThreads(ctx, s.ownerOrDefault(ownerID))
	if err != nil {
		return nil, &StorageError{Op: "list threads", Err: err}
	}
	return threads, nil
}

// GetThread returns the thread and all its messages in append order.
func (s *ChatService) GetThread(ctx context.Context, threadID, ownerID string) (*store.Thread, []store.Message, error) {
	if threadID == "" {
		return nil, nil, &ValidationError{Field: "threadId"}
	}
	thread, err := s.store.GetThread(ctx, threadID, s.ownerOrDefault(ownerID))
	if err != nil {
		return nil, nil, storageErr("get thread", err)
	}
	messages, err := s.store.ListMessages(ctx, threadID, 0)
	if err != nil {
		return nil, nil, &StorageError{Op: "list messages", Err: err}
	}
	return thread, messages, nil
}

// DeleteThread removes the thread and its messages. Unknown threads are
// ignored.
func (s *ChatService) DeleteThread(ctx context.Context, threadID, ownerID string) error {
	if threadID == "" {
		return &ValidationError{Field: "threadId"}
	}
	if err := s.store.DeleteThread(ctx, threadID, s.ownerOrDefault(ownerID)); err != nil {
		return &StorageError{Op: "delete thread", Err: err}
	}
	s.logger.Info("Thread deleted", zap.String("thread_id", threadID))
	return nil
}

// storageErr keeps ErrThreadNotFound bare so callers can tell a missing
// thread from a failing store.
func storageErr(op string, err error) error {
	if errors.Is(err, store.ErrThreadNotFound) {
		return store.ErrThreadNotFound
	}
	return &StorageError{Op: op, Err: err}
}

func toLLMMessages(messages []store.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func (s *ChatService) generateAndSaveTitle(ctx context.Context, threadID, basisContent string) {
	title := deriveTitle(basisContent)
	if title == "" {
		return
	}
	if err := s.store.UpdateThreadTitle(ctx, threadID, title); err != nil {
		s.logger.Warn("Failed to save thread title", zap.String("thread_id", threadID), zap.Error(err))
		return
	}
	s.logger.Debug("Saved thread title", zap.String("thread_id", threadID), zap.String("title", title))
}

const maxTitleRunes = 60

// deriveTitle builds a short label from the first user message: whitespace
// is collapsed and long text is cut at a word boundary.
func deriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	title = strings.Trim(title, "\"'\n\r\t .")
	runes := []rune(title)
	if len(runes) <= maxTitleRunes {
		return title
	}
	cut := runes[:maxTitleRunes]
	for i := len(cut) - 1; i > maxTitleRunes/2; i-- {
		if cut[i] == ' ' {
			cut = cut[:i]
			break
		}
	}
	return fmt.Sprintf("%s...", strings.TrimRight(string(cut), " ,.;:"))
}
