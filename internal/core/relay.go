package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"gwi.com/chat-relay/internal/llm"
	"gwi.com/chat-relay/internal/store"
)

type FrameType string

const (
	FrameChunk FrameType = "chunk"
	FrameDone  FrameType = "done"
	FrameError FrameType = "error"
)

// Frame is one newline-delimited JSON object of a chat response stream.
type Frame struct {
	Type     FrameType `json:"type"`
	Content  string    `json:"content,omitempty"`
	ThreadID string    `json:"threadId,omitempty"`
	ModelID  string    `json:"modelId,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type TurnRequest struct {
	ThreadID     string
	OwnerID      string
	Message      string
	ModelID      string
	SystemPrompt string
	Temperature  *float32
}

// TurnStream carries the frames of one submitted turn. The channel is closed
// after the terminal frame, or early if the stream is closed by the consumer.
type TurnStream struct {
	frames <-chan Frame
	cancel context.CancelFunc
}

func (t *TurnStream) Frames() <-chan Frame { return t.frames }

// Close stops the producer and cancels any in-flight provider call.
func (t *TurnStream) Close() { t.cancel() }

// SubmitTurn validates the request and starts relaying the turn. Validation
// failures are returned directly; every later failure ends the stream with an
// error frame.
//
// The user message is stored before the first frame is emitted. The assistant
// reply is stored only once the provider stream completes, so a reply cut
// short by a disconnect or provider error is lost. Concurrent turns on the
// same thread are not serialized and may interleave their messages.
func (s *ChatService) SubmitTurn(ctx context.Context, req TurnRequest) (*TurnStream, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, &ValidationError{Field: "message"}
	}
	if req.ThreadID == "" {
		return nil, &ValidationError{Field: "threadId"}
	}
	req.OwnerID = s.ownerOrDefault(req.OwnerID)

	ctx, cancel := context.WithCancel(ctx)
	// Unbuffered: the producer reads the next fragment only after the
	// consumer took the previous frame.
	frames := make(chan Frame)
	go s.runTurn(ctx, req, frames)
	return &TurnStream{frames: frames, cancel: cancel}, nil
}

func (s *ChatService) runTurn(ctx context.Context, req TurnRequest, out chan<- Frame) {
	defer close(out)
	logger := s.logger.With(zap.String("thread_id", req.ThreadID))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Turn panicked", zap.Any("panic", r))
			send(ctx, out, Frame{Type: FrameError, Error: "internal error"})
		}
	}()

	start := time.Now()
	modelID, err := s.relayTurn(ctx, req, out, logger)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info("Turn abandoned by client", zap.Error(err))
			return
		}
		logger.Warn("Turn failed", zap.String("model_id", modelID), zap.Error(err))
		send(ctx, out, Frame{Type: FrameError, Error: err.Error()})
		return
	}
	logger.Info("Turn completed", zap.String("model_id", modelID), zap.Duration("elapsed", time.Since(start)))
	send(ctx, out, Frame{Type: FrameDone, ThreadID: req.ThreadID, ModelID: modelID})
}

// relayTurn walks a turn through persisting the user message, resolving the
// model, streaming and persisting the reply. It returns the model used.
func (s *ChatService) relayTurn(ctx context.Context, req TurnRequest, out chan<- Frame, logger *zap.Logger) (string, error) {
	thread, err := s.store.GetThread(ctx, req.ThreadID, req.OwnerID)
	if err != nil {
		return req.ModelID, storageErr("get thread", err)
	}
	modelID := req.ModelID
	if modelID == "" {
		modelID, _ = thread.Metadata["modelId"].(string)
	}
	if modelID == "" {
		modelID = s.settings.DefaultModelID
	}

	userMsg := store.Message{ThreadID: req.ThreadID, Role: store.RoleUser, Content: req.Message}
	if err := s.store.AppendMessage(ctx, &userMsg); err != nil {
		return modelID, storageErr("append user message", err)
	}

	binding, err := s.resolver.Resolve(modelID)
	if err != nil {
		return modelID, err
	}
	client, err := s.registry.Client(ctx, binding)
	if err != nil {
		return modelID, &UpstreamProviderError{ModelID: modelID, Err: err}
	}

	history, err := s.store.ListMessages(ctx, req.ThreadID, s.settings.HistoryLimit)
	if err != nil {
		return modelID, &StorageError{Op: "load history", Err: err}
	}
	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = s.settings.DefaultSystemPrompt
	}

	stream, err := client.StreamChat(ctx, &llm.ChatRequest{
		Model:        binding.ModelID,
		SystemPrompt: systemPrompt,
		Messages:     toLLMMessages(history),
		Temperature:  req.Temperature,
	})
	if err != nil {
		return modelID, &UpstreamProviderError{ModelID: modelID, Err: err}
	}
	defer stream.Close()

	var reply strings.Builder
	chunks := 0
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return modelID, ctx.Err()
			}
			return modelID, &UpstreamProviderError{ModelID: modelID, Err: err}
		}
		if fragment == "" {
			continue
		}
		reply.WriteString(fragment)
		chunks++
		if !send(ctx, out, Frame{Type: FrameChunk, Content: fragment}) {
			return modelID, ctx.Err()
		}
	}
	logger.Debug("Provider stream completed", zap.String("model_id", modelID), zap.Int("chunks", chunks))

	// The stream completed, so the reply is stored even if the client has
	// gone away in the meantime.
	persistCtx := context.WithoutCancel(ctx)
	assistantMsg := store.Message{ThreadID: req.ThreadID, Role: store.RoleAssistant, Content: reply.String()}
	if err := s.store.AppendMessage(persistCtx, &assistantMsg); err != nil {
		return modelID, storageErr("append assistant message", err)
	}

	if thread.Title == "" {
		s.generateAndSaveTitle(persistCtx, req.ThreadID, req.Message)
	}
	return modelID, nil
}

func send(ctx context.Context, out chan<- Frame, f Frame) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}
