package llm

import (
	"context"
	"fmt"
	"io"
)

// MockClient streams a canned reply built from the last user message. It is
// selected with LLM_MODE=MOCK.
type MockClient struct {
	chunkSize int
}

func NewMockClient() *MockClient {
	return &MockClient{chunkSize: 10}
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) StreamChat(ctx context.Context, req *ChatRequest) (Stream, error) {
	return &mockStream{ctx: ctx, chunks: splitIntoChunks(mockReply(req), m.chunkSize)}, nil
}

func mockReply(req *ChatRequest) string {
	var lastUserMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			lastUserMessage = req.Messages[i].Content
			break
		}
	}
	if lastUserMessage == "" {
		return "[MOCK] This is a mock response."
	}
	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(lastUserMessage, 100))
}

type mockStream struct {
	ctx    context.Context
	chunks []string
}

func (s *mockStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if len(s.chunks) == 0 {
		return "", io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

func (s *mockStream) Close() {}

// splitIntoChunks splits s into pieces of at most size runes.
func splitIntoChunks(s string, size int) []string {
	runes := []rune(s)
	var chunks []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
