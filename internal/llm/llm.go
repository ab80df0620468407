// Package llm resolves model identifiers to provider families and streams
// chat completions from them.
package llm

import (
	"context"
	"fmt"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

type ChatRequest struct {
	Model        string
	SystemPrompt string
	// Messages is the conversation so far; the last entry is the user turn
	// being answered.
	Messages    []Message
	Temperature *float32
}

// Stream yields text fragments of one completion. Recv returns io.EOF once
// the upstream reports completion.
type Stream interface {
	Recv() (string, error)
	Close()
}

// Client is a provider family's chat completion client.
type Client interface {
	StreamChat(ctx context.Context, req *ChatRequest) (Stream, error)
}

// UnknownModelError reports a model identifier no provider family claims.
type UnknownModelError struct {
	ModelID string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %q: no provider serves this model id", e.ModelID)
}

// ConfigurationError reports a provider setting missing from configuration.
type ConfigurationError struct {
	Family Family
	Key    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured: set the %s environment variable", e.Family, e.Key)
}
