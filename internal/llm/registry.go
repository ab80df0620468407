package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Factory builds the client for a binding's provider family.
type Factory func(ctx context.Context, b Binding) (Client, error)

// Registry hands out one client per provider family, built on first use and
// kept for the life of the process.
type Registry struct {
	mu      sync.Mutex
	clients map[Family]Client
	factory Factory
	logger  *zap.Logger
}

func NewRegistry(factory Factory, logger *zap.Logger) *Registry {
	return &Registry{
		clients: make(map[Family]Client),
		factory: factory,
		logger:  logger,
	}
}

// Client returns the cached client for b.Family, creating it if needed.
func (r *Registry) Client(ctx context.Context, b Binding) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[b.Family]; ok {
		return c, nil
	}
	c, err := r.factory(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", b.Family, err)
	}
	r.clients[b.Family] = c
	r.logger.Info("Provider client created", zap.String("family", string(b.Family)))
	return c, nil
}

// Close releases clients that hold connections.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for family, c := range r.clients {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s client: %w", family, err))
			}
		}
		delete(r.clients, family)
	}
	return errors.Join(errs...)
}

// NewClient is the default Factory: Gemini models go through the genai SDK,
// OpenAI and DeepSeek through the OpenAI-compatible client.
func NewClient(ctx context.Context, b Binding) (Client, error) {
	switch b.Family {
	case FamilyGemini:
		return NewGeminiClient(ctx, b.APIKey, b.BaseURL)
	case FamilyOpenAI, FamilyDeepSeek:
		return NewOpenAIClient(b.APIKey, b.BaseURL), nil
	default:
		return nil, fmt.Errorf("no client for provider family %q", b.Family)
	}
}

// MockFactory serves every family with the mock client.
func MockFactory(ctx context.Context, b Binding) (Client, error) {
	return NewMockClient(), nil
}
