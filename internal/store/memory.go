package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memThread struct {
	thread Thread
	seq    int64
}

// MemoryStore keeps threads and messages in process memory. It is used for
// local development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	threads  map[string]*memThread
	messages map[string][]Message // by thread ID, in append order
	now      func() time.Time
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		threads:  make(map[string]*memThread),
		messages: make(map[string][]Message),
		now:      o.now,
	}
}

func (s *MemoryStore) CreateThread(ctx context.Context, thread *Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if thread.Metadata == nil {
		thread.Metadata = map[string]any{}
	}
	thread.ID = uuid.NewString()
	thread.CreatedAt = s.now().UTC()
	thread.UpdatedAt = thread.CreatedAt

	s.seq++
	s.threads[thread.ID] = &memThread{thread: copyThread(*thread), seq: s.seq}
	return nil
}

func (s *MemoryStore) GetThread(ctx context.Context, threadID, ownerID string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mt, exists := s.threads[threadID]
	if !exists || mt.thread.OwnerID != ownerID {
		return nil, ErrThreadNotFound
	}
	t := copyThread(mt.thread)
	return &t, nil
}

func (s *MemoryStore) ListThreads(ctx context.Context, ownerID string) ([]Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := make([]*memThread, 0)
	for _, mt := range s.threads {
		if mt.thread.OwnerID == ownerID {
			owned = append(owned, mt)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		a, b := owned[i], owned[j]
		if !a.thread.UpdatedAt.Equal(b.thread.UpdatedAt) {
			return a.thread.UpdatedAt.After(b.thread.UpdatedAt)
		}
		return a.seq > b.seq
	})

	threads := make([]Thread, 0, len(owned))
	for _, mt := range owned {
		threads = append(threads, copyThread(mt.thread))
	}
	return threads, nil
}

func (s *MemoryStore) UpdateThreadTitle(ctx context.Context, threadID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mt, exists := s.threads[threadID]
	if !exists {
		return ErrThreadNotFound
	}
	mt.thread.Title = title
	return nil
}

func (s *MemoryStore) DeleteThread(ctx context.Context, threadID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mt, exists := s.threads[threadID]; exists && mt.thread.OwnerID == ownerID {
		delete(s.threads, threadID)
		delete(s.messages, threadID)
	}
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mt, exists := s.threads[msg.ThreadID]
	if !exists {
		return ErrThreadNotFound
	}
	msg.ID = uuid.NewString()
	msg.CreatedAt = s.now().UTC()
	mt.thread.UpdatedAt = msg.CreatedAt
	s.messages[msg.ThreadID] = append(s.messages[msg.ThreadID], *msg)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[threadID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	messages := make([]Message, len(all))
	copy(messages, all)
	return messages, nil
}

func (s *MemoryStore) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func copyThread(t Thread) Thread {
	metadata := make(map[string]any, len(t.Metadata))
	for k, v := range t.Metadata {
		metadata[k] = v
	}
	t.Metadata = metadata
	return t
}
