package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances by one second on every reading.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func backends(t *testing.T) map[string]func(opts ...Option) Store {
	t.Helper()
	return map[string]func(opts ...Option) Store{
		"memory": func(opts ...Option) Store { return NewMemoryStore(opts...) },
		"sqlite": func(opts ...Option) Store {
			s, err := NewSQLiteStore(":memory:", opts...)
			require.NoError(t, err)
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(WithClock(newFakeClock().Now))
			defer s.Close()
			fn(t, s)
		})
	}
}

func TestCreateAndGetThread(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		thread := &Thread{OwnerID: "u1", Metadata: map[string]any{"modelId": "gpt-4o"}}
		require.NoError(t, s.CreateThread(ctx, thread))
		assert.NotEmpty(t, thread.ID)
		assert.Equal(t, thread.CreatedAt, thread.UpdatedAt)

		got, err := s.GetThread(ctx, thread.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.OwnerID)
		assert.Equal(t, "gpt-4o", got.Metadata["modelId"])
		assert.True(t, thread.CreatedAt.Equal(got.CreatedAt))

		messages, err := s.ListMessages(ctx, thread.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})
}

func TestGetThreadScopedToOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		thread := &Thread{OwnerID: "u1"}
		require.NoError(t, s.CreateThread(ctx, thread))

		_, err := s.GetThread(ctx, thread.ID, "u2")
		assert.ErrorIs(t, err, ErrThreadNotFound)
		_, err = s.GetThread(ctx, "missing", "u1")
		assert.ErrorIs(t, err, ErrThreadNotFound)
	})
}

func TestAppendMessageOrderAndUpdatedAt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		thread := &Thread{OwnerID: "u1"}
		require.NoError(t, s.CreateThread(ctx, thread))

		for _, m := range []Message{
			{ThreadID: thread.ID, Role: RoleUser, Content: "one"},
			{ThreadID: thread.ID, Role: RoleAssistant, Content: "two"},
			{ThreadID: thread.ID, Role: RoleUser, Content: "three"},
		} {
			msg := m
			require.NoError(t, s.AppendMessage(ctx, &msg))
			assert.NotEmpty(t, msg.ID)
		}

		messages, err := s.ListMessages(ctx, thread.ID, 0)
		require.NoError(t, err)
		require.Len(t, messages, 3)
		assert.Equal(t, []string{"one", "two", "three"},
			[]string{messages[0].Content, messages[1].Content, messages[2].Content})
		assert.Equal(t, RoleAssistant, messages[1].Role)

		recent, err := s.ListMessages(ctx, thread.ID, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "two", recent[0].Content)
		assert.Equal(t, "three", recent[1].Content)

		got, err := s.GetThread(ctx, thread.ID, "u1")
		require.NoError(t, err)
		assert.True(t, got.UpdatedAt.Equal(messages[2].CreatedAt))
		assert.True(t, got.UpdatedAt.After(got.CreatedAt))
	})
}

func TestAppendMessageUnknownThread(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		err := s.AppendMessage(context.Background(), &Message{ThreadID: "missing", Role: RoleUser, Content: "hi"})
		assert.ErrorIs(t, err, ErrThreadNotFound)
	})
}

func TestListThreadsOrderedByActivity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var ids []string
		for i := 0; i < 3; i++ {
			thread := &Thread{OwnerID: "u1"}
			require.NoError(t, s.CreateThread(ctx, thread))
			require.NoError(t, s.AppendMessage(ctx, &Message{ThreadID: thread.ID, Role: RoleUser, Content: "hi"}))
			ids = append(ids, thread.ID)
		}
		other := &Thread{OwnerID: "u2"}
		require.NoError(t, s.CreateThread(ctx, other))

		threads, err := s.ListThreads(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, threads, 3)
		assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{threads[0].ID, threads[1].ID, threads[2].ID})

		// Activity on the oldest thread moves it to the front.
		require.NoError(t, s.AppendMessage(ctx, &Message{ThreadID: ids[0], Role: RoleUser, Content: "again"}))
		threads, err = s.ListThreads(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, ids[0], threads[0].ID)
	})
}

func TestListThreadsTieBreak(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(WithClock(func() time.Time { return fixed }))
			defer s.Close()
			ctx := context.Background()

			first := &Thread{OwnerID: "u1"}
			second := &Thread{OwnerID: "u1"}
			require.NoError(t, s.CreateThread(ctx, first))
			require.NoError(t, s.CreateThread(ctx, second))

			threads, err := s.ListThreads(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, threads, 2)
			assert.Equal(t, second.ID, threads[0].ID)
			assert.Equal(t, first.ID, threads[1].ID)
		})
	}
}

func TestDeleteThreadCascades(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		thread := &Thread{OwnerID: "u1"}
		require.NoError(t, s.CreateThread(ctx, thread))
		require.NoError(t, s.AppendMessage(ctx, &Message{ThreadID: thread.ID, Role: RoleUser, Content: "hi"}))

		require.NoError(t, s.DeleteThread(ctx, thread.ID, "u1"))

		_, err := s.GetThread(ctx, thread.ID, "u1")
		assert.ErrorIs(t, err, ErrThreadNotFound)
		messages, err := s.ListMessages(ctx, thread.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, messages)
		threads, err := s.ListThreads(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, threads)

		// Deleting again, or deleting an unknown id, is not an error.
		assert.NoError(t, s.DeleteThread(ctx, thread.ID, "u1"))
		assert.NoError(t, s.DeleteThread(ctx, "missing", "u1"))
	})
}

func TestDeleteThreadOtherOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		thread := &Thread{OwnerID: "u1"}
		require.NoError(t, s.CreateThread(ctx, thread))

		require.NoError(t, s.DeleteThread(ctx, thread.ID, "u2"))
		_, err := s.GetThread(ctx, thread.ID, "u1")
		assert.NoError(t, err)
	})
}

func TestUpdateThreadTitle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		thread := &Thread{OwnerID: "u1"}
		require.NoError(t, s.CreateThread(ctx, thread))

		require.NoError(t, s.UpdateThreadTitle(ctx, thread.ID, "Trip planning"))
		got, err := s.GetThread(ctx, thread.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Trip planning", got.Title)

		assert.ErrorIs(t, s.UpdateThreadTitle(ctx, "missing", "x"), ErrThreadNotFound)
	})
}

func TestNormalizeContent(t *testing.T) {
	assert.Equal(t, "", NormalizeContent(nil))
	assert.Equal(t, "plain", NormalizeContent("plain"))
	assert.Equal(t, "bytes", NormalizeContent([]byte("bytes")))
	assert.Equal(t, `[{"text":"hi","type":"text"}]`,
		NormalizeContent([]map[string]string{{"type": "text", "text": "hi"}}))
	assert.Equal(t, "42", NormalizeContent(42))
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(":memory:", "")
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLStore{}, s)
}
