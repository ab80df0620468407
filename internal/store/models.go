package store

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Thread struct {
	ID        string         `json:"id"` // UUID
	OwnerID   string         `json:"ownerId"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type Message struct {
	ID        string    `json:"id"` // UUID
	ThreadID  string    `json:"threadId"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// NormalizeContent turns whatever a backend handed back for a message body
// into display text. Structured values are serialized to JSON, which is not
// meant to round-trip.
func NormalizeContent(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case []byte:
		return string(c)
	case fmt.Stringer:
		return c.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
