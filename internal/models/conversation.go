package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation. Its type tag is always derived from
// the payload, so a table message can only ever carry a *Table.
type Message struct {
	ID        int64
	ConvID    string
	Role      Role
	Content   Payload
	Language  string
	CreatedAt time.Time
}

// Type returns the rendering type of the message.
func (m Message) Type() ContentType {
	if m.Content == nil {
		return ContentMarkdown
	}
	return m.Content.ContentType()
}

type messageJSON struct {
	ID        int64           `json:"id"`
	ConvID    string          `json:"conversation_id"`
	Role      Role            `json:"role"`
	Type      ContentType     `json:"type"`
	Language  string          `json:"language,omitempty"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"timestamp"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	var content Payload = m.Content
	if content == nil {
		content = Text("")
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(messageJSON{
		ID:        m.ID,
		ConvID:    m.ConvID,
		Role:      m.Role,
		Type:      content.ContentType(),
		Language:  m.Language,
		Content:   raw,
		CreatedAt: m.CreatedAt,
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var aux messageJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Type == "" {
		aux.Type = ContentMarkdown
	}
	content, err := DecodePayload(aux.Type, aux.Content)
	if err != nil {
		return fmt.Errorf("message %d: %w", aux.ID, err)
	}
	*m = Message{
		ID:        aux.ID,
		ConvID:    aux.ConvID,
		Role:      aux.Role,
		Content:   content,
		Language:  aux.Language,
		CreatedAt: aux.CreatedAt,
	}
	return nil
}

type Conversation struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"-"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	Messages     []Message `json:"messages,omitempty"`
}

// Session replaces the page-global login state: who is logged in and which
// conversations belong to them.
type Session struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
