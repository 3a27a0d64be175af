// Package chat implements the session and message managers of the
// exam-preparation assistant: durable conversation state written through
// the batch queue and read through the cached query service.
package chat

import (
	"encoding/json"
	"time"

	"github.com/OwlAIhub/OwlAI-sub003/store"
)

// Collection names used for session and message documents.
const (
	CollectionSessions = "sessions"
	CollectionMessages = "messages"
)

// DefaultTitle is assigned to sessions created without one.
const DefaultTitle = "New Chat"

// lastMessagePreviewLimit caps the session's denormalized last-message
// preview. Longer contents are cut at a rune boundary.
const lastMessagePreviewLimit = 100

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Status tracks message delivery state.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// LastMessage is the denormalized preview kept on the session document.
type LastMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one conversation. MessageCount is maintained with delta
// increments committed in the same batch as the message writes.
type Session struct {
	ID           string       `json:"id"`
	UserID       string       `json:"userId"`
	Title        string       `json:"title"`
	MessageCount int          `json:"messageCount"`
	LastMessage  *LastMessage `json:"lastMessage,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Message is one chat turn inside a session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// truncatePreview cuts content to the preview limit at a rune boundary.
func truncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= lastMessagePreviewLimit {
		return content
	}
	return string(runes[:lastMessagePreviewLimit])
}

// sessionData flattens a session into store fields. Timestamps are stored
// as RFC3339Nano strings so both store backends round-trip identically.
func sessionData(s *Session) map[string]any {
	data := map[string]any{
		"userId":       s.UserID,
		"title":        s.Title,
		"messageCount": s.MessageCount,
		"createdAt":    s.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":    s.UpdatedAt.Format(time.RFC3339Nano),
	}
	if s.LastMessage != nil {
		data["lastMessage"] = s.LastMessage.Content
		data["lastMessageAt"] = s.LastMessage.Timestamp.Format(time.RFC3339Nano)
	}
	return data
}

func messageData(m *Message) map[string]any {
	return map[string]any{
		"sessionId": m.SessionID,
		"userId":    m.UserID,
		"content":   m.Content,
		"sender":    string(m.Sender),
		"status":    string(m.Status),
		"timestamp": m.Timestamp.Format(time.RFC3339Nano),
	}
}

func sessionFromDoc(doc store.Document) Session {
	s := Session{
		ID:           doc.ID,
		UserID:       fieldString(doc.Data, "userId"),
		Title:        fieldString(doc.Data, "title"),
		MessageCount: fieldInt(doc.Data, "messageCount"),
		CreatedAt:    fieldTime(doc.Data, "createdAt"),
		UpdatedAt:    fieldTime(doc.Data, "updatedAt"),
	}
	if content := fieldString(doc.Data, "lastMessage"); content != "" {
		s.LastMessage = &LastMessage{
			Content:   content,
			Timestamp: fieldTime(doc.Data, "lastMessageAt"),
		}
	}
	return s
}

func messageFromDoc(doc store.Document) Message {
	return Message{
		ID:        doc.ID,
		SessionID: fieldString(doc.Data, "sessionId"),
		UserID:    fieldString(doc.Data, "userId"),
		Content:   fieldString(doc.Data, "content"),
		Sender:    Sender(fieldString(doc.Data, "sender")),
		Status:    Status(fieldString(doc.Data, "status")),
		Timestamp: fieldTime(doc.Data, "timestamp"),
	}
}

func fieldString(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

// fieldInt tolerates the numeric types the store backends produce:
// native ints from the in-memory store, float64 and json.Number from
// JSON decoding.
func fieldInt(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func fieldTime(data map[string]any, key string) time.Time {
	switch v := data[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}
