package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/OwlAIhub/OwlAI-sub003/errors"
	"github.com/OwlAIhub/OwlAI-sub003/query"
	"github.com/OwlAIhub/OwlAI-sub003/store"
)

// AddMessage appends a message to a session. The message create, the
// session counter increment, and the session preview update go into the
// batch queue as one group, so they always land in the same commit.
func (m *Manager) AddMessage(ctx context.Context, sessionID, userID, content string, sender Sender) (*Message, error) {
	if sessionID == "" || userID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "chat", "AddMessage", "sessionID and userID cannot be empty")
	}
	if content == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "chat", "AddMessage", "content cannot be empty")
	}
	if sender == "" {
		sender = SenderUser
	}

	now := time.Now().UTC()
	msg := &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Content:   content,
		Sender:    sender,
		Status:    StatusSent,
		Timestamp: now,
	}

	ops := []store.BatchOp{
		{
			Kind:       store.OpCreate,
			Collection: CollectionMessages,
			ID:         msg.ID,
			Payload:    messageData(msg),
		},
		{
			Kind:       store.OpIncrement,
			Collection: CollectionSessions,
			ID:         sessionID,
			Field:      "messageCount",
			Delta:      1,
		},
		{
			Kind:       store.OpUpdate,
			Collection: CollectionSessions,
			ID:         sessionID,
			Payload: map[string]any{
				"lastMessage":   truncatePreview(content),
				"lastMessageAt": now.Format(time.RFC3339Nano),
				"updatedAt":     now.Format(time.RFC3339Nano),
			},
		},
	}
	if err := m.writer.Enqueue(ctx, ops...); err != nil {
		return nil, errors.Wrap(err, "chat", "AddMessage", "enqueue message group")
	}
	return msg, nil
}

// DeleteMessage removes a message and decrements the session counter in
// the same committed batch.
func (m *Manager) DeleteMessage(ctx context.Context, sessionID, messageID string) error {
	if sessionID == "" || messageID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "chat", "DeleteMessage", "sessionID and messageID cannot be empty")
	}

	ops := []store.BatchOp{
		{
			Kind:       store.OpDelete,
			Collection: CollectionMessages,
			ID:         messageID,
			Payload:    map[string]any{"sessionId": sessionID},
		},
		{
			Kind:       store.OpIncrement,
			Collection: CollectionSessions,
			ID:         sessionID,
			Field:      "messageCount",
			Delta:      -1,
		},
	}
	if err := m.writer.Enqueue(ctx, ops...); err != nil {
		return errors.Wrap(err, "chat", "DeleteMessage", "enqueue delete group")
	}
	return nil
}

// MessagePage is one page of a session's messages in chronological order.
type MessagePage struct {
	Messages []Message
	HasMore  bool
	Cursor   string
}

// GetMessages lists a session's messages oldest first through the page
// cache. Message pages use a shorter lifetime than session lists since
// an open conversation changes constantly.
func (m *Manager) GetMessages(ctx context.Context, sessionID string, limit int, cursor string) (*MessagePage, error) {
	if sessionID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "chat", "GetMessages", "sessionID cannot be empty")
	}
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	page, err := m.reader.GetPaginated(ctx, CollectionMessages, query.Params{
		Collection: CollectionMessages,
		Filters:    map[string]any{"sessionId": sessionID},
		Limit:      limit,
		Cursor:     cursor,
	}, query.Options{UseCache: true, TTL: messageListTTL})
	if err != nil {
		return nil, err
	}

	out := &MessagePage{
		Messages: make([]Message, 0, len(page.Docs)),
		HasMore:  page.HasMore,
		Cursor:   page.Cursor,
	}
	for _, doc := range page.Docs {
		out.Messages = append(out.Messages, messageFromDoc(doc))
	}
	return out, nil
}
