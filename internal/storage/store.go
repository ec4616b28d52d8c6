package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/agentcore/deskrt/internal/apperr"
	"github.com/agentcore/deskrt/pkg/deskrt/conversation"
	"github.com/agentcore/deskrt/pkg/deskrt/message"
)

// Store exposes the CRUD, pagination, and streaming-upsert operations of
// spec §4.1 on top of an opened DB. Every operation returns a typed error
// wrapping one of the apperr sentinels; none panics or lets a driver error
// escape unclassified.
type Store struct {
	db *DB
	// deletesSinceVacuum triggers an opportunistic VACUUM every vacuumEvery
	// deletes, instead of running on a separate timer (SPEC_FULL §9).
	deletesSinceVacuum atomic.Int64
}

const vacuumEvery = 200

// New wraps an opened DB with the Store's CRUD surface.
func New(db *DB) *Store { return &Store{db: db} }

// EnsureSystemUser idempotently seeds the default "system" user row.
func (s *Store) EnsureSystemUser(ctx context.Context) error {
	_, err := s.db.handle.ExecContext(ctx, "INSERT OR IGNORE INTO user(id) VALUES ('system')")
	if err != nil {
		return fmt.Errorf("ensure system user: %w: %v", apperr.Storage, err)
	}
	return nil
}

// CreateConversation inserts a new conversation row, stamping create/modify
// times if unset.
func (s *Store) CreateConversation(ctx context.Context, c conversation.Conversation) (conversation.Conversation, error) {
	now := time.Now().UTC()
	if c.CreateTime.IsZero() {
		c.CreateTime = now
	}
	c.ModifyTime = now
	if c.Status == "" {
		c.Status = conversation.StatusPending
	}
	extraJSON, err := json.Marshal(c.Extra)
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("marshal extra: %w: %v", apperr.Storage, err)
	}
	_, err = s.db.handle.ExecContext(ctx, `
INSERT INTO conversation(id, name, type, extra, model, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, string(c.Type), string(extraJSON), nullableString(c.Model), string(c.Status), c.CreateTime, c.ModifyTime)
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("insert conversation: %w: %v", apperr.Storage, err)
	}
	return c, nil
}

// GetConversation loads a single conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (conversation.Conversation, error) {
	row := s.db.handle.QueryRowContext(ctx, `
SELECT id, name, type, extra, model, status, created_at, updated_at
FROM conversation WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.Conversation{}, fmt.Errorf("conversation %s: %w", id, apperr.NotFound)
		}
		return conversation.Conversation{}, fmt.Errorf("get conversation: %w: %v", apperr.Storage, err)
	}
	return c, nil
}

// GetUserConversations returns a page of conversations for userID ordered by
// updated_at DESC, along with pagination metadata computed in one pass.
func (s *Store) GetUserConversations(ctx context.Context, userID string, page, pageSize int) (conversation.Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	var total int
	if err := s.db.handle.QueryRowContext(ctx, "SELECT COUNT(1) FROM conversation WHERE user_id = ?", userID).Scan(&total); err != nil {
		return conversation.Page{}, fmt.Errorf("count conversations: %w: %v", apperr.Storage, err)
	}
	offset := (page - 1) * pageSize
	rows, err := s.db.handle.QueryContext(ctx, `
SELECT id, name, type, extra, model, status, created_at, updated_at
FROM conversation WHERE user_id = ?
ORDER BY updated_at DESC
LIMIT ? OFFSET ?`, userID, pageSize, offset)
	if err != nil {
		return conversation.Page{}, fmt.Errorf("list conversations: %w: %v", apperr.Storage, err)
	}
	defer rows.Close()

	var items []conversation.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return conversation.Page{}, fmt.Errorf("scan conversation: %w: %v", apperr.Storage, err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return conversation.Page{}, fmt.Errorf("iterate conversations: %w: %v", apperr.Storage, err)
	}
	return conversation.Page{
		Data:     items,
		Total:    total,
		PageNum:  page,
		PageSize: pageSize,
		HasMore:  offset+len(items) < total,
	}, nil
}

// UpdateConversation applies a sparse patch then always advances updated_at,
// satisfying the "no-op except modifyTime advances" round-trip property of
// spec §8. Returns the post-update conversation and whether Model changed
// (the signal the Worker Manager uses to decide on a rebuild).
func (s *Store) UpdateConversation(ctx context.Context, id string, u conversation.Updates) (conversation.Conversation, bool, error) {
	current, err := s.GetConversation(ctx, id)
	if err != nil {
		return conversation.Conversation{}, false, err
	}
	modelChanged := u.ModelChanged(current.Model)

	if u.Name != nil {
		current.Name = *u.Name
	}
	if u.Extra != nil {
		current.Extra = *u.Extra
	}
	if u.Model != nil {
		current.Model = *u.Model
	}
	if u.Status != nil {
		current.Status = *u.Status
	}
	current.ModifyTime = time.Now().UTC()

	extraJSON, err := json.Marshal(current.Extra)
	if err != nil {
		return conversation.Conversation{}, false, fmt.Errorf("marshal extra: %w: %v", apperr.Storage, err)
	}
	res, err := s.db.handle.ExecContext(ctx, `
UPDATE conversation SET name=?, extra=?, model=?, status=?, updated_at=? WHERE id=?`,
		current.Name, string(extraJSON), nullableString(current.Model), string(current.Status), current.ModifyTime, id)
	if err != nil {
		return conversation.Conversation{}, false, fmt.Errorf("update conversation: %w: %v", apperr.Storage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conversation.Conversation{}, false, fmt.Errorf("conversation %s: %w", id, apperr.NotFound)
	}
	return current, modelChanged, nil
}

// DeleteConversation removes a conversation; ON DELETE CASCADE removes its
// messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.handle.ExecContext(ctx, "DELETE FROM conversation WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w: %v", apperr.Storage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, apperr.NotFound)
	}
	s.maybeVacuum(ctx)
	return nil
}

// InsertMessage inserts a new message row.
func (s *Store) InsertMessage(ctx context.Context, m message.Message) error {
	contentJSON, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w: %v", apperr.Storage, err)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.handle.ExecContext(ctx, `
INSERT INTO message(id, conversation_id, msg_id, type, content, position, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, nullableString(m.MsgID), string(m.Type), string(contentJSON), string(m.Position), string(m.Status), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w: %v", apperr.Storage, err)
	}
	if err := s.touchConversation(ctx, m.ConversationID); err != nil {
		return err
	}
	return nil
}

// UpdateMessage overwrites an existing message row by id.
func (s *Store) UpdateMessage(ctx context.Context, id string, m message.Message) error {
	contentJSON, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("marshal content: %w: %v", apperr.Storage, err)
	}
	res, err := s.db.handle.ExecContext(ctx, `
UPDATE message SET msg_id=?, type=?, content=?, position=?, status=? WHERE id=?`,
		nullableString(m.MsgID), string(m.Type), string(contentJSON), string(m.Position), string(m.Status), id)
	if err != nil {
		return fmt.Errorf("update message: %w: %v", apperr.Storage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", id, apperr.NotFound)
	}
	return nil
}

// DeleteMessage removes a single message by id.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.handle.ExecContext(ctx, "DELETE FROM message WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete message: %w: %v", apperr.Storage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", id, apperr.NotFound)
	}
	s.maybeVacuum(ctx)
	return nil
}

// DeleteConversationMessages removes every message belonging to convID.
func (s *Store) DeleteConversationMessages(ctx context.Context, convID string) error {
	if _, err := s.db.handle.ExecContext(ctx, "DELETE FROM message WHERE conversation_id = ?", convID); err != nil {
		return fmt.Errorf("delete conversation messages: %w: %v", apperr.Storage, err)
	}
	s.maybeVacuum(ctx)
	return nil
}

// GetConversationMessages returns a page of messages ordered by created_at ASC.
func (s *Store) GetConversationMessages(ctx context.Context, convID string, page, pageSize int) (Messages, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	var total int
	if err := s.db.handle.QueryRowContext(ctx, "SELECT COUNT(1) FROM message WHERE conversation_id = ?", convID).Scan(&total); err != nil {
		return Messages{}, fmt.Errorf("count messages: %w: %v", apperr.Storage, err)
	}
	offset := (page - 1) * pageSize
	rows, err := s.db.handle.QueryContext(ctx, `
SELECT id, conversation_id, msg_id, type, content, position, status, created_at
FROM message WHERE conversation_id = ?
ORDER BY created_at ASC
LIMIT ? OFFSET ?`, convID, pageSize, offset)
	if err != nil {
		return Messages{}, fmt.Errorf("list messages: %w: %v", apperr.Storage, err)
	}
	defer rows.Close()

	var items []message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return Messages{}, fmt.Errorf("scan message: %w: %v", apperr.Storage, err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return Messages{}, fmt.Errorf("iterate messages: %w: %v", apperr.Storage, err)
	}
	return Messages{
		Data:     items,
		Total:    total,
		PageNum:  page,
		PageSize: pageSize,
		HasMore:  offset+len(items) < total,
	}, nil
}

// Messages is the pagination envelope for message lists.
type Messages struct {
	Data     []message.Message `json:"data"`
	Total    int                `json:"total"`
	PageNum  int                `json:"page"`
	PageSize int                `json:"pageSize"`
	HasMore  bool               `json:"hasMore"`
}

// GetMessageByMsgID returns the most recently created row for
// (conversationID, msgID); the streaming buffer's upsert target.
func (s *Store) GetMessageByMsgID(ctx context.Context, convID, msgID string) (message.Message, error) {
	row := s.db.handle.QueryRowContext(ctx, `
SELECT id, conversation_id, msg_id, type, content, position, status, created_at
FROM message WHERE conversation_id = ? AND msg_id = ?
ORDER BY created_at DESC LIMIT 1`, convID, msgID)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return message.Message{}, fmt.Errorf("message %s/%s: %w", convID, msgID, apperr.NotFound)
		}
		return message.Message{}, fmt.Errorf("get message by msg_id: %w: %v", apperr.Storage, err)
	}
	return m, nil
}

func (s *Store) touchConversation(ctx context.Context, convID string) error {
	res, err := s.db.handle.ExecContext(ctx, "UPDATE conversation SET updated_at=? WHERE id=?", time.Now().UTC(), convID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w: %v", apperr.Storage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", convID, apperr.NotFound)
	}
	return nil
}

func (s *Store) maybeVacuum(ctx context.Context) {
	if s.deletesSinceVacuum.Add(1)%vacuumEvery != 0 {
		return
	}
	_ = s.db.Vacuum(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (conversation.Conversation, error) {
	var c conversation.Conversation
	var extraJSON string
	var model sql.NullString
	var typ, status string
	if err := row.Scan(&c.ID, &c.Name, &typ, &extraJSON, &model, &status, &c.CreateTime, &c.ModifyTime); err != nil {
		return conversation.Conversation{}, err
	}
	c.Type = conversation.Type(typ)
	c.Status = conversation.Status(status)
	if model.Valid {
		c.Model = model.String
	}
	if extraJSON != "" {
		if err := json.Unmarshal([]byte(extraJSON), &c.Extra); err != nil {
			return conversation.Conversation{}, fmt.Errorf("unmarshal extra: %w", err)
		}
	}
	return c, nil
}

func scanMessage(row scanner) (message.Message, error) {
	var m message.Message
	var msgID sql.NullString
	var typ, position, status, contentJSON string
	if err := row.Scan(&m.ID, &m.ConversationID, &msgID, &typ, &contentJSON, &position, &status, &m.CreatedAt); err != nil {
		return message.Message{}, err
	}
	m.Type = message.Type(typ)
	m.Position = message.Position(position)
	m.Status = message.Status(status)
	if msgID.Valid {
		m.MsgID = msgID.String
	}
	m.Content = decodeContent(m.Type, contentJSON)
	return m, nil
}

// decodeContent unmarshals the stored JSON content into the concrete struct
// matching Type, falling back to a raw map for unknown/opaque payloads.
func decodeContent(t message.Type, raw string) any {
	if raw == "" {
		return nil
	}
	var into any
	switch t {
	case message.TypeText:
		into = &message.TextContent{}
	case message.TypeTips:
		into = &message.TipsContent{}
	case message.TypeToolCall:
		into = &message.ToolCallContent{}
	case message.TypeToolGroup:
		into = &message.ToolGroupContent{}
	case message.TypeAgentStatus:
		into = &message.AgentStatusContent{}
	case message.TypeACPToolCall:
		into = &message.ACPToolCallContent{}
	case message.TypeCodexToolCall:
		into = &message.CodexToolCallContent{}
	default:
		var m map[string]any
		_ = json.Unmarshal([]byte(raw), &m)
		return m
	}
	if err := json.Unmarshal([]byte(raw), into); err != nil {
		var m map[string]any
		_ = json.Unmarshal([]byte(raw), &m)
		return m
	}
	return into
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
