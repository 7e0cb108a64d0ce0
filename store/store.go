// Package store persists conversations, messages and per-user preferences in
// Postgres. Every query is scoped to the owning identity.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a record is absent or owned by someone else.
// The two cases are deliberately indistinguishable to the caller.
var ErrNotFound = errors.New("store: not found")

// HistoryWindow caps how many prior messages feed a model call.
const HistoryWindow = 100

// Conversation is one chat thread owned by a user.
type Conversation struct {
	ID        uuid.UUID
	OwnerID   string
	Title     string
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one persisted turn of a conversation.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	ImageURL       string
	CreatedAt      time.Time
}

// ConversationStore is a stateless accessor over the shared pool, safe for
// concurrent use.
type ConversationStore struct {
	pool *pgxpool.Pool
}

// NewConversationStore builds a store over the given pool.
func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

// CreateConversation starts a new thread for ownerID.
func (s *ConversationStore) CreateConversation(ctx context.Context, ownerID, title string) (Conversation, error) {
	conv := Conversation{ID: uuid.New(), OwnerID: ownerID, Title: title}

	row := s.pool.QueryRow(ctx, `
        INSERT INTO conversations (id, owner_id, title)
        VALUES ($1, $2, $3)
        RETURNING created_at, updated_at
    `, conv.ID, conv.OwnerID, conv.Title)
	if err := row.Scan(&conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}

	return conv, nil
}

// GetConversation fetches one thread, enforcing ownership.
func (s *ConversationStore) GetConversation(ctx context.Context, id uuid.UUID, ownerID string) (Conversation, error) {
	var conv Conversation
	row := s.pool.QueryRow(ctx, `
        SELECT id, owner_id, title, archived, created_at, updated_at
        FROM conversations
        WHERE id = $1 AND owner_id = $2
    `, id, ownerID)

	err := row.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.Archived, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("select conversation: %w", err)
	}

	return conv, nil
}

// ListConversations returns the owner's threads, most recently updated first.
func (s *ConversationStore) ListConversations(ctx context.Context, ownerID string, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
        SELECT id, owner_id, title, archived, created_at, updated_at
        FROM conversations
        WHERE owner_id = $1
        ORDER BY updated_at DESC
        LIMIT $2 OFFSET $3
    `, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.Archived, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// AppendMessage adds a turn to an owned conversation and bumps its update
// time. The ownership check and the insert share one round trip ordering:
// a foreign conversation yields ErrNotFound before anything is written.
func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, ownerID, role, content, imageURL string) (Message, error) {
	tag, err := s.pool.Exec(ctx, `
        UPDATE conversations SET updated_at = NOW()
        WHERE id = $1 AND owner_id = $2
    `, conversationID, ownerID)
	if err != nil {
		return Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Message{}, ErrNotFound
	}

	msg := Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		ImageURL:       imageURL,
	}

	row := s.pool.QueryRow(ctx, `
        INSERT INTO messages (id, conversation_id, role, content, image_url)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''))
        RETURNING created_at
    `, msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.ImageURL)
	if err := row.Scan(&msg.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	return msg, nil
}

// ListMessages returns messages in insertion order, enforcing ownership.
func (s *ConversationStore) ListMessages(ctx context.Context, conversationID uuid.UUID, ownerID string, limit, offset int) ([]Message, error) {
	if _, err := s.GetConversation(ctx, conversationID, ownerID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > HistoryWindow {
		limit = HistoryWindow
	}

	rows, err := s.pool.Query(ctx, `
        SELECT id, conversation_id, role, content, COALESCE(image_url, ''), created_at
        FROM messages
        WHERE conversation_id = $1
        ORDER BY created_at ASC, id ASC
        LIMIT $2 OFFSET $3
    `, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// RecentMessages returns the newest messages of an owned conversation, capped
// at HistoryWindow, re-ordered oldest first for prompt assembly.
func (s *ConversationStore) RecentMessages(ctx context.Context, conversationID uuid.UUID, ownerID string) ([]Message, error) {
	if _, err := s.GetConversation(ctx, conversationID, ownerID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
        SELECT id, conversation_id, role, content, COALESCE(image_url, ''), created_at
        FROM messages
        WHERE conversation_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2
    `, conversationID, HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("select recent messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SetArchived flips the archive flag on an owned conversation.
func (s *ConversationStore) SetArchived(ctx context.Context, id uuid.UUID, ownerID string, archived bool) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE conversations SET archived = $3, updated_at = NOW()
        WHERE id = $1 AND owner_id = $2
    `, id, ownerID, archived)
	if err != nil {
		return fmt.Errorf("archive conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes an owned conversation; messages cascade.
func (s *ConversationStore) DeleteConversation(ctx context.Context, id uuid.UUID, ownerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
        DELETE FROM conversations WHERE id = $1 AND owner_id = $2
    `, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.ImageURL, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
