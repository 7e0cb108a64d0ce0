package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetPreferences returns the owner's preference document, or an empty map
// when none was saved yet.
func (s *ConversationStore) GetPreferences(ctx context.Context, ownerID string) (map[string]any, error) {
	var data map[string]any
	row := s.pool.QueryRow(ctx, `
        SELECT data FROM preferences WHERE owner_id = $1
    `, ownerID)

	err := row.Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select preferences: %w", err)
	}
	return data, nil
}

// PutPreferences replaces the owner's preference document.
func (s *ConversationStore) PutPreferences(ctx context.Context, ownerID string, data map[string]any) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO preferences (owner_id, data, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (owner_id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
    `, ownerID, data)
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}
