package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Prefix returns the pre-formatted section stored for userID and targetID,
// falling back to the user-wide entry. No row yields an empty string.
func (s *Store) Prefix(ctx context.Context, userID, targetID string) (string, error) {
	var body string
	err := s.db.QueryRow(ctx, `
		SELECT body FROM context_prefixes
		WHERE user_id = $1 AND target_id IN ($2, '')
		ORDER BY target_id DESC
		LIMIT 1`, userID, targetID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get prefix %s/%s: %w", userID, targetID, err)
	}
	return body, nil
}

// SavePrefix upserts a section. An empty targetID stores the user-wide entry.
func (s *Store) SavePrefix(ctx context.Context, userID, targetID, body string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO context_prefixes (user_id, target_id, body, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, target_id) DO UPDATE SET
			body = EXCLUDED.body,
			updated_at = NOW()`,
		userID, targetID, body)
	if err != nil {
		return fmt.Errorf("save prefix %s/%s: %w", userID, targetID, err)
	}
	return nil
}
