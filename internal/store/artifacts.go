package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/artifact-context/internal/artifact"
)

// ListArtifactIDs returns the ids of every artifact the user has produced.
func (s *Store) ListArtifactIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT artifact_id FROM generated_artifacts
		WHERE user_id = $1
		ORDER BY produced_at ASC, artifact_id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list artifact ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan artifact id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list artifact ids: %w", err)
	}
	return ids, nil
}

// ListArtifacts returns the user's artifacts ordered by production time.
func (s *Store) ListArtifacts(ctx context.Context, userID string) ([]artifact.Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT artifact_id, name, output, COALESCE(output_summary, ''), produced_at
		FROM generated_artifacts
		WHERE user_id = $1
		ORDER BY produced_at ASC, artifact_id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var records []artifact.Record
	for rows.Next() {
		r := artifact.Record{UserID: userID}
		var output []byte
		if err := rows.Scan(&r.ID, &r.Name, &output, &r.OutputSummary, &r.ProducedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		r.Output = output
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return records, nil
}

// SaveArtifact upserts an artifact. The generation pipeline owns writes; the
// aggregation service uses this for imports and tests.
func (s *Store) SaveArtifact(ctx context.Context, r artifact.Record) error {
	if r.ProducedAt.IsZero() {
		r.ProducedAt = time.Now()
	}
	output := []byte(r.Output)
	if len(output) == 0 {
		output = []byte("null")
	}
	var summary *string
	if r.OutputSummary != "" {
		summary = &r.OutputSummary
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO generated_artifacts (user_id, artifact_id, name, output, output_summary, produced_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, artifact_id) DO UPDATE SET
			name = EXCLUDED.name,
			output = EXCLUDED.output,
			output_summary = EXCLUDED.output_summary,
			produced_at = EXCLUDED.produced_at`,
		r.UserID, r.ID, r.Name, string(output), summary, r.ProducedAt,
	)
	if err != nil {
		return fmt.Errorf("save artifact %s/%s: %w", r.UserID, r.ID, err)
	}
	return nil
}

// DeleteArtifact removes one artifact.
func (s *Store) DeleteArtifact(ctx context.Context, userID, artifactID string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM generated_artifacts WHERE user_id = $1 AND artifact_id = $2`,
		userID, artifactID)
	if err != nil {
		return fmt.Errorf("delete artifact %s/%s: %w", userID, artifactID, err)
	}
	return nil
}
