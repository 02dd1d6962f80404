package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"confianza-backend/internal/models"
)

// CreateEvidence inserts a pending evidence row for a request.
func (s *Store) CreateEvidence(ctx context.Context, requestID, sourceURL string, maxAttempts int) (models.Evidence, error) {
	if maxAttempts == 0 {
		maxAttempts = 5
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO evidence (id, request_id, source_url, status, attempts, max_attempts, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
	`, id, requestID, sourceURL, models.EvidencePending, maxAttempts, now)
	if err != nil {
		return models.Evidence{}, fmt.Errorf("insert evidence: %w", err)
	}

	return models.Evidence{
		ID:          id,
		RequestID:   requestID,
		SourceURL:   sourceURL,
		Status:      models.EvidencePending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
	}, nil
}

const evidenceColumns = `
	id, request_id, source_url, status, attempts, max_attempts,
	stored_key, thumbnail_key, last_error, created_at, processed_at
`

// GetEvidence fetches an evidence row by id.
func (s *Store) GetEvidence(ctx context.Context, id string) (models.Evidence, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+evidenceColumns+` FROM evidence WHERE id = $1`, id)
	ev, err := scanEvidence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Evidence{}, ErrNotFound
	}
	if err != nil {
		return models.Evidence{}, fmt.Errorf("scan evidence: %w", err)
	}
	return ev, nil
}

// ListEvidenceByRequest returns a request's evidence rows, oldest first.
func (s *Store) ListEvidenceByRequest(ctx context.Context, requestID string) ([]models.Evidence, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+evidenceColumns+` FROM evidence WHERE request_id = $1 ORDER BY created_at ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query evidence: %w", err)
	}
	defer rows.Close()

	var out []models.Evidence
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListOrphanedEvidence returns pending rows older than olderThan that were
// never attempted. These are rows whose initial enqueue was lost (Redis write
// failed after the insert); retried rows have attempts > 0 and live in the
// scheduled set instead.
func (s *Store) ListOrphanedEvidence(ctx context.Context, olderThan time.Time, limit int) ([]models.Evidence, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+evidenceColumns+`
		FROM evidence
		WHERE status = $1 AND attempts = 0 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, models.EvidencePending, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("query orphaned evidence: %w", err)
	}
	defer rows.Close()

	var out []models.Evidence
	for rows.Next() {
		ev, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkEvidenceProcessing flags a row as picked up by a worker.
func (s *Store) MarkEvidenceProcessing(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE evidence SET status = $2 WHERE id = $1
	`, id, models.EvidenceProcessing)
	return err
}

// MarkEvidenceProcessed records the stored object keys and completion time.
func (s *Store) MarkEvidenceProcessed(ctx context.Context, id, storedKey, thumbnailKey string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE evidence
		SET status = $2, stored_key = $3, thumbnail_key = $4, last_error = NULL, processed_at = NOW()
		WHERE id = $1
	`, id, models.EvidenceProcessed, storedKey, thumbnailKey)
	return err
}

// MarkEvidenceRetry bumps the attempt counter after a transient failure.
func (s *Store) MarkEvidenceRetry(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE evidence SET status = $2, attempts = $3, last_error = $4 WHERE id = $1
	`, id, models.EvidencePending, attempts, lastErr)
	return err
}

// MarkEvidenceFailed dead-letters a row after attempts are exhausted.
func (s *Store) MarkEvidenceFailed(ctx context.Context, id, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE evidence SET status = $2, last_error = $3 WHERE id = $1
	`, id, models.EvidenceFailed, lastErr)
	return err
}

func scanEvidence(row pgx.Row) (models.Evidence, error) {
	var (
		ev                  models.Evidence
		storedKey, thumbKey pgtype.Text
		lastErr             pgtype.Text
		processedAt         pgtype.Timestamptz
	)
	if err := row.Scan(
		&ev.ID, &ev.RequestID, &ev.SourceURL, &ev.Status, &ev.Attempts, &ev.MaxAttempts,
		&storedKey, &thumbKey, &lastErr, &ev.CreatedAt, &processedAt,
	); err != nil {
		return models.Evidence{}, err
	}
	ev.StoredKey = textPtr(storedKey)
	ev.ThumbnailKey = textPtr(thumbKey)
	ev.LastError = textPtr(lastErr)
	ev.ProcessedAt = timePtr(processedAt)
	return ev, nil
}
