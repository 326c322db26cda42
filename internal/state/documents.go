package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// DocumentHash returns the stored content hash of a document, or "".
func (s *Store) DocumentHash(ctx context.Context, id string) (string, error) {
	row, err := s.queryRow(ctx, qb.Select("content_hash").From("documents").Where(sq.Eq{"id": id}))
	if err != nil {
		return "", err
	}

	var hash string
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read document hash: %w", err)
	}
	return hash, nil
}

// SaveDocument records the content hash and block count of a document.
func (s *Store) SaveDocument(ctx context.Context, id, hash string, blocks int) error {
	_, err := s.exec(ctx, qb.Replace("documents").
		Columns("id", "content_hash", "blocks", "updated_at").
		Values(id, hash, blocks, time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}
