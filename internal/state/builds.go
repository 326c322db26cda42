package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// BuildStatus is the outcome of a site build.
type BuildStatus string

// Build statuses.
const (
	BuildRunning   BuildStatus = "running"
	BuildSucceeded BuildStatus = "succeeded"
	BuildFailed    BuildStatus = "failed"
)

// Build is one recorded site build.
type Build struct {
	ID            string      `json:"id"`
	Status        BuildStatus `json:"status"`
	DatasetDigest string      `json:"datasetDigest"`
	StartedAt     time.Time   `json:"startedAt"`
	CompletedAt   *time.Time  `json:"completedAt,omitempty"`
	Documents     int         `json:"documents"`
	Blocks        int         `json:"queries"`
	CacheHits     int         `json:"cacheHits"`
	FailedQueries int         `json:"failedQueries"`
	Error         string      `json:"error,omitempty"`
}

var buildColumns = []string{
	"id", "status", "dataset_digest", "started_at", "completed_at",
	"documents", "blocks", "cache_hits", "failed_queries", "error",
}

// CreateBuild records the start of a build.
func (s *Store) CreateBuild(ctx context.Context, digest string) (*Build, error) {
	b := &Build{
		ID:            uuid.New().String(),
		Status:        BuildRunning,
		DatasetDigest: digest,
		StartedAt:     time.Now().UTC(),
	}

	_, err := s.exec(ctx, qb.Insert("builds").
		Columns("id", "status", "dataset_digest", "started_at").
		Values(b.ID, string(b.Status), b.DatasetDigest, b.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create build: %w", err)
	}
	return b, nil
}

// CompleteBuild stores the final counters and status of b.
func (s *Store) CompleteBuild(ctx context.Context, b *Build, buildErr error) error {
	now := time.Now().UTC()
	b.CompletedAt = &now
	b.Status = BuildSucceeded
	if buildErr != nil {
		b.Status = BuildFailed
		b.Error = buildErr.Error()
	}

	_, err := s.exec(ctx, qb.Update("builds").
		SetMap(map[string]any{
			"status":         string(b.Status),
			"completed_at":   now,
			"documents":      b.Documents,
			"blocks":         b.Blocks,
			"cache_hits":     b.CacheHits,
			"failed_queries": b.FailedQueries,
			"error":          nullString(b.Error),
		}).
		Where(sq.Eq{"id": b.ID}))
	if err != nil {
		return fmt.Errorf("failed to complete build: %w", err)
	}
	return nil
}

// GetBuild retrieves a build by id. It returns nil when not found.
func (s *Store) GetBuild(ctx context.Context, id string) (*Build, error) {
	row, err := s.queryRow(ctx, qb.Select(buildColumns...).From("builds").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	return scanBuild(row)
}

// LatestBuild returns the most recently started build, or nil.
func (s *Store) LatestBuild(ctx context.Context) (*Build, error) {
	row, err := s.queryRow(ctx, qb.Select(buildColumns...).From("builds").OrderBy("started_at DESC").Limit(1))
	if err != nil {
		return nil, err
	}
	return scanBuild(row)
}

// ListBuilds returns up to limit builds, newest first.
func (s *Store) ListBuilds(ctx context.Context, limit int) ([]*Build, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}

	sel := qb.Select(buildColumns...).From("builds").OrderBy("started_at DESC")
	if limit > 0 {
		sel = sel.Limit(uint64(limit))
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var builds []*Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(row scanner) (*Build, error) {
	var (
		b           Build
		status      string
		completedAt sql.NullTime
		errMsg      sql.NullString
	)
	err := row.Scan(&b.ID, &status, &b.DatasetDigest, &b.StartedAt, &completedAt,
		&b.Documents, &b.Blocks, &b.CacheHits, &b.FailedQueries, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan build: %w", err)
	}

	b.Status = BuildStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	b.Error = errMsg.String
	return &b, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
