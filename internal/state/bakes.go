package state

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/leapstack-labs/ehimanual/pkg/core"
)

// BakeKey identifies a cacheable execution.
type BakeKey struct {
	Block  core.BlockID
	Query  string
	Digest string // dataset snapshot sha256
	RowCap int
}

// QueryHash returns the sha256 of the query text.
func (k BakeKey) QueryHash() string {
	sum := sha256.Sum256([]byte(k.Query))
	return hex.EncodeToString(sum[:])
}

// LookupBake returns the cached result for key, if it is still valid.
func (s *Store) LookupBake(ctx context.Context, key BakeKey) (core.QueryResult, bool, error) {
	row, err := s.queryRow(ctx, qb.Select("result_json").
		From("baked_queries").
		Where(sq.Eq{
			"doc_id":         key.Block.Doc,
			"block_index":    key.Block.Index,
			"query_hash":     key.QueryHash(),
			"dataset_digest": key.Digest,
			"row_cap":        key.RowCap,
		}))
	if err != nil {
		return core.QueryResult{}, false, err
	}

	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.QueryResult{}, false, nil
		}
		return core.QueryResult{}, false, fmt.Errorf("failed to read baked result: %w", err)
	}

	res, err := core.DecodeResult([]byte(data))
	if err != nil {
		return core.QueryResult{}, false, fmt.Errorf("corrupt baked result for %s: %w", key.Block, err)
	}
	return res, true, nil
}

// SaveBake stores the result for key, replacing any earlier entry for the block.
func (s *Store) SaveBake(ctx context.Context, key BakeKey, res core.QueryResult) error {
	res.ElapsedMS = 0
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	_, err = s.exec(ctx, qb.Replace("baked_queries").
		Columns("doc_id", "block_index", "query_hash", "dataset_digest", "row_cap", "result_json", "baked_at").
		Values(key.Block.Doc, key.Block.Index, key.QueryHash(), key.Digest, key.RowCap, string(data), time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to save baked result: %w", err)
	}
	return nil
}

// PruneBakes drops cached results of doc with index >= keep.
func (s *Store) PruneBakes(ctx context.Context, doc string, keep int) (int64, error) {
	res, err := s.exec(ctx, qb.Delete("baked_queries").
		Where(sq.Eq{"doc_id": doc}).
		Where(sq.GtOrEq{"block_index": keep}))
	if err != nil {
		return 0, fmt.Errorf("failed to prune baked results: %w", err)
	}
	return res.RowsAffected()
}

// PruneDocuments drops cached results and hashes of documents not in keep.
func (s *Store) PruneDocuments(ctx context.Context, keep []string) error {
	for _, table := range []struct{ name, col string }{{"baked_queries", "doc_id"}, {"documents", "id"}} {
		del := qb.Delete(table.name)
		if len(keep) > 0 {
			del = del.Where(sq.NotEq{table.col: keep})
		}
		if _, err := s.exec(ctx, del); err != nil {
			return fmt.Errorf("failed to prune %s: %w", table.name, err)
		}
	}
	return nil
}

// ClearBakes empties the bake cache.
func (s *Store) ClearBakes(ctx context.Context) error {
	if _, err := s.exec(ctx, qb.Delete("baked_queries")); err != nil {
		return fmt.Errorf("failed to clear baked results: %w", err)
	}
	return nil
}
