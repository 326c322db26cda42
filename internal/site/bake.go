package site

import (
	"context"

	"github.com/leapstack-labs/ehimanual/internal/extract"
	"github.com/leapstack-labs/ehimanual/internal/query"
	"github.com/leapstack-labs/ehimanual/internal/state"
	"github.com/leapstack-labs/ehimanual/internal/transform"
	"github.com/leapstack-labs/ehimanual/pkg/core"
)

type bakeStats struct {
	blocks   int
	hits     int
	failures []FailedQuery
}

// bake executes every block of doc once, in document order, and returns the
// results keyed by block id. With cache set, results are looked up and
// stored in the state store keyed by query text and snapshot digest.
func (b *Builder) bake(ctx context.Context, q query.Queryer, doc *core.Document, digest string, cache bool) (transform.Results, bakeStats, error) {
	results := make(transform.Results)
	var stats bakeStats

	for blk := range extract.Blocks(doc.ID, doc.Content, extract.WithLogger(b.logger.With("file", doc.Path))) {
		stats.blocks++
		key := state.BakeKey{Block: blk.ID, Query: blk.Query, Digest: digest, RowCap: b.opts.RowCap}

		res, hit := core.QueryResult{}, false
		if cache {
			var err error
			if res, hit, err = b.store.LookupBake(ctx, key); err != nil {
				b.logger.Warn("bake cache lookup failed", "block", blk.ID.String(), "error", err)
			}
		}

		if hit {
			stats.hits++
		} else {
			res = query.Execute(ctx, q, blk.Query, query.Options{Limit: b.opts.RowCap})
			// A cancelled build must not cache or publish the cancellation.
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
			if cache {
				if err := b.store.SaveBake(ctx, key, res); err != nil {
					return nil, stats, err
				}
			}
		}

		if res.Failed() {
			b.logger.Warn("query failed",
				"block", blk.ID.String(),
				"file", doc.Path,
				"line", doc.FileLine(blk.Line),
				"error", res.ErrorMessage())
			stats.failures = append(stats.failures, FailedQuery{
				Block:       blk.ID,
				File:        doc.Path,
				Line:        doc.FileLine(blk.Line),
				Description: blk.Description,
				Query:       blk.Query,
				Error:       res.ErrorMessage(),
			})
		}
		results[blk.ID] = res
	}

	b.logger.Debug("baked chapter", "doc", doc.ID, "blocks", stats.blocks, "cached", stats.hits)
	return results, stats, nil
}
