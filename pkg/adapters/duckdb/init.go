package duckdb

import (
	"log/slog"

	"github.com/leapstack-labs/ehimanual/pkg/adapter"
)

func init() {
	adapter.Register(adapter.Engine{
		Name:       "duckdb",
		Extensions: []string{".duckdb", ".ddb"},
		New:        func(l *slog.Logger) adapter.Adapter { return New(l) },
	})
}
