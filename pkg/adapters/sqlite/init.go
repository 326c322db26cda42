package sqlite

import (
	"log/slog"

	"github.com/leapstack-labs/ehimanual/pkg/adapter"
)

func init() {
	adapter.Register(adapter.Engine{
		Name:       "sqlite",
		Extensions: []string{".sqlite", ".sqlite3", ".db"},
		New:        func(l *slog.Logger) adapter.Adapter { return New(l) },
	})
}
