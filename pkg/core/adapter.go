package core

import (
	"context"
	"database/sql"
)

// Adapter defines the interface every dataset engine implements.
type Adapter interface {
	// Connect opens the dataset described by cfg.
	Connect(ctx context.Context, cfg AdapterConfig) error

	// Close releases the connection.
	Close() error

	// QueryContext runs a statement that returns rows.
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)

	// ListTables returns the user tables in the dataset, sorted.
	ListTables(ctx context.Context) ([]string, error)

	// GetTableMetadata retrieves metadata for a table.
	GetTableMetadata(ctx context.Context, table string) (*TableMetadata, error)
}

// AdapterConfig holds configuration for opening a dataset.
type AdapterConfig struct {
	Type     string
	Path     string
	ReadOnly bool
	Params   map[string]any
}

// Column represents a column in a dataset table.
type Column struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
	Position   int
}

// TableMetadata holds metadata about a dataset table.
type TableMetadata struct {
	Name     string
	Columns  []Column
	RowCount int64
}
