// Package core defines the shared language of the ehimanual system.
//
// This package contains:
//   - Query pipeline entities (BlockID, QueryBlock, QueryResult, WidgetPayload)
//   - Document entities (Document, Part)
//   - Adapter configuration and metadata types
//
// pkg/core imports only the standard library.
// All other packages depend on core, not the reverse.
package core
