// Package adapter provides the dataset engine contract used by the build
// pipeline, the live reader server and the query command.
//
// Concrete engines live in pkg/adapters/ subdirectories and register
// themselves with this package from their init functions.
package adapter

import (
	"github.com/leapstack-labs/ehimanual/pkg/core"
)

type (
	// Adapter is an alias for core.Adapter.
	Adapter = core.Adapter

	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Column is an alias for core.Column.
	Column = core.Column

	// Metadata is an alias for core.TableMetadata.
	Metadata = core.TableMetadata
)
