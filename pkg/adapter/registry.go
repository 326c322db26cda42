package adapter

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/leapstack-labs/ehimanual/pkg/core"
)

// Factory constructs an unconnected adapter.
type Factory func(*slog.Logger) Adapter

// Engine describes a registered dataset engine.
type Engine struct {
	Name string
	// Extensions are the snapshot file extensions the engine claims,
	// lower case with the leading dot.
	Extensions []string
	New        Factory
}

// DefaultEngine opens snapshots whose extension no engine claims.
const DefaultEngine = "sqlite"

var (
	registryMu sync.RWMutex
	engines    = make(map[string]Engine)
)

// Register adds an engine. Engine packages call it from init.
// Registering a name twice replaces the earlier engine.
func Register(e Engine) {
	registryMu.Lock()
	defer registryMu.Unlock()
	e.Name = strings.ToLower(e.Name)
	engines[e.Name] = e
}

// Lookup returns the engine registered under name.
func Lookup(name string) (Engine, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := engines[strings.ToLower(name)]
	return e, ok
}

// IsRegistered reports whether an engine is registered under name.
func IsRegistered(name string) bool {
	_, ok := Lookup(name)
	return ok
}

// Engines returns the registered engine names, sorted.
func Engines() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return sortedNames()
}

// EngineForPath picks the engine whose extensions match path, falling back
// to DefaultEngine.
func EngineForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, name := range sortedNames() {
		if slices.Contains(engines[name].Extensions, ext) {
			return name
		}
	}
	return DefaultEngine
}

// sortedNames must be called with registryMu held.
func sortedNames() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewAdapter creates an unconnected adapter for cfg.Type.
// A nil logger is replaced by a discard logger.
func NewAdapter(cfg core.AdapterConfig, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, errors.New("dataset engine not specified")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	e, ok := Lookup(cfg.Type)
	if !ok {
		return nil, &UnknownEngineError{Type: cfg.Type, Available: Engines()}
	}
	return e.New(logger), nil
}

// UnknownEngineError is returned when an unregistered engine is requested.
type UnknownEngineError struct {
	Type      string
	Available []string
}

func (e *UnknownEngineError) Error() string {
	return fmt.Sprintf("unknown dataset engine %q\nAvailable engines: %v\nHint: Check dataset.engine in manual.yaml", e.Type, e.Available)
}
