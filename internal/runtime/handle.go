// Package runtime is the reader-side query runtime: a page-scoped dataset
// handle that loads the snapshot once and an Execute entry point that every
// widget on the page shares.
package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/ehimanual/internal/dataset"
	"github.com/leapstack-labs/ehimanual/internal/query"
)

// State is the lifecycle of a Handle.
type State int

// Handle states.
const (
	Uninitialized State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Loader opens the dataset. It runs at most once per Handle.
type Loader func(ctx context.Context) (query.Queryer, error)

// LoadError is returned to every caller waiting on a failed load.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return "failed to load dataset: " + e.Err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Handle owns one lazily loaded dataset. The first Await or Prefetch starts
// the load; every other caller waits on the same result. A failed load is
// never retried; create a new Handle instead.
type Handle struct {
	load   Loader
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	done  chan struct{}
	ds    query.Queryer
	err   error
}

// NewHandle creates an uninitialized handle around load.
func NewHandle(load Loader, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{
		load:   load,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Prefetch starts loading in the background without waiting.
func (h *Handle) Prefetch() {
	h.start()
}

// Await returns the dataset, starting the load if needed. Cancelling ctx
// abandons the wait but not the shared load.
func (h *Handle) Await(ctx context.Context) (query.Queryer, error) {
	done := h.start()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, &LoadError{Err: h.err}
	}
	return h.ds, nil
}

func (h *Handle) start() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.done != nil {
		return h.done
	}

	done := make(chan struct{})
	h.done = done
	h.state = Loading

	go func() {
		started := time.Now()
		ds, err := h.load(h.ctx)

		h.mu.Lock()
		h.ds, h.err = ds, err
		if err != nil {
			h.state = Failed
		} else {
			h.state = Ready
		}
		h.mu.Unlock()

		if err != nil {
			h.logger.Error("dataset load failed", "error", err)
		} else {
			h.logger.Info("dataset loaded", "duration", time.Since(started))
		}
		close(done)
	}()

	return done
}

// Close cancels an in-flight load and releases a loaded dataset.
func (h *Handle) Close() error {
	h.cancel()

	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done

	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.ds.(io.Closer); ok {
		h.ds = nil
		return c.Close()
	}
	return nil
}

// Source locates the snapshot a SnapshotLoader opens.
type Source struct {
	URL      string         // http(s) URL, file URL or local path
	CacheDir string         // download directory for remote snapshots
	Engine   string         // dataset engine; empty picks by extension
	Digest   string         // expected sha256; empty skips verification
	Params   map[string]any // engine parameters
}

// SnapshotLoader fetches, verifies and opens the snapshot described by src.
func SnapshotLoader(src Source, logger *slog.Logger) Loader {
	return func(ctx context.Context) (query.Queryer, error) {
		path, err := dataset.Fetch(ctx, src.URL, src.CacheDir)
		if err != nil {
			return nil, err
		}
		if src.Digest != "" {
			if err := dataset.Verify(path, src.Digest); err != nil {
				return nil, err
			}
		}
		return dataset.Open(ctx, src.Engine, path, src.Params, logger)
	}
}
