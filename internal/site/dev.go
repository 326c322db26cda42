package site

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce is how long the watcher waits for a burst of writes to settle.
const debounce = 100 * time.Millisecond

// DevReloadPath is the reload event stream served by DevServer.
const DevReloadPath = "/__reload"

// DevServer serves the built site, rebuilds it when chapters or the snapshot
// change and tells open pages to reload.
type DevServer struct {
	builder *Builder
	port    int
	logger  *slog.Logger

	mu        sync.Mutex // serializes rebuilds
	clients   map[chan struct{}]struct{}
	clientsMu sync.Mutex
}

// NewDevServer creates a development server. The builder should have
// ReloadURL set to DevReloadPath so pages connect back to the server.
func NewDevServer(builder *Builder, port int, logger *slog.Logger) *DevServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DevServer{
		builder: builder,
		port:    port,
		logger:  logger,
		clients: make(map[chan struct{}]struct{}),
	}
}

// Serve builds the site and serves it until ctx is cancelled.
func (s *DevServer) Serve(ctx context.Context) error {
	if err := s.rebuild(ctx); err != nil {
		return fmt.Errorf("initial build failed: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	opts := s.builder.Options()
	for _, dir := range []string{opts.ChaptersDir, filepath.Dir(opts.DatasetPath)} {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	go s.watchLoop(ctx, watcher)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("dev server running",
		"url", fmt.Sprintf("http://localhost:%d%s", s.port, opts.BasePath),
		"chapters", opts.ChaptersDir,
		"dataset", opts.DatasetPath)

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler serves the output directory with caching disabled, plus the
// reload event stream.
func (s *DevServer) Handler() http.Handler {
	opts := s.builder.Options()
	files := http.FileServer(http.Dir(opts.OutputDir))
	if opts.BasePath != "/" {
		files = http.StripPrefix(strings.TrimSuffix(opts.BasePath, "/"), files)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(DevReloadPath, s.handleSSE)
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		files.ServeHTTP(w, r)
	}))
	return mux
}

// relevant reports whether an event should trigger a rebuild.
func (s *DevServer) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if strings.EqualFold(filepath.Ext(event.Name), ".md") {
		return true
	}
	return filepath.Clean(event.Name) == filepath.Clean(s.builder.Options().DatasetPath)
}

func (s *DevServer) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !s.relevant(event) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			name := filepath.Base(event.Name)
			timer = time.AfterFunc(debounce, func() {
				s.logger.Info("change detected", "file", name)
				if err := s.rebuild(ctx); err != nil {
					s.logger.Error("rebuild failed", "error", err)
					return
				}
				s.notifyClients()
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watcher error", "error", err)
		}
	}
}

func (s *DevServer) rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	rep, err := s.builder.Build(ctx)
	if err != nil {
		return err
	}
	if n := len(rep.Failures); n > 0 {
		s.logger.Warn("some queries failed", "count", n)
	}
	return nil
}

// handleSSE streams reload events to a page.
func (s *DevServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan struct{}, 1)
	s.clientsMu.Lock()
	s.clients[ch] = struct{}{}
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, ch)
		s.clientsMu.Unlock()
	}()

	_, _ = fmt.Fprintf(w, "data: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ch:
			_, _ = fmt.Fprintf(w, "data: reload\n\n")
			flusher.Flush()
		}
	}
}

// notifyClients sends a reload signal to every connected page.
func (s *DevServer) notifyClients() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	for ch := range s.clients {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// clientCount returns the number of open reload streams.
func (s *DevServer) clientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}
