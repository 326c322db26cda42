// Package ui is the live reader server: it serves a built site, answers
// reader queries against the shared dataset runtime, drives widgets through
// server-side controllers and reloads open pages after a rebuild.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/leapstack-labs/ehimanual/internal/runtime"
	"github.com/leapstack-labs/ehimanual/internal/ui/notifier"
	"github.com/leapstack-labs/ehimanual/internal/widget"
	"github.com/leapstack-labs/ehimanual/pkg/core"
	"golang.org/x/sync/errgroup"
)

// QueriesFile is the site-relative payload file the server loads widgets from.
const QueriesFile = "data/queries.json"

// DatasetInfo describes the snapshot the runtime serves.
type DatasetInfo struct {
	Engine string `json:"engine"`
	Digest string `json:"sha256"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
}

// Config holds configuration for the reader server.
type Config struct {
	Runtime *runtime.Runtime
	SiteDir string
	Dataset DatasetInfo
	Port    int

	// Watch rebuilds the site through Rebuild when a file under WatchDirs
	// changes, then reloads open pages.
	Watch     bool
	WatchDirs []string
	Rebuild   func(ctx context.Context) (buildID string, err error)

	SessionSecret string
	// MaxSessions and SessionIdleTimeout bound the per-reader widget state
	// kept in memory. Zero uses the widget package defaults.
	MaxSessions        int
	SessionIdleTimeout time.Duration

	Logger *slog.Logger
}

// Server is the live reader server.
type Server struct {
	cfg          Config
	runtime      *runtime.Runtime
	registry     *widget.Registry
	sessionStore *sessions.CookieStore
	notifier     *notifier.Notifier
	logger       *slog.Logger

	reloadMu sync.Mutex // one rebuild at a time

	mu       sync.RWMutex
	payloads widget.Payloads
}

// NewServer creates a server over a built site. The site must contain the
// widget payload file.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Runtime == nil {
		return nil, errors.New("ui: runtime is required")
	}

	payloads, err := loadPayloads(cfg.SiteDir)
	if err != nil {
		return nil, err
	}

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		// sessions then only survive until restart
		secret = securecookie.GenerateRandomKey(32)
	}
	sessionStore := sessions.NewCookieStore(secret)
	sessionStore.MaxAge(86400 * 30) // 30 days
	sessionStore.Options.Path = "/"
	sessionStore.Options.HttpOnly = true
	sessionStore.Options.SameSite = http.SameSiteLaxMode

	return &Server{
		cfg:     cfg,
		runtime: cfg.Runtime,
		registry: widget.NewRegistry(cfg.Runtime, payloads,
			widget.WithMaxSessions(cfg.MaxSessions),
			widget.WithIdleTimeout(cfg.SessionIdleTimeout)),
		sessionStore: sessionStore,
		notifier:     notifier.New(),
		logger:       cfg.Logger,
		payloads:     payloads,
	}, nil
}

func loadPayloads(siteDir string) (widget.Payloads, error) {
	data, err := os.ReadFile(filepath.Join(siteDir, filepath.FromSlash(QueriesFile))) //nolint:gosec // G304: site dir is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read widget payloads: %w", err)
	}
	list, err := core.DecodePayloads(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode widget payloads: %w", err)
	}
	payloads := make(widget.Payloads, len(list))
	for _, p := range list {
		payloads[p.ID] = p
	}
	return payloads, nil
}

// Notifier returns the rebuild notifier.
func (s *Server) Notifier() *notifier.Notifier {
	return s.notifier
}

// Widgets returns the number of widgets the server knows about.
func (s *Server) Widgets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payloads)
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)

	r.Route("/api", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/datasets", s.handleDatasets)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.readerSession)
		r.Get("/widgets/{id}", s.handleWidgetState)
		r.Post("/widgets/{id}/run", s.handleWidgetRun)
		r.Post("/widgets/{id}/showall", s.handleWidgetShowAll)
		r.Post("/widgets/{id}/reset", s.handleWidgetReset)
		r.Delete("/widgets", s.handleForget)
	})

	r.Get("/reload", s.handleReload)

	files := http.FileServer(http.Dir(s.cfg.SiteDir))
	r.Handle("/*", files)
	return r
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Info("starting reader server",
		"addr", fmt.Sprintf("http://localhost:%d", s.cfg.Port),
		"widgets", s.Widgets(),
		"dataset", s.cfg.Dataset.URL)

	// Start loading the snapshot before the first reader asks for it.
	s.runtime.Handle().Prefetch()

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.Watch && s.cfg.Rebuild != nil {
		eg.Go(func() error {
			return s.watchFiles(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down reader server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// watchFiles rebuilds the site when a chapter changes.
func (s *Server) watchFiles(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range s.cfg.WatchDirs {
		if err := watcher.Add(dir); err != nil {
			s.logger.Error("failed to watch directory", "dir", dir, "error", err)
		}
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".md") {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				s.logger.Debug("chapter changed, rebuilding", "file", event.Name)
				if err := s.Reload(ctx); err != nil {
					s.logger.Error("rebuild failed", "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

// Reload rebuilds the site, swaps in the new widget payloads and tells open
// pages to reload. Widget controllers are discarded. Concurrent calls run
// one after another.
func (s *Server) Reload(ctx context.Context) error {
	if s.cfg.Rebuild == nil {
		return errors.New("ui: no rebuild configured")
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	buildID, err := s.cfg.Rebuild(ctx)
	if err != nil {
		return err
	}

	payloads, err := loadPayloads(s.cfg.SiteDir)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.payloads = payloads
	s.mu.Unlock()
	dropped := s.registry.Sessions()
	s.registry.SetSource(payloads)

	ev := s.notifier.Publish(buildID)
	s.logger.Info("site reloaded", "build", buildID, "version", ev.Version, "widgets", len(payloads), "sessions_dropped", dropped)
	return nil
}
