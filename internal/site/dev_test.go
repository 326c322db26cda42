package site

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDevServer(t *testing.T) (*DevServer, Options) {
	t.Helper()
	opts := newFixture(t, defaultChapters())
	opts.ReloadURL = DevReloadPath
	// Rebuilds may outlive the test body, so nothing logs to t.
	b := NewBuilder(opts, nil, nil)
	s := NewDevServer(b, 0, nil)
	require.NoError(t, s.rebuild(context.Background()))
	return s, b.Options()
}

func TestDevServer_ServesSite(t *testing.T) {
	s, _ := newDevServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/chapters/01-01-patients/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-cache, no-store, must-revalidate", resp.Header.Get("Cache-Control"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/__reload")
	assert.Contains(t, string(body), `data-widget-id="01-01-patients-0"`)
}

func TestDevServer_ReloadStream(t *testing.T) {
	s, _ := newDevServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+DevReloadPath, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, "data: connected", lines.Text())

	require.Eventually(t, func() bool { return s.clientCount() == 1 }, time.Second, 10*time.Millisecond)
	s.notifyClients()

	var got string
	for lines.Scan() {
		if got = strings.TrimSpace(lines.Text()); got != "" {
			break
		}
	}
	assert.Equal(t, "data: reload", got)
}

func TestDevServer_Relevant(t *testing.T) {
	s, opts := newDevServer(t)

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"chapter write", fsnotify.Event{Name: filepath.Join(opts.ChaptersDir, "01-01-a.md"), Op: fsnotify.Write}, true},
		{"chapter removed", fsnotify.Event{Name: filepath.Join(opts.ChaptersDir, "01-01-a.md"), Op: fsnotify.Remove}, true},
		{"chmod only", fsnotify.Event{Name: filepath.Join(opts.ChaptersDir, "01-01-a.md"), Op: fsnotify.Chmod}, false},
		{"editor swap file", fsnotify.Event{Name: filepath.Join(opts.ChaptersDir, ".01-01-a.md.swp"), Op: fsnotify.Write}, false},
		{"snapshot", fsnotify.Event{Name: opts.DatasetPath, Op: fsnotify.Write}, true},
		{"snapshot journal", fsnotify.Event{Name: opts.DatasetPath + "-journal", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.relevant(tt.event))
		})
	}
}

func TestDevServer_RebuildsOnChange(t *testing.T) {
	s, opts := newDevServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer func() { _ = watcher.Close() }()
	require.NoError(t, watcher.Add(opts.ChaptersDir))
	go s.watchLoop(ctx, watcher)

	chapter := "# Chapter 1.3: Fresh\n\nBrand new.\n"
	require.NoError(t, os.WriteFile(filepath.Join(opts.ChaptersDir, "01-03-fresh.md"), []byte(chapter), 0600))

	page := filepath.Join(opts.OutputDir, "chapters", "01-03-fresh", "index.html")
	assert.Eventually(t, func() bool {
		_, err := os.Stat(page)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
}
