// Package dataset provides the reference dataset: one snapshot file that the
// build executes against and that is published verbatim for reader sessions.
package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/ehimanual/pkg/adapter"
	"github.com/leapstack-labs/ehimanual/pkg/core"

	_ "github.com/leapstack-labs/ehimanual/pkg/adapters/duckdb" // register duckdb engine
	_ "github.com/leapstack-labs/ehimanual/pkg/adapters/sqlite" // register sqlite engine
)

// ErrDigestMismatch is returned when a copied snapshot differs from its source.
var ErrDigestMismatch = errors.New("snapshot digest mismatch")

// Snapshot describes a dataset file on disk.
type Snapshot struct {
	Path   string `json:"-"`
	Size   int64  `json:"size"`
	Digest string `json:"sha256"`
}

// Inspect returns the size and sha256 digest of the snapshot at path.
func Inspect(path string) (*Snapshot, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, fmt.Errorf("failed to hash snapshot: %w", err)
	}

	return &Snapshot{
		Path:   path,
		Size:   n,
		Digest: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Publish copies the snapshot at src to dst byte for byte and verifies the
// copy. The file is never rewritten or compacted.
func Publish(src, dst string) (*Snapshot, error) {
	want, err := Inspect(src)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	// Readers holding the previous snapshot open keep their copy.
	tmp := dst + ".tmp"
	if err := copyFile(src, tmp); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("failed to publish snapshot: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("failed to publish snapshot: %w", err)
	}

	got, err := Inspect(dst)
	if err != nil {
		return nil, err
	}
	if got.Digest != want.Digest {
		return nil, fmt.Errorf("%w: %s != %s", ErrDigestMismatch, got.Digest, want.Digest)
	}
	return got, nil
}

// Verify checks that the snapshot at path has the expected digest.
func Verify(path, digest string) error {
	s, err := Inspect(path)
	if err != nil {
		return err
	}
	if s.Digest != digest {
		return fmt.Errorf("%w: %s != %s", ErrDigestMismatch, s.Digest, digest)
	}
	return nil
}

// Fetch makes the snapshot at rawURL available as a local file and returns
// its path. http(s) URLs are downloaded into dir; file URLs and plain paths
// are returned as-is after checking they exist.
func Fetch(ctx context.Context, rawURL, dir string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path (a single-letter scheme is a Windows drive).
		return localPath(rawURL)
	}

	switch u.Scheme {
	case "file":
		return localPath(u.Path)
	case "http", "https":
		return download(ctx, u, dir)
	default:
		return "", fmt.Errorf("unsupported snapshot URL scheme %q", u.Scheme)
	}
}

func localPath(p string) (string, error) {
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("snapshot not found: %w", err)
	}
	return p, nil
}

func download(ctx context.Context, u *url.URL, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build snapshot request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch snapshot: %s", resp.Status)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	name := filepath.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = "snapshot.sqlite"
	}
	dst := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to download snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store snapshot: %w", err)
	}
	return dst, nil
}

// EngineFor guesses the engine from the snapshot file extension.
func EngineFor(path string) string {
	return adapter.EngineForPath(path)
}

// Open connects to the snapshot read-only through the registered engine.
// An empty engine is chosen from the file extension.
func Open(ctx context.Context, engine, path string, params map[string]any, logger *slog.Logger) (adapter.Adapter, error) {
	if engine == "" {
		engine = EngineFor(path)
	}
	cfg := core.AdapterConfig{Type: engine, Path: path, ReadOnly: true, Params: params}

	adp, err := adapter.NewAdapter(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := adp.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %w", path, err)
	}
	return adp, nil
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src) //nolint:gosec // G304: src is from trusted config
	if err != nil {
		return err
	}
	defer func() { _ = srcFile.Close() }()

	dstFile, err := os.Create(dst) //nolint:gosec // G304: dst is under the output dir
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return err
	}
	return dstFile.Close()
}
