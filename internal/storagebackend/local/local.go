// Package local is the filesystem variant of the Storage Abstraction,
// backed by the local filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"mediafetch/internal/domain"
	"mediafetch/internal/domain/ports"
	"mediafetch/internal/metrics"
)

func observe(op string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.StorageOperationDuration.WithLabelValues(op, outcome).Observe(time.Since(started).Seconds())
}

// Storage serves jobs/<job_id>/<filename> keys under a root directory. It
// has no built-in TTL semantics for URLFor; a static file handler serves the
// root directly and the returned URL never expires.
type Storage struct {
	root    string
	baseURL string
}

func New(root, baseURL string) (*Storage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Storage{root: root, baseURL: baseURL}, nil
}

func (s *Storage) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", domain.NewError(domain.ErrInvalidInput, "empty key")
	}
	return filepath.Join(s.root, clean), nil
}

func (s *Storage) Put(_ context.Context, key string, body io.Reader, _ string) (result ports.PutResult, err error) {
	started := time.Now()
	defer func() { observe("put", started, err) }()

	path, rerr := s.resolve(key)
	if rerr != nil {
		return ports.PutResult{}, rerr
	}
	if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
		return ports.PutResult{}, domain.Wrap(domain.ErrStorageUnavailable, "mkdir", mkErr)
	}
	f, createErr := os.Create(path)
	if createErr != nil {
		return ports.PutResult{}, domain.Wrap(domain.ErrStorageUnavailable, "create file", createErr)
	}
	defer f.Close()

	n, copyErr := io.Copy(f, body)
	if copyErr != nil {
		return ports.PutResult{}, domain.Wrap(domain.ErrStorageUnavailable, "write file", copyErr)
	}
	return ports.PutResult{SizeBytes: n}, nil
}

func (s *Storage) Get(_ context.Context, key string) (rc io.ReadCloser, err error) {
	started := time.Now()
	defer func() { observe("get", started, err) }()

	path, rerr := s.resolve(key)
	if rerr != nil {
		return nil, rerr
	}
	f, openErr := os.Open(path)
	if openErr != nil {
		if os.IsNotExist(openErr) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Wrap(domain.ErrStorageUnavailable, "open file", openErr)
	}
	return f, nil
}

func (s *Storage) Delete(_ context.Context, key string) (deleted bool, err error) {
	started := time.Now()
	defer func() { observe("delete", started, err) }()

	path, rerr := s.resolve(key)
	if rerr != nil {
		return false, rerr
	}
	if rmErr := os.Remove(path); rmErr != nil {
		if os.IsNotExist(rmErr) {
			return false, nil
		}
		return false, domain.Wrap(domain.ErrStorageUnavailable, "remove file", rmErr)
	}
	return true, nil
}

func (s *Storage) Exists(_ context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, domain.Wrap(domain.ErrStorageUnavailable, "stat file", err)
}

func (s *Storage) URLFor(_ context.Context, key string, _ time.Duration) (string, error) {
	return fmt.Sprintf("%s/%s", s.baseURL, key), nil
}

func (s *Storage) Probe(ctx context.Context) ports.HealthStatus {
	key := fmt.Sprintf("_probe/%d", time.Now().UnixNano())
	if _, err := s.Put(ctx, key, nopReader{}, "application/octet-stream"); err != nil {
		return ports.HealthUnhealthy
	}
	rc, err := s.Get(ctx, key)
	if err != nil {
		return ports.HealthUnhealthy
	}
	_ = rc.Close()
	if _, err := s.Delete(ctx, key); err != nil {
		return ports.HealthUnhealthy
	}
	return ports.HealthHealthy
}

type nopReader struct{}

func (nopReader) Read(p []byte) (int, error) { return 0, io.EOF }
