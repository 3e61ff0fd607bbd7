package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Storage holds asset bytes.
type Storage interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error

	// URL returns the address the asset is served from.
	URL(key string) string
}

// Pinger is implemented by storages that can check their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StorageError wraps a backend failure with the operation and key.
type StorageError struct {
	Op      string
	Backend string
	Key     string
	Err     error
}

func (e *StorageError) Error() string {
	msg := e.Backend + " " + e.Op
	if e.Key != "" {
		msg += " " + e.Key
	}
	return msg + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// LocalStorage keeps assets in a directory.
type LocalStorage struct {
	root    string
	baseURL string
}

// NewLocalStorage returns a LocalStorage rooted at dir. baseURL, when set,
// is the public prefix assets are served under; otherwise file URLs are
// returned.
func NewLocalStorage(dir, baseURL string) (*LocalStorage, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("media dir is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &LocalStorage{root: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", &StorageError{Op: "Resolve", Backend: "local", Key: key, Err: errors.New("invalid key")}
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *LocalStorage) Put(ctx context.Context, key string, body io.Reader, _ int64, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &StorageError{Op: "Put", Backend: "local", Key: key, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload.*")
	if err != nil {
		return &StorageError{Op: "Put", Backend: "local", Key: key, Err: err}
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return &StorageError{Op: "Put", Backend: "local", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StorageError{Op: "Put", Backend: "local", Key: key, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &StorageError{Op: "Put", Backend: "local", Key: key, Err: err}
	}
	return nil
}

func (s *LocalStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &StorageError{Op: "Open", Backend: "local", Key: key, Err: ErrMediaNotFound}
		}
		return nil, &StorageError{Op: "Open", Backend: "local", Key: key, Err: err}
	}
	return f, nil
}

func (s *LocalStorage) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Op: "Delete", Backend: "local", Key: key, Err: err}
	}
	return nil
}

func (s *LocalStorage) URL(key string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + strings.TrimLeft(key, "/")
	}
	path, err := s.path(key)
	if err != nil {
		return ""
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

func (s *LocalStorage) Ping(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return &StorageError{Op: "Ping", Backend: "local", Err: err}
	}
	if !info.IsDir() {
		return &StorageError{Op: "Ping", Backend: "local", Err: errors.New("media root is not a directory")}
	}
	return nil
}
