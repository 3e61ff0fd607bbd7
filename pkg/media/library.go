package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UploadInput is one asset to store.
type UploadInput struct {
	Filename    string
	ContentType string
	Body        io.Reader

	// Size is the declared size, or -1 when unknown.
	Size int64
}

// Library validates uploads, writes them to Storage and keeps their
// descriptors.
//
// Descriptors live in memory; the bytes live in Storage.
type Library struct {
	storage Storage
	limits  Limits
	logger  *zap.Logger

	mu    sync.RWMutex
	items map[string]*Descriptor
	now   func() time.Time
}

// NewLibrary creates a Library over storage.
func NewLibrary(storage Storage, limits Limits, logger *zap.Logger) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultLimits()
	if limits.MaxImageBytes <= 0 {
		limits.MaxImageBytes = def.MaxImageBytes
	}
	if limits.MaxVideoBytes <= 0 {
		limits.MaxVideoBytes = def.MaxVideoBytes
	}
	return &Library{
		storage: storage,
		limits:  limits,
		logger:  logger,
		items:   make(map[string]*Descriptor),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Storage returns the underlying storage.
func (l *Library) Storage() Storage {
	return l.storage
}

// Upload validates and stores an asset and registers its descriptor.
func (l *Library) Upload(ctx context.Context, in UploadInput) (*Descriptor, error) {
	if in.Body == nil {
		return nil, ErrEmptyUpload
	}
	filename := path.Base(strings.ReplaceAll(strings.TrimSpace(in.Filename), "\\", "/"))
	kind, contentType, err := Classify(filename, in.ContentType)
	if err != nil {
		return nil, err
	}

	limit := l.limits.For(kind)
	if in.Size > limit {
		return nil, fmt.Errorf("%w: %d bytes > %d", ErrTooLarge, in.Size, limit)
	}

	id := uuid.New().String()
	key := id + strings.ToLower(path.Ext(filename))
	desc := &Descriptor{
		ID:          id,
		Kind:        kind,
		Filename:    filename,
		ContentType: contentType,
		StorageKey:  key,
		CreatedAt:   l.now(),
	}

	counter := &countingReader{r: io.LimitReader(in.Body, limit+1)}
	var body io.Reader = counter

	if kind == KindImage {
		// Images are small enough to buffer; it lets us read dimensions
		// and reject oversize bodies before anything is written.
		buf, err := io.ReadAll(counter)
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		if int64(len(buf)) > limit {
			return nil, fmt.Errorf("%w: > %d bytes", ErrTooLarge, limit)
		}
		if len(buf) == 0 {
			return nil, ErrEmptyUpload
		}
		if kind, contentType, err = sniff(kind, contentType, buf); err != nil {
			return nil, err
		}
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(buf)); err == nil {
			desc.Width, desc.Height = cfg.Width, cfg.Height
		}
		body = bytes.NewReader(buf)
		in.Size = int64(len(buf))
	} else {
		br := bufio.NewReaderSize(counter, sniffLen)
		head, err := br.Peek(sniffLen)
		if len(head) == 0 {
			if err == nil || errors.Is(err, io.EOF) {
				return nil, ErrEmptyUpload
			}
			return nil, fmt.Errorf("read upload: %w", err)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		if kind, contentType, err = sniff(kind, contentType, head); err != nil {
			return nil, err
		}
		body = br
	}

	desc.ContentType = contentType
	if err := l.storage.Put(ctx, key, body, in.Size, contentType); err != nil {
		return nil, err
	}
	if counter.n > limit {
		_ = l.storage.Delete(ctx, key)
		return nil, fmt.Errorf("%w: > %d bytes", ErrTooLarge, limit)
	}

	desc.Size = counter.n
	desc.URL = l.storage.URL(key)

	l.mu.Lock()
	l.items[id] = desc
	l.mu.Unlock()

	l.logger.Info("Media stored",
		zap.String("media_id", id),
		zap.String("kind", string(kind)),
		zap.String("filename", filename),
		zap.Int64("size", desc.Size))

	c := *desc
	return &c, nil
}

// Get returns a copy of the descriptor for id.
func (l *Library) Get(id string) (*Descriptor, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.items[strings.TrimSpace(id)]
	if !ok {
		return nil, ErrMediaNotFound
	}
	c := *d
	return &c, nil
}

// List returns all descriptors, newest first.
func (l *Library) List() []Descriptor {
	l.mu.RLock()
	out := make([]Descriptor, 0, len(l.items))
	for _, d := range l.items {
		out = append(out, *d)
	}
	l.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Delete removes the descriptor and the stored bytes.
func (l *Library) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	l.mu.Lock()
	d, ok := l.items[id]
	if ok {
		delete(l.items, id)
	}
	l.mu.Unlock()
	if !ok {
		return ErrMediaNotFound
	}
	return l.storage.Delete(ctx, d.StorageKey)
}

// Open streams the bytes of a stored asset.
func (l *Library) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	d, err := l.Get(id)
	if err != nil {
		return nil, err
	}
	return l.storage.Open(ctx, d.StorageKey)
}

// SetPlatformToken records the remote platform's reference for an asset so
// later jobs can reuse it.
func (l *Library) SetPlatformToken(id, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.items[strings.TrimSpace(id)]
	if !ok {
		return ErrMediaNotFound
	}
	d.PlatformToken = token
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
