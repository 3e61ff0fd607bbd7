// Package media stores uploaded creative assets and describes them to the
// rest of the system.
package media

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is the media type of an asset.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Errors returned by media operations.
var (
	ErrMediaNotFound    = errors.New("media not found")
	ErrUnsupportedType  = errors.New("unsupported media type")
	ErrTooLarge         = errors.New("media exceeds size limit")
	ErrEmptyUpload      = errors.New("media upload is empty")
	ErrStorageDenied    = errors.New("media storage access denied")
	ErrStorageThrottled = errors.New("media storage throttled")
	ErrStorageDown      = errors.New("media storage unavailable")
)

// Descriptor describes one stored asset.
type Descriptor struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	Filename      string    `json:"filename"`
	ContentType   string    `json:"content_type"`
	Size          int64     `json:"size"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
	URL           string    `json:"url"`
	StorageKey    string    `json:"storage_key"`
	PlatformToken string    `json:"platform_token,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Limits caps upload sizes per kind, in bytes.
type Limits struct {
	MaxImageBytes int64
	MaxVideoBytes int64
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxImageBytes: 30 << 20,
		MaxVideoBytes: 1 << 30,
	}
}

// For returns the limit for kind.
func (l Limits) For(kind Kind) int64 {
	switch kind {
	case KindImage:
		return l.MaxImageBytes
	case KindVideo:
		return l.MaxVideoBytes
	}
	return 0
}

var contentTypes = map[string]Kind{
	"image/jpeg":      KindImage,
	"image/png":       KindImage,
	"image/gif":       KindImage,
	"image/webp":      KindImage,
	"video/mp4":       KindVideo,
	"video/quicktime": KindVideo,
	"video/webm":      KindVideo,
}

var extensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
}

// Classify determines the kind and canonical content type of an upload.
//
// A declared content type wins when it is supported; otherwise the file
// extension decides. Generic types like application/octet-stream fall back
// to the extension.
func Classify(filename, contentType string) (Kind, string, error) {
	if ct := normalizeContentType(contentType); ct != "" {
		if kind, ok := contentTypes[ct]; ok {
			return kind, ct, nil
		}
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ct, ok := extensions[ext]; ok {
		return contentTypes[ct], ct, nil
	}
	return "", "", fmt.Errorf("%w: %q (%s)", ErrUnsupportedType, filename, contentType)
}

// sniffLen is how much of an upload is inspected for its real type.
const sniffLen = 3072

// sniff checks the leading bytes of an upload against the kind chosen by
// Classify. A recognized media signature replaces the declared content
// type and must agree on kind; unrecognized content keeps the declared
// classification.
func sniff(kind Kind, contentType string, head []byte) (Kind, string, error) {
	detected := normalizeContentType(mimetype.Detect(head).String())
	dk, ok := contentTypes[detected]
	if !ok {
		return kind, contentType, nil
	}
	if dk != kind {
		return "", "", fmt.Errorf("%w: content is %s, declared %s", ErrUnsupportedType, detected, contentType)
	}
	return dk, detected, nil
}

func normalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(ct)
	}
	return strings.ToLower(mediaType)
}

// SupportedExtensions lists the file extensions Classify accepts.
func SupportedExtensions() []string {
	out := make([]string, 0, len(extensions))
	for ext := range extensions {
		out = append(out, ext)
	}
	return out
}
