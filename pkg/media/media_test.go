package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		wantKind    Kind
		wantCT      string
		wantErr     bool
	}{
		{"declared jpeg", "a.bin", "image/jpeg", KindImage, "image/jpeg", false},
		{"declared with params", "a", "video/mp4; codecs=avc1", KindVideo, "video/mp4", false},
		{"octet stream falls back to ext", "clip.MOV", "application/octet-stream", KindVideo, "video/quicktime", false},
		{"extension only", "photo.png", "", KindImage, "image/png", false},
		{"unsupported", "doc.pdf", "application/pdf", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ct, err := Classify(tt.filename, tt.contentType)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantCT, ct)
		})
	}
}

func newLibrary(t *testing.T, limits Limits) *Library {
	t.Helper()
	storage, err := NewLocalStorage(t.TempDir(), "http://cdn.test/media")
	require.NoError(t, err)
	return NewLibrary(storage, limits, nil)
}

func TestLibrary_UploadImage(t *testing.T) {
	lib := newLibrary(t, Limits{})
	data := pngBytes(t, 40, 20)

	desc, err := lib.Upload(context.Background(), UploadInput{
		Filename:    "dir/banner.png",
		ContentType: "image/png",
		Body:        bytes.NewReader(data),
		Size:        int64(len(data)),
	})
	require.NoError(t, err)
	assert.Equal(t, KindImage, desc.Kind)
	assert.Equal(t, "banner.png", desc.Filename)
	assert.Equal(t, 40, desc.Width)
	assert.Equal(t, 20, desc.Height)
	assert.Equal(t, int64(len(data)), desc.Size)
	assert.True(t, strings.HasPrefix(desc.URL, "http://cdn.test/media/"))

	got, err := lib.Get(desc.ID)
	require.NoError(t, err)
	assert.Equal(t, desc.StorageKey, got.StorageKey)

	rc, err := lib.Open(context.Background(), desc.ID)
	require.NoError(t, err)
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, stored)
}

func TestLibrary_UploadVideoStreams(t *testing.T) {
	lib := newLibrary(t, Limits{})
	desc, err := lib.Upload(context.Background(), UploadInput{
		Filename: "clip.mp4",
		Body:     strings.NewReader("not really a video"),
		Size:     -1,
	})
	require.NoError(t, err)
	assert.Equal(t, KindVideo, desc.Kind)
	assert.Equal(t, int64(len("not really a video")), desc.Size)
}

func TestLibrary_UploadRejects(t *testing.T) {
	lib := newLibrary(t, Limits{MaxImageBytes: 10, MaxVideoBytes: 10})
	ctx := context.Background()

	t.Run("declared too large", func(t *testing.T) {
		_, err := lib.Upload(ctx, UploadInput{Filename: "a.png", Body: strings.NewReader("x"), Size: 11})
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("image body too large", func(t *testing.T) {
		_, err := lib.Upload(ctx, UploadInput{Filename: "a.png", Body: strings.NewReader(strings.Repeat("x", 20)), Size: -1})
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("video body too large", func(t *testing.T) {
		_, err := lib.Upload(ctx, UploadInput{Filename: "a.mp4", Body: strings.NewReader(strings.Repeat("x", 20)), Size: -1})
		assert.ErrorIs(t, err, ErrTooLarge)
		assert.Empty(t, lib.List())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := lib.Upload(ctx, UploadInput{Filename: "a.mp4", Body: strings.NewReader(""), Size: -1})
		assert.ErrorIs(t, err, ErrEmptyUpload)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := lib.Upload(ctx, UploadInput{Filename: "a.txt", Body: strings.NewReader("x"), Size: 1})
		assert.ErrorIs(t, err, ErrUnsupportedType)
	})
}

func TestLibrary_UploadSniffsContent(t *testing.T) {
	lib := newLibrary(t, Limits{})
	ctx := context.Background()
	data := pngBytes(t, 2, 2)

	desc, err := lib.Upload(ctx, UploadInput{Filename: "photo.jpg", ContentType: "image/jpeg", Body: bytes.NewReader(data), Size: -1})
	require.NoError(t, err)
	assert.Equal(t, "image/png", desc.ContentType)
	assert.Equal(t, 2, desc.Width)

	_, err = lib.Upload(ctx, UploadInput{Filename: "clip.mp4", Body: bytes.NewReader(data), Size: -1})
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Len(t, lib.List(), 1)
}

func TestLibrary_DeleteAndToken(t *testing.T) {
	lib := newLibrary(t, Limits{})
	ctx := context.Background()
	desc, err := lib.Upload(ctx, UploadInput{Filename: "a.mp4", Body: strings.NewReader("abc"), Size: 3})
	require.NoError(t, err)

	require.NoError(t, lib.SetPlatformToken(desc.ID, "tok-1"))
	got, err := lib.Get(desc.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got.PlatformToken)

	require.NoError(t, lib.Delete(ctx, desc.ID))
	_, err = lib.Get(desc.ID)
	assert.ErrorIs(t, err, ErrMediaNotFound)
	assert.ErrorIs(t, lib.Delete(ctx, desc.ID), ErrMediaNotFound)
	assert.ErrorIs(t, lib.SetPlatformToken(desc.ID, "x"), ErrMediaNotFound)

	_, err = lib.Storage().Open(ctx, desc.StorageKey)
	assert.ErrorIs(t, err, ErrMediaNotFound)
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStorage(filepath.Join(root, "media"), "")
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "../../escape.txt", strings.NewReader("x"), 1, ""))
	_, err = os.Stat(filepath.Join(root, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
	assert.FileExists(t, filepath.Join(root, "media", "escape.txt"))
	assert.True(t, strings.HasPrefix(s.URL("a.png"), "file://"))
	assert.NoError(t, s.Ping(context.Background()))
}

type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return fmt.Sprintf("%s: %s", e.code, e.message) }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

func TestS3Storage_WrapError(t *testing.T) {
	s := &S3Storage{bucket: "b"}
	tests := []struct {
		code     string
		expected error
	}{
		{"NoSuchKey", ErrMediaNotFound},
		{"AccessDenied", ErrStorageDenied},
		{"SignatureDoesNotMatch", ErrStorageDenied},
		{"SlowDown", ErrStorageThrottled},
		{"ServiceUnavailable", ErrStorageDown},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := s.wrapError("Test", "key", &mockAPIError{code: tt.code, message: "m"})
			assert.True(t, errors.Is(err, tt.expected), "expected %v for %s", tt.expected, tt.code)

			var serr *StorageError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, "s3", serr.Backend)
		})
	}
}

func TestS3Config_Validate(t *testing.T) {
	assert.ErrorContains(t, (&S3Config{}).Validate(), "bucket name is required")
	assert.ErrorContains(t, (&S3Config{Bucket: "b", AccessKeyID: "x"}).Validate(), "provided together")
	assert.NoError(t, (&S3Config{Bucket: "b"}).Validate())
}

func TestS3Storage_URL(t *testing.T) {
	assert.Equal(t, "s3://b/media/a.png", (&S3Storage{bucket: "b", prefix: "media/"}).URL("a.png"))
	assert.Equal(t, "https://cdn/media/a.png", (&S3Storage{bucket: "b", prefix: "media/", baseURL: "https://cdn"}).URL("/a.png"))
}

func TestFindImportCandidates(t *testing.T) {
	root := t.TempDir()
	files := []string{
		"a.jpg",
		"nested/b.png",
		"nested/c.mp4",
		"nested/skip.tmp.jpg",
		".hidden/d.jpg",
		"notes.txt",
	}
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0644))
	}

	got, err := FindImportCandidates(ImportConfig{
		Root:     root,
		Includes: []string{"**/*"},
		Excludes: []string{"**/*.tmp.*"},
	})
	require.NoError(t, err)

	paths := make([]string, 0, len(got))
	for _, c := range got {
		paths = append(paths, c.Path)
	}
	assert.Equal(t, []string{"a.jpg", "nested/b.png", "nested/c.mp4"}, paths)
	assert.Equal(t, KindVideo, got[2].Kind)

	_, err = FindImportCandidates(ImportConfig{Root: root})
	assert.ErrorIs(t, err, ErrNoIncludes)

	_, err = FindImportCandidates(ImportConfig{Root: root, Includes: []string{"[unclosed"}})
	assert.Error(t, err)
}
