package media

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"bp-api-service/internal/domain"
	"bp-api-service/internal/domain/ports/storage"
)

var _ storage.MediaStore = (*FilesystemStore)(nil)

// FilesystemStore keeps media objects under a root directory with write-once
// keys. The atomic O_EXCL create removes the need for per-key locking.
type FilesystemStore struct {
	root    string
	baseURL string
}

// NewFilesystemStore creates the media root if needed. baseURL is the public
// prefix derived from MEDIA_SERVE_HOST and MEDIA_URL.
func NewFilesystemStore(root, serveHost, mediaURL string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &FilesystemStore{root: root, baseURL: joinBaseURL(serveHost, mediaURL)}, nil
}

// joinBaseURL resolves the public prefix: an absolute MEDIA_URL wins, a
// relative one is served under MEDIA_SERVE_HOST.
func joinBaseURL(serveHost, mediaURL string) string {
	if u, err := url.Parse(mediaURL); err == nil && u.Scheme != "" {
		return strings.TrimRight(mediaURL, "/")
	}
	return strings.TrimRight(serveHost, "/") + "/" + strings.Trim(mediaURL, "/")
}

func (s *FilesystemStore) path(key string) (string, error) {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	// Reject keys escaping the media root.
	if !strings.HasPrefix(filepath.Clean(p), filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("key escapes media root: %w", domain.ErrInvalidArgument)
	}
	return p, nil
}

// Put writes the object and fsyncs it before returning, so a successful Put
// guarantees a subsequent Get succeeds even across a process restart.
func (s *FilesystemStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", domain.ErrAlreadyExists
		}
		return "", fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(p)
		return "", fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	if err := f.Sync(); err != nil {
		os.Remove(p)
		return "", fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return p, nil
}

// Get returns the stored bytes. The filesystem backend keeps no per-object
// metadata, so the content type is sniffed from the bytes themselves.
func (s *FilesystemStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", domain.ErrNotFound
		}
		return nil, "", fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return data, http.DetectContentType(data), nil
}

func (s *FilesystemStore) Remove(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}
	return nil
}

// URLFor is a pure function of configuration and key.
func (s *FilesystemStore) URLFor(key string) string {
	return s.baseURL + "/" + strings.TrimLeft(key, "/")
}
