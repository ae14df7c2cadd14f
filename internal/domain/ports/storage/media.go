package storage

import "context"

// MediaStore is durable, write-once storage for uploaded and produced bytes.
type MediaStore interface {
	// Put stores bytes under key and returns the backend location. Fails with
	// domain.ErrAlreadyExists if the key is present; the write is durable
	// before Put returns.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get returns the stored bytes and their content type, or
	// domain.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, string, error)

	// Remove deletes the object if present. Missing keys are not an error so
	// the media reaper can re-run safely.
	Remove(ctx context.Context, key string) error

	// URLFor maps a key to its public URL. Pure: configuration and key only,
	// never I/O.
	URLFor(key string) string
}
