package storage

import (
	"context"
	"io"
)

// Storage defines the interface for message attachment storage.
type Storage interface {
	// Upload stores a file and returns the result with key and URL.
	Upload(ctx context.Context, input *UploadInput) (*UploadResult, error)

	// Open returns a reader over the stored file identified by key.
	Open(ctx context.Context, key string) (*File, error)

	// Delete removes a file by its key.
	Delete(ctx context.Context, key string) error
}

// UploadInput holds the parameters for uploading a file.
type UploadInput struct {
	Key         string
	ContentType string
	Size        int64
	Data        io.Reader
}

// UploadResult holds the result of a successful upload.
type UploadResult struct {
	Key string
	URL string
}

// File is an opened stored file. The caller owns Content and must close it.
type File struct {
	Content     io.ReadCloser
	ContentType string
	Size        int64
}
