package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/Erenimo3442/GroupChatting/internal/storage"
	apperrors "github.com/Erenimo3442/GroupChatting/pkg/errors"
)

// fileEntry stores an uploaded file in memory.
type fileEntry struct {
	ContentType string
	Data        []byte
}

// Storage implements storage.Storage using an in-memory map, for tests.
type Storage struct {
	mu      sync.RWMutex
	files   map[string]*fileEntry
	baseURL string
}

// New creates a new in-memory storage instance.
func New(baseURL string) *Storage {
	return &Storage{
		files:   make(map[string]*fileEntry),
		baseURL: baseURL,
	}
}

// Upload stores the file bytes in memory and returns the generated URL.
func (s *Storage) Upload(_ context.Context, input *storage.UploadInput) (*storage.UploadResult, error) {
	data, err := io.ReadAll(input.Data)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[input.Key] = &fileEntry{
		ContentType: input.ContentType,
		Data:        data,
	}

	return &storage.UploadResult{
		Key: input.Key,
		URL: s.baseURL + "/" + input.Key,
	}, nil
}

// Open returns a reader over the stored bytes.
func (s *Storage) Open(_ context.Context, key string) (*storage.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.files[key]
	if !exists {
		return nil, apperrors.NotFound("file", key)
	}

	return &storage.File{
		Content:     io.NopCloser(bytes.NewReader(entry.Data)),
		ContentType: entry.ContentType,
		Size:        int64(len(entry.Data)),
	}, nil
}

// Delete removes a file from memory.
func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.files[key]; !exists {
		return apperrors.NotFound("file", key)
	}

	delete(s.files, key)
	return nil
}
