package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/Erenimo3442/GroupChatting/internal/storage"
	apperrors "github.com/Erenimo3442/GroupChatting/pkg/errors"
)

// Storage implements storage.Storage on the local filesystem. Files are
// written under a base directory; keys never escape it.
type Storage struct {
	baseDir string
	baseURL string
}

// New creates a local filesystem storage rooted at baseDir, creating the
// directory if needed. Returned URLs are baseURL joined with the key.
func New(baseDir, baseURL string) (*Storage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{baseDir: baseDir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Upload writes the file to disk under its key.
func (s *Storage) Upload(_ context.Context, input *storage.UploadInput) (*storage.UploadResult, error) {
	path, err := s.resolve(input.Key)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, input.Data); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write file: %w", err)
	}

	return &storage.UploadResult{
		Key: input.Key,
		URL: s.baseURL + "/" + input.Key,
	}, nil
}

// Open returns a reader over the stored file.
func (s *Storage) Open(_ context.Context, key string) (*storage.File, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NotFound("file", key)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &storage.File{
		Content:     f,
		ContentType: contentType,
		Size:        info.Size(),
	}, nil
}

// Delete removes a file by its key.
func (s *Storage) Delete(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperrors.NotFound("file", key)
		}
		return fmt.Errorf("remove file: %w", err)
	}

	return nil
}

// resolve maps a key to a path under the base directory, rejecting keys
// that would traverse outside it.
func (s *Storage) resolve(key string) (string, error) {
	cleaned := filepath.Clean("/" + key)
	if cleaned == "/" {
		return "", apperrors.InvalidInput("empty file key")
	}
	return filepath.Join(s.baseDir, cleaned), nil
}
