package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Storage persists binary assets under hierarchical keys and returns
// retrievable relative URLs. Keys use forward slashes regardless of platform.
type Storage interface {
	Save(ctx context.Context, key string, content io.Reader) (string, error)
	RemoveAll(ctx context.Context, prefix string) error
}

var errEscapesRoot = errors.New("assets: key escapes storage root")

// FileSystemStorageConfig describes a disk-backed storage rooted at a media
// directory, serving saved files under a URL base path.
type FileSystemStorageConfig struct {
	Root       string
	BaseURL    string
	IDProvider IDProvider
}

// FileSystemStorage writes assets below a root directory on local disk.
type FileSystemStorage struct {
	root    string
	baseURL string
	ids     IDProvider
}

func NewFileSystemStorage(cfg FileSystemStorageConfig) (*FileSystemStorage, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, errors.New("assets: storage root is required")
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "/media"
	}
	return &FileSystemStorage{
		root:    cfg.Root,
		baseURL: baseURL,
		ids:     ids,
	}, nil
}

// Save writes the content under the key, disambiguating with a generated id
// when a file already occupies the key. Returns the relative URL of the saved
// file.
func (s *FileSystemStorage) Save(ctx context.Context, key string, content io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	fullPath := filepath.Join(s.root, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("assets: create directory: %w", err)
	}

	if _, err := os.Stat(fullPath); err == nil {
		cleaned, err = s.disambiguate(cleaned)
		if err != nil {
			return "", err
		}
		fullPath = filepath.Join(s.root, filepath.FromSlash(cleaned))
	}

	file, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("assets: create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, content); err != nil {
		return "", fmt.Errorf("assets: write file: %w", err)
	}

	return s.baseURL + "/" + cleaned, nil
}

// RemoveAll deletes every asset stored under the prefix.
func (s *FileSystemStorage) RemoveAll(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleaned, err := cleanKey(prefix)
	if err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.root, filepath.FromSlash(cleaned)))
}

func (s *FileSystemStorage) disambiguate(key string) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("assets: id generation: %w", err)
	}
	extension := path.Ext(key)
	return strings.TrimSuffix(key, extension) + "_" + id + extension, nil
}

// cleanKey normalizes a storage key. Rooting the key before path.Clean
// resolves any ".." segments against the root, so traversal cannot escape it.
func cleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + key)
	if cleaned == "/" {
		return "", errEscapesRoot
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}
