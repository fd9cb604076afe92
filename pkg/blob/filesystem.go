package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/brunocascio/amargo/pkg/registry"
)

// FileSystemStore implements Store on the local filesystem. Puts are
// write-to-temp plus rename, which gives the atomic-put contract on POSIX
// filesystems. Content types are stored in a sidecar file next to the blob.
type FileSystemStore struct {
	rootDir string
}

// NewFileSystemStore creates a filesystem-backed blob store rooted at rootDir.
func NewFileSystemStore(rootDir string) (*FileSystemStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemStore{rootDir: rootDir}, nil
}

func (s *FileSystemStore) blobPath(key string) string {
	return filepath.Join(s.rootDir, filepath.FromSlash(key))
}

func (s *FileSystemStore) typePath(key string) string {
	return s.blobPath(key) + ".content-type"
}

// Put implements Store.Put.
func (s *FileSystemStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	path := s.blobPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit blob: %w", err)
	}

	if contentType != "" {
		if err := os.WriteFile(s.typePath(key), []byte(contentType), 0644); err != nil {
			return fmt.Errorf("failed to write content type: %w", err)
		}
	}
	return nil
}

// Get implements Store.Get.
func (s *FileSystemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.blobPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", key, registry.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Head implements Store.Head.
func (s *FileSystemStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	fi, err := os.Stat(s.blobPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", key, registry.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat blob: %w", err)
	}

	contentType := ""
	if data, err := os.ReadFile(s.typePath(key)); err == nil {
		contentType = string(data)
	} else if ext := filepath.Ext(key); ext != "" {
		contentType = mime.TypeByExtension(ext)
	}

	// ETag derived from path + mtime, cheap and stable between writes.
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", key, fi.Size(), fi.ModTime().UnixNano())))

	return &ObjectInfo{
		Key:          key,
		Size:         fi.Size(),
		ContentType:  contentType,
		ETag:         hex.EncodeToString(sum[:8]),
		LastModified: fi.ModTime(),
	}, nil
}

// Delete implements Store.Delete. Idempotent.
func (s *FileSystemStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.blobPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	os.Remove(s.typePath(key))
	return nil
}

// Exists implements Store.Exists.
func (s *FileSystemStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.blobPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob: %w", err)
}

// List implements Store.List.
func (s *FileSystemStore) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".content-type") {
			return nil
		}
		rel, err := filepath.Rel(s.rootDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

// HealthCheck verifies the root directory is still accessible.
func (s *FileSystemStore) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(s.rootDir); err != nil {
		return fmt.Errorf("filesystem health check failed: %w", err)
	}
	return nil
}
