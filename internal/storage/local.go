package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	cmstorage "github.com/chartmuseum/storage"
)

// LocalClient implements ObjectStorage on a directory, for single-host
// installs without an object store.
type LocalClient struct {
	root    string
	backend cmstorage.Backend
}

var _ ObjectStorage = (*LocalClient)(nil)

func NewLocalClient(root string) (*LocalClient, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage directory must be provided")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed creating %s: %w", root, err)
	}
	return &LocalClient{root: root, backend: cmstorage.NewLocalFilesystemBackend(root)}, nil
}

// ListObjects returns the files directly under prefix, keyed relative to the
// storage root. The backend does not report sizes, so they are read from disk.
func (c *LocalClient) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	objects, err := c.backend.ListObjects(prefix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []ObjectInfo{}, nil
		}
		return nil, fmt.Errorf("local list failed: %w", err)
	}

	results := make([]ObjectInfo, 0, len(objects))
	for _, object := range objects {
		key := path.Join(prefix, object.Path)
		info := ObjectInfo{Key: key, LastModified: object.LastModified}
		if st, err := os.Stat(c.fullPath(key)); err == nil {
			info.Size = st.Size()
		}
		results = append(results, info)
	}
	return results, nil
}

func (c *LocalClient) GetObject(ctx context.Context, key string) ([]byte, error) {
	if _, err := os.Stat(c.fullPath(key)); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	object, err := c.backend.GetObject(key)
	if err != nil {
		return nil, fmt.Errorf("local get of %s failed: %w", key, err)
	}
	return object.Content, nil
}

func (c *LocalClient) UploadObject(ctx context.Context, key string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(c.fullPath(key)), 0o755); err != nil {
		return fmt.Errorf("failed creating directory for %s: %w", key, err)
	}
	if err := c.backend.PutObject(key, data); err != nil {
		return fmt.Errorf("local upload of %s failed: %w", key, err)
	}
	return nil
}

func (c *LocalClient) fullPath(key string) string {
	return filepath.Join(c.root, filepath.FromSlash(key))
}
