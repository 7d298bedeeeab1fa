// Package blob stores image and video bytes under slash-separated keys.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/kozaktomas/face-lapse/internal/config"
	"github.com/kozaktomas/face-lapse/internal/constants"
)

// ErrNotFound is returned when a key holds no object.
var ErrNotFound = errors.New("blob not found")

// Store is a flat key/value byte store.
type Store interface {
	// Put writes the object atomically; readers never observe a partial object.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Open returns a reader for the object or ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether the key holds an object.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns all keys below prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// OriginalKey returns the key of an uploaded original by its stored filename.
func OriginalKey(filename string) string {
	return path.Join(constants.OriginalsPrefix, filename)
}

// AlignedKey returns the key of the aligned raster for a record.
func AlignedKey(id int64) string {
	return fmt.Sprintf("%s/%d.jpg", constants.AlignedPrefix, id)
}

// VideoKey returns the key of one rendered timelapse.
func VideoKey(renderID string) string {
	return fmt.Sprintf("%s/render-%s.mp4", constants.VideosPrefix, renderID)
}

// validKey rejects keys that could escape the store root.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "..") {
		return fmt.Errorf("invalid blob key %q", key)
	}
	return nil
}

// New creates the store selected by the configuration.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Blob.Backend {
	case "", "fs":
		root := cfg.Blob.Root
		if root == "" {
			root = cfg.DataDir
		}
		return NewFSStore(root)
	case "minio":
		return NewMinIOStore(ctx, &cfg.Blob.MinIO)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}
}
