// Package storage keeps uploaded import sources so that jobs can reopen them
// from their checkpoint after a pause, a failure or a process restart.
package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"

	importapp "github.com/marketplace/backend/internal/application/import"
	infraconfig "github.com/marketplace/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// ErrObjectNotFound is returned by Open when no content is stored under the key
var ErrObjectNotFound = errors.New("stored object not found")

// Ensure both backends implement the import FileStore port
var (
	_ importapp.FileStore = (*LocalStore)(nil)
	_ importapp.FileStore = (*S3Store)(nil)
)

// New builds the FileStore selected by storage.backend
func New(cfg *infraconfig.StorageConfig, logger *zap.Logger) (importapp.FileStore, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.LocalDir)
	case "s3":
		return NewS3Store(cfg, WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// validateKey rejects keys that could escape the store's namespace
func validateKey(key string) error {
	if key == "" {
		return errors.New("storage key is required")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid storage key: %s", key)
	}
	clean := path.Clean(key)
	if clean != key || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("invalid storage key: %s", key)
	}
	return nil
}
