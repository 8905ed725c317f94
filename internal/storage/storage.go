package storage

import (
	"context"
	"path"
	"strings"

	"defect-tracker/internal/config"

	"github.com/pkg/errors"
)

// BackupPrefix is where files are archived before they are removed.
const BackupPrefix = "backups"

var ErrInvalidKey = errors.New("invalid storage key")

// Storage keeps uploaded files under slash-separated keys such as
// "floor_plans/3/<uuid>.png". Keys are what the database stores.
type Storage interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) bool
	// Archive copies the file under BackupPrefix.
	Archive(ctx context.Context, key string) error
	URL(key string) string
}

func New(ctx context.Context, cfg *config.Config) (Storage, error) {
	switch cfg.Storage.Driver {
	case "", "local":
		return NewLocalStorage(cfg.UploadDir)
	case "s3":
		return NewS3Storage(ctx, cfg.Storage)
	}
	return nil, errors.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
}

// cleanKey rejects absolute keys and keys escaping the storage root.
func cleanKey(key string) (string, error) {
	key = strings.ReplaceAll(strings.TrimSpace(key), "\\", "/")
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

func backupKey(key string) string {
	return path.Join(BackupPrefix, key)
}
