package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/otiai10/copy"
	"github.com/pkg/errors"
)

type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, errors.Wrap(err, "create uploads directory")
	}
	return &LocalStorage{basePath: basePath}, nil
}

func (s *LocalStorage) BasePath() string {
	return s.basePath
}

func (s *LocalStorage) fullPath(key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(key)), nil
}

func (s *LocalStorage) Save(_ context.Context, key string, data []byte, _ string) error {
	full, err := s.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return errors.Wrap(err, "create upload directory")
	}
	return errors.Wrap(os.WriteFile(full, data, 0644), "write upload")
}

func (s *LocalStorage) Delete(_ context.Context, key string) error {
	full, err := s.fullPath(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(full); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(full)
}

func (s *LocalStorage) Exists(_ context.Context, key string) bool {
	full, err := s.fullPath(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

func (s *LocalStorage) Archive(_ context.Context, key string) error {
	src, err := s.fullPath(key)
	if err != nil {
		return err
	}
	dst, err := s.fullPath(backupKey(key))
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	return errors.Wrapf(copy.Copy(src, dst), "archive %s", key)
}

func (s *LocalStorage) URL(key string) string {
	if key == "" {
		return ""
	}
	return "/uploads/" + filepath.ToSlash(key)
}
