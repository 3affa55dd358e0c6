package storage

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrNotFound 表示 locator 指向的内容不存在。
var ErrNotFound = errors.New("blob not found")

// BlobStore 是附件内容的外部存储接口：写入返回 locator，读取按 locator 取回。
type BlobStore interface {
	Store(name string, data []byte) (string, error)
	Retrieve(locator string) ([]byte, error)
}

// FileStore 把 blob 存到本地目录，locator 是目录内的文件名。
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Store 落盘并返回 locator。文件名加 uuid 前缀避免冲突。
func (s *FileStore) Store(name string, data []byte) (string, error) {
	locator := uuid.NewString() + "_" + filepath.Base(name)
	if err := os.WriteFile(filepath.Join(s.dir, locator), data, 0o600); err != nil {
		return "", err
	}
	return locator, nil
}

func (s *FileStore) Retrieve(locator string) ([]byte, error) {
	// locator 只允许是单个文件名，防止路径穿越。
	if locator == "" || locator != filepath.Base(locator) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.dir, locator))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}
