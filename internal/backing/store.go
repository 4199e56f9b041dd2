package backing

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound 表示请求的后端文件不存在。
var ErrNotFound = errors.New("backing file not found")

// ErrInvalidPath 表示路径越出了存储根目录或为空。
var ErrInvalidPath = errors.New("invalid backing path")

// Store 以 basePath 为根目录打开后端文件，整站复用一份实例。
type Store struct {
	basePath string
}

// NewStore 创建存储根目录（若不存在）并返回 Store。
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &Store{basePath: abs}, nil
}

// Root 返回存储根目录的绝对路径。
func (s *Store) Root() string { return s.basePath }

// Open 打开 name 对应的文件；create 为 true 时按需创建父目录与文件。
func (s *Store) Open(name string, flags Flags, create bool) (*File, error) {
	filePath, err := s.Path(name)
	if err != nil {
		return nil, err
	}

	if create {
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return nil, err
		}
	} else {
		info, err := os.Stat(filePath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		if info.IsDir() {
			return nil, ErrNotFound
		}
	}

	return OpenFile(filePath, flags, create)
}

// Path 将 URL 风格的相对路径映射到根目录下的绝对路径，拒绝越界访问。
func (s *Store) Path(name string) (string, error) {
	rel := path.Clean("/" + name)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == "." {
		return "", ErrInvalidPath
	}

	filePath := filepath.Join(s.basePath, filepath.FromSlash(rel))
	if filePath != s.basePath && !strings.HasPrefix(filePath, s.basePath+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return filePath, nil
}
