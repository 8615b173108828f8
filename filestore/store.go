// Package filestore 实现基于目录的文件操作：列出、读取、写入、删除以及行/词/字符统计。
package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName 表示文件名包含路径分隔符或其他非法内容
var ErrInvalidName = errors.New("invalid file name")

// Store 把一个目录作为文件存储。
//
// 写入直接覆盖目标文件，并发的读取可能看到写了一半的内容。
type Store struct {
	dir string
}

// New 创建 Store，目录不存在时自动创建
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir %s: %w", dir, err)
	}
	return &Store{dir: abs}, nil
}

// Dir 返回存储目录的绝对路径
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\,`) || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name), nil
}

// List 返回目录中所有普通文件的名称，按名称排序
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// ReadAll 读取整个文件，文件不存在时返回的错误满足 errors.Is(err, fs.ErrNotExist)
func (s *Store) ReadAll(name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return b, nil
}

// WriteAll 创建或覆盖文件
func (s *Store) WriteAll(name string, data []byte) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Delete 删除文件，文件不存在时返回 false, nil
func (s *Store) Delete(name string) (bool, error) {
	p, err := s.path(name)
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s: %w", name, err)
	}
	return true, nil
}

// CountLines 统计文件行数
func (s *Store) CountLines(name string) (int, error) {
	return s.count(name, Lines)
}

// CountWords 统计文件词数
func (s *Store) CountWords(name string) (int, error) {
	return s.count(name, Words)
}

// CountCharacters 统计文件字符数
func (s *Store) CountCharacters(name string) (int, error) {
	return s.count(name, Characters)
}

func (s *Store) count(name string, fn func([]byte) int) (int, error) {
	b, err := s.ReadAll(name)
	if err != nil {
		return 0, err
	}
	return fn(b), nil
}
