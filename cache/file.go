package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FileStore keeps the whole cache as one JSON object on disk. The file is
// loaded once and rewritten after every new entry.
type FileStore struct {
	path string

	mu      sync.Mutex
	data    []byte
	entries map[string]string
}

// NewFileStore loads path. A missing file is a cold start.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		data:    []byte("{}"),
		entries: make(map[string]string),
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return s, nil
	}
	if !gjson.ValidBytes(content) {
		return nil, fmt.Errorf("cache file %s is not valid JSON", path)
	}

	gjson.ParseBytes(content).ForEach(func(key, value gjson.Result) bool {
		s.entries[key.String()] = value.String()
		return true
	})
	s.data = content

	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok, nil
}

func (s *FileStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok && old == value {
		return nil
	}

	updated, err := sjson.SetBytes(s.data, escapePath(key), value)
	if err != nil {
		return fmt.Errorf("updating cache %s: %w", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	if err := writeAtomic(s.path, updated); err != nil {
		return fmt.Errorf("writing cache %s: %w", s.path, err)
	}

	s.data = updated
	s.entries[key] = value
	return nil
}

// Len is the number of cached entries.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *FileStore) Close() error {
	return nil
}

// writeAtomic replaces path with data through a temp file in the same
// directory, so readers see either the old or the new content.
func writeAtomic(path string, data []byte) error {
	file, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tempFile := file.Name()

	_, err = file.Write(data)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tempFile, 0644)
	}
	if err != nil {
		os.Remove(tempFile)
		return err
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return err
	}
	return nil
}

// escapePath turns a raw key into a single sjson path component.
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ Store = (*FileStore)(nil)
