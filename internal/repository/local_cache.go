package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"pdf-region-tagger/internal/domain"
)

const cacheFileName = "cache.json"

// FileCache is a small JSON key-value store kept in one file. Every write
// replaces the file through a rename so a crash never leaves it half written.
type FileCache struct {
	mu     sync.Mutex
	path   string
	data   map[string]json.RawMessage
	logger domain.Logger
}

// NewFileCache loads dir/cache.json, starting empty when it is missing or
// unreadable.
func NewFileCache(dir string, logger domain.Logger) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache folder: %w", err)
	}
	c := &FileCache{
		path:   filepath.Join(dir, cacheFileName),
		data:   map[string]json.RawMessage{},
		logger: logger,
	}

	raw, err := os.ReadFile(c.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read cache: %w", err)
	default:
		if err := json.Unmarshal(raw, &c.data); err != nil {
			logger.Warn("Discarding corrupt cache file", "path", c.path, "error", err)
			c.data = map[string]json.RawMessage{}
		}
	}
	return c, nil
}

func (c *FileCache) Get(key string, v interface{}) (bool, error) {
	c.mu.Lock()
	raw, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("cache entry %s: %w", key, err)
	}
	return true, nil
}

func (c *FileCache) Set(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache entry %s: %w", key, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	return c.flushLocked()
}

func (c *FileCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[key]; !ok {
		return nil
	}
	delete(c.data, key)
	return c.flushLocked()
}

func (c *FileCache) flushLocked() error {
	raw, err := json.Marshal(c.data)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), cacheFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return os.Rename(tmp.Name(), c.path)
}
