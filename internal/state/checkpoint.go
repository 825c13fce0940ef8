// Package state persists the last processed inbound message id.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// FileCheckpoint stores a single integer in a text file. Writes go through a
// temp file and rename so a crash never leaves a truncated value behind.
// Saved values never decrease.
type FileCheckpoint struct {
	path    string
	mu      sync.Mutex
	current int64
	loaded  bool
}

func NewFileCheckpoint(path string) *FileCheckpoint {
	return &FileCheckpoint{path: path}
}

// Load returns the stored id, or 0 when no checkpoint exists yet.
func (c *FileCheckpoint) Load() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		c.loaded = true
		c.current = 0
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint %s: %w", c.path, err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		c.loaded = true
		return 0, nil
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse checkpoint %s: %w", c.path, err)
	}
	c.current = id
	c.loaded = true
	return id, nil
}

// Save persists id unless it is lower than the value already stored.
func (c *FileCheckpoint) Save(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded && id < c.current {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	if _, err := tmp.WriteString(strconv.FormatInt(id, 10)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace checkpoint: %w", err)
	}

	c.current = id
	c.loaded = true
	return nil
}

// MemoryCheckpoint keeps the id in memory only. It suits transports whose ids
// restart with every process.
type MemoryCheckpoint struct {
	mu sync.Mutex
	id int64
}

func (c *MemoryCheckpoint) Load() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id, nil
}

func (c *MemoryCheckpoint) Save(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id > c.id {
		c.id = id
	}
	return nil
}
