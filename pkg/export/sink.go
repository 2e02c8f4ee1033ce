package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Sink writes an evidence bundle under a key and returns the location
// it can be retrieved from (a path or an object URI).
type Sink interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// FileSink writes bundles to a local directory.
type FileSink struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileSink creates the directory if needed and returns a sink over it.
func NewFileSink(baseDir string) (*FileSink, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure export dir: %w", err)
	}
	return &FileSink{baseDir: baseDir}, nil
}

func (s *FileSink) Put(ctx context.Context, key string, data []byte) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, filepath.FromSlash(clean))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if dir := filepath.Dir(path); dir != s.baseDir {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("ensure key dir: %w", err)
		}
	}

	// Write to temp, then rename.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write bundle: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("commit bundle: %w", err)
	}
	return path, nil
}

// cleanKey normalizes a sink key and rejects anything that would
// escape the base directory.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty sink key")
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if clean == "." || strings.HasPrefix(clean, "/") || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid sink key: %s", key)
	}
	return clean, nil
}
