package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"pdf-region-tagger/internal/domain"
)

// LocalExporter writes selections into a folder per document session under
// a base directory.
type LocalExporter struct {
	baseDir string
	logger  domain.Logger
}

func NewLocalExporter(baseDir string, logger domain.Logger) *LocalExporter {
	return &LocalExporter{baseDir: baseDir, logger: logger}
}

// OpenHandle creates the session folder and returns a handle confined to it.
func (e *LocalExporter) OpenHandle(sessionID string) (domain.ExportHandle, error) {
	dir := filepath.Join(e.baseDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export folder: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open export folder: %w", err)
	}
	e.logger.Info("Export folder opened", "session_id", sessionID, "dir", dir)
	return &exportHandle{root: root, dir: dir, logger: e.logger}, nil
}

type exportHandle struct {
	mu     sync.Mutex
	root   *os.Root
	dir    string
	closed bool
	logger domain.Logger
}

func (h *exportHandle) Location() string { return h.dir }

// WriteItem stores <key>.png and a <key>.json sidecar with the metadata.
func (h *exportHandle) WriteItem(ctx context.Context, item *domain.UploadItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodePNG(item)
	if err != nil {
		return err
	}
	sidecar, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %s: %w", item.Key, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return os.ErrClosed
	}
	if err := h.writeFile(item.Key+".png", data); err != nil {
		return err
	}
	if err := h.writeFile(item.Key+".json", sidecar); err != nil {
		return err
	}
	h.logger.Debug("Selection exported", "key", item.Key, "dir", h.dir)
	return nil
}

func (h *exportHandle) writeFile(name string, data []byte) error {
	f, err := h.root.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return f.Close()
}

func (h *exportHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.root.Close()
}
