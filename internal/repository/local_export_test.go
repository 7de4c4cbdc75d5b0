package repository

import (
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalExporter_WritesImageAndSidecar(t *testing.T) {
	base := t.TempDir()
	exporter := NewLocalExporter(base, quietLogger())

	handle, err := exporter.OpenHandle("session-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if handle.Location() != filepath.Join(base, "session-1") {
		t.Fatalf("unexpected location %s", handle.Location())
	}

	item := testItem("page002_sel-a")
	item.Label = "1.2"
	if err := handle.WriteItem(context.Background(), item); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	f, err := os.Open(filepath.Join(base, "session-1", "page002_sel-a.png"))
	if err != nil {
		t.Fatalf("expected png written: %v", err)
	}
	img, err := png.Decode(f)
	f.Close()
	if err != nil || img.Bounds().Dx() != 4 {
		t.Fatalf("expected 4px wide png, got %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(base, "session-1", "page002_sel-a.json"))
	if err != nil {
		t.Fatalf("expected sidecar written: %v", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("bad sidecar: %v", err)
	}
	if meta["label"] != "1.2" || meta["page_no"] != float64(2) {
		t.Fatalf("unexpected sidecar %v", meta)
	}

	if err := handle.Close(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := handle.WriteItem(context.Background(), item); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected os.ErrClosed after close, got %v", err)
	}
}

func TestLocalExporter_KeyCannotEscapeFolder(t *testing.T) {
	base := t.TempDir()
	handle, err := NewLocalExporter(base, quietLogger()).OpenHandle("s")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer handle.Close()

	if err := handle.WriteItem(context.Background(), testItem("../escape")); err == nil {
		t.Fatalf("expected write outside the folder to fail")
	}
	if _, err := os.Stat(filepath.Join(base, "escape.png")); !os.IsNotExist(err) {
		t.Fatalf("expected nothing written outside the session folder")
	}
}
