package seen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"
)

// FileBackend stores the mapping as one pretty-printed JSON object:
//
//	{"//example.com/a": {"title": "...", "seen_at": "2025-01-01T00:00:00Z"}}
type FileBackend struct {
	path string
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend returns a backend for the JSON file at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Location returns the file path.
func (f *FileBackend) Location() string {
	return f.path
}

// Read loads and validates the file.
func (f *FileBackend) Read(_ context.Context) (map[string]Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return decodeRecords(data)
}

// Write replaces the file atomically: the JSON goes to a temp file in the
// same directory which is then renamed over the target.
func (f *FileBackend) Write(_ context.Context, records map[string]Record) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create seen store directory: %w", err)
	}

	data, err := encodeRecords(records)
	if err != nil {
		return fmt.Errorf("failed to marshal seen store: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once the rename succeeded
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write seen store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync seen store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close seen store: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to chmod seen store: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace seen store: %w", err)
	}
	return nil
}

func encodeRecords(records map[string]Record) ([]byte, error) {
	if records == nil {
		records = map[string]Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeRecords accepts only an object whose values are objects. Fields with
// the wrong type are read as empty strings, which Prune later treats as expired.
func decodeRecords(data []byte) (map[string]Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrCorrupt)
	}
	// encoding/json would silently replace bad bytes with U+FFFD.
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: invalid UTF-8", ErrCorrupt)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	top, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top level is %T, want object", ErrUnexpected, raw)
	}

	records := make(map[string]Record, len(top))
	for key, value := range top {
		entry, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: entry %q is %T, want object", ErrUnexpected, key, value)
		}
		title, _ := entry["title"].(string)
		seenAt, _ := entry["seen_at"].(string)
		records[key] = Record{Title: title, SeenAt: seenAt}
	}
	return records, nil
}
