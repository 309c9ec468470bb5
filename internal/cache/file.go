package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"queryagent/internal/apperrors"
)

const snapshotVersion = 1

// snapshotDoc is the persisted layout shared by the file and redis backends.
type snapshotDoc struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Entries []Entry   `json:"entries"`
}

func encodeSnapshot(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return json.MarshalIndent(snapshotDoc{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Entries: entries,
	}, "", "  ")
}

func decodeSnapshot(data []byte) ([]Entry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", apperrors.ErrCorruptStore)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrCorruptStore, err)
	}
	if doc.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", apperrors.ErrCorruptStore, doc.Version)
	}
	return doc.Entries, nil
}

// FilePersister keeps the store in a single JSON file. Writes go to a
// temporary file in the same directory which is fsynced and renamed over
// the target, so readers see either the old or the new document.
type FilePersister struct {
	path string
}

// NewFilePersister returns a persister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

func (p *FilePersister) Backend() string { return "file" }

// Path returns the target file.
func (p *FilePersister) Path() string { return p.path }

func (p *FilePersister) Load(_ context.Context) ([]Entry, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	return decodeSnapshot(data)
}

func (p *FilePersister) Save(ctx context.Context, entries []Entry) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	data, err := encodeSnapshot(entries)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp cache file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err = os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

// Quarantine moves an unreadable cache file aside so the next Save does not
// overwrite it. Returns the new location.
func (p *FilePersister) Quarantine(_ context.Context) (string, error) {
	dst := p.path + ".corrupt-" + strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.Rename(p.path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// Size returns the current file size in bytes, or 0 if it does not exist.
func (p *FilePersister) Size() int64 {
	fi, err := os.Stat(p.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
