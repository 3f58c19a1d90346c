package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/allipceo/JeJuV2.0/internal/models"
)

const recordExt = ".json"

// FileStore keeps one JSON record per fingerprint under dir.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore creates dir if needed. A nil now uses time.Now.
func NewFileStore(dir string, now func() time.Time) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("cache directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &FileStore{dir: dir, now: clockOrDefault(now)}, nil
}

// Dir returns the directory holding the records.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Get(_ context.Context, fingerprint string) (models.CacheEntry, bool) {
	entry, err := s.read(fingerprint)
	if err != nil {
		return models.CacheEntry{}, false
	}
	if !entry.Valid(s.now()) {
		return models.CacheEntry{}, false
	}
	return entry, true
}

// Exists reports whether a record is on disk, fresh or not.
func (s *FileStore) Exists(fingerprint string) bool {
	_, err := os.Stat(s.path(fingerprint))
	return err == nil
}

func (s *FileStore) Put(_ context.Context, fingerprint string, payload json.RawMessage, ttl time.Duration) error {
	entry := models.CacheEntry{
		Fingerprint: fingerprint,
		Payload:     payload,
		StoredAt:    s.now(),
		TTL:         ttl,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}

	// Write to a temporary file first, then rename over the record.
	tmp, err := os.CreateTemp(s.dir, fingerprint+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp record: %w", err)
	}

	if err := os.Rename(tmpPath, s.path(fingerprint)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, fingerprint string) error {
	err := os.Remove(s.path(fingerprint))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Sweep deletes expired and unreadable records.
func (s *FileStore) Sweep(ctx context.Context) (int, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("list cache directory: %w", err)
	}

	now := s.now()
	removed := 0
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}

		fingerprint := strings.TrimSuffix(name, recordExt)
		entry, err := s.read(fingerprint)
		if err == nil && entry.Valid(now) {
			continue
		}
		if err := s.Delete(ctx, fingerprint); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *FileStore) read(fingerprint string) (models.CacheEntry, error) {
	data, err := os.ReadFile(s.path(fingerprint))
	if err != nil {
		return models.CacheEntry{}, err
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return models.CacheEntry{}, fmt.Errorf("decode cache record %s: %w", fingerprint, err)
	}
	return entry, nil
}

func (s *FileStore) path(fingerprint string) string {
	return filepath.Join(s.dir, filepath.Base(fingerprint)+recordExt)
}
