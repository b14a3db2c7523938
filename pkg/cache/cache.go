// Package cache persists execution results keyed by case hash. Entries
// are written atomically so concurrent readers never observe a partial
// entry, and corrupted or schema-incompatible entries are demoted to
// cache misses rather than surfaced as errors.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/strataregula/doe-runner/pkg/fsutil"
	"github.com/strataregula/doe-runner/pkg/result"
)

// SchemaVersion tags persisted entries for forward compatibility.
// Entries with a different version are treated as misses.
const SchemaVersion = 1

// ErrNotFound is returned by Load when no usable entry exists.
var ErrNotFound = errors.New("cache entry not found")

// Store persists case_hash → result mappings.
type Store interface {
	Exists(hash string) bool
	Load(hash string) (*result.ExecutionResult, error)
	Save(hash string, res *result.ExecutionResult) error
	Clear(hash string) error
	ClearAll() (int, error)

	// Prune removes entries older than the given age. Returns the
	// number of removed entries.
	Prune(olderThan time.Duration) (int, error)

	// Len returns the number of stored entries.
	Len() int
}

// entry is the persisted form of an ExecutionResult.
type entry struct {
	SchemaVersion int                     `json:"schema_version"`
	CachedAt      string                  `json:"cached_at"`
	Result        *result.ExecutionResult `json:"result"`
}

// Compile-time interface check.
var _ Store = (*fsStore)(nil)

type fsStore struct {
	log logrus.FieldLogger
	dir string
}

// NewFSStore creates a filesystem-backed cache store rooted at dir.
func NewFSStore(log logrus.FieldLogger, dir string) (Store, error) {
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	return &fsStore{
		log: log.WithField("component", "cache"),
		dir: dir,
	}, nil
}

func (s *fsStore) path(hash string) string {
	return filepath.Join(s.dir, hash+".json")
}

func (s *fsStore) Exists(hash string) bool {
	_, err := os.Stat(s.path(hash))

	return err == nil
}

// Load reads the entry for hash. A corrupted or schema-incompatible
// entry is logged and reported as ErrNotFound, never as a fatal error.
func (s *fsStore) Load(hash string) (*result.ExecutionResult, error) {
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("reading cache entry: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		s.log.WithError(err).WithField("hash", hash).
			Warn("Corrupted cache entry, treating as miss")

		return nil, ErrNotFound
	}

	if e.SchemaVersion != SchemaVersion || e.Result == nil {
		s.log.WithFields(logrus.Fields{
			"hash":    hash,
			"version": e.SchemaVersion,
		}).Warn("Incompatible cache entry schema, treating as miss")

		return nil, ErrNotFound
	}

	return e.Result, nil
}

// Save persists the result under hash. The write goes through a
// temporary file plus rename so readers never see a partial entry.
func (s *fsStore) Save(hash string, res *result.ExecutionResult) error {
	e := entry{
		SchemaVersion: SchemaVersion,
		CachedAt:      time.Now().UTC().Format(result.TimestampLayout),
		Result:        res,
	}

	data, err := json.MarshalIndent(&e, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	if err := fsutil.WriteFileAtomic(s.path(hash), data, 0o644); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}

	return nil
}

func (s *fsStore) Clear(hash string) error {
	if err := os.Remove(s.path(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cache entry: %w", err)
	}

	return nil
}

func (s *fsStore) ClearAll() (int, error) {
	entries, err := s.list()
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, name := range entries {
		if err := os.Remove(filepath.Join(s.dir, name)); err == nil {
			removed++
		}
	}

	return removed, nil
}

func (s *fsStore) Prune(olderThan time.Duration) (int, error) {
	entries, err := s.list()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0

	for _, name := range entries {
		p := filepath.Join(s.dir, name)

		info, err := os.Stat(p)
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(p); err == nil {
				removed++
			}
		}
	}

	return removed, nil
}

func (s *fsStore) Len() int {
	entries, err := s.list()
	if err != nil {
		return 0
	}

	return len(entries)
}

// list returns the file names of all published entries, skipping
// in-flight temporary files.
func (s *fsStore) list() ([]string, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading cache directory: %w", err)
	}

	names := make([]string, 0, len(dirents))

	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			continue
		}

		names = append(names, d.Name())
	}

	return names, nil
}
