package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"immich-migrate/internal/migrate"
)

// DefaultFilename is where the checkpoint lives under the migration root
// unless an explicit path overrides it.
const DefaultFilename = ".immich-migrate-checkpoint.json"

// SchemaVersion is the current on-disk format version.
const SchemaVersion = 1

// ErrCorrupt marks a checkpoint file that exists but cannot be trusted:
// unparseable content or an unsupported schema version. This is fatal at
// startup; the engine never discards a checkpoint on its own. The user
// must delete or move the file explicitly to start over.
var ErrCorrupt = errors.New("corrupt checkpoint")

// ErrMismatch marks a checkpoint that was written for a different
// migration root or server. Resuming with it would silently skip files
// that were uploaded somewhere else.
var ErrMismatch = errors.New("checkpoint mismatch")

// fileFormat is the JSON shape persisted to disk.
type fileFormat struct {
	SchemaVersion int                        `json:"schema_version"`
	RootPath      string                     `json:"root_path"`
	ServerURL     string                     `json:"server_url"`
	Records       []migrate.CheckpointRecord `json:"records"`
}

// Store is the durable record of completed uploads. The in-memory set is
// the only state shared across scheduler workers; every mutation funnels
// through Record under the store's lock, and Flush replaces the file
// atomically so a crash mid-write never corrupts the previous snapshot.
type Store struct {
	path      string
	rootPath  string
	serverURL string

	mu      sync.RWMutex
	records map[string]migrate.CheckpointRecord
}

var _ migrate.CheckpointStore = (*Store)(nil)

// Load reads the checkpoint at path, or returns an empty store when no
// file exists yet. rootPath and serverURL identify the current run; a
// file recorded for a different root or server fails with ErrMismatch.
func Load(path, rootPath, serverURL string) (*Store, error) {
	s := &Store{
		path:      path,
		rootPath:  rootPath,
		serverURL: serverURL,
		records:   make(map[string]migrate.CheckpointRecord),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading checkpoint %s: %w", path, err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrCorrupt, path, err)
	}
	if f.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: %s has schema version %d, this build supports %d", ErrCorrupt, path, f.SchemaVersion, SchemaVersion)
	}
	if f.RootPath != rootPath {
		return nil, fmt.Errorf("%w: %s was written for root %q, not %q; delete or move it to start over", ErrMismatch, path, f.RootPath, rootPath)
	}
	if f.ServerURL != serverURL {
		return nil, fmt.Errorf("%w: %s was written for server %q, not %q; delete or move it to start over", ErrMismatch, path, f.ServerURL, serverURL)
	}

	for _, rec := range f.Records {
		s.records[rec.Fingerprint] = rec
	}
	return s, nil
}

// DefaultPath returns the checkpoint location under a migration root.
func DefaultPath(rootPath string) string {
	return filepath.Join(rootPath, DefaultFilename)
}

// Contains reports whether a fingerprint has already been uploaded.
func (s *Store) Contains(fingerprint string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[fingerprint]
	return ok
}

// Record adds a completed upload. Records are append-only: an existing
// fingerprint is never overwritten.
func (s *Store) Record(rec migrate.CheckpointRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Fingerprint]; ok {
		return
	}
	s.records[rec.Fingerprint] = rec
}

// Len returns the number of checkpointed uploads.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Flush persists the full set. It writes to a temporary file in the same
// directory and renames it over the target, so the file on disk is always
// either the previous or the new fully-written snapshot.
func (s *Store) Flush() error {
	s.mu.RLock()
	f := fileFormat{
		SchemaVersion: SchemaVersion,
		RootPath:      s.rootPath,
		ServerURL:     s.serverURL,
		Records:       make([]migrate.CheckpointRecord, 0, len(s.records)),
	}
	for _, rec := range s.records {
		f.Records = append(f.Records, rec)
	}
	s.mu.RUnlock()

	// Deterministic output keeps diffs between snapshots readable.
	sort.Slice(f.Records, func(i, j int) bool {
		return f.Records[i].Fingerprint < f.Records[j].Fingerprint
	})

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary checkpoint: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temporary checkpoint: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}
