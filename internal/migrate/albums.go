package migrate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// AlbumSeparator joins directory basenames into a hierarchical album name.
// It is deliberately not the OS path separator so nested remote names can
// never be confused with local paths.
const AlbumSeparator = " / "

// AlbumName computes the hierarchical album name for a directory path
// relative to the migration root. It is a pure function: the name depends
// only on the path, never on traversal or upload order. The root itself
// ("") maps to no album.
func AlbumName(relDir string) string {
	if relDir == "" || relDir == "." {
		return ""
	}
	return strings.Join(strings.Split(relDir, "/"), AlbumSeparator)
}

// AlbumMapper resolves directories to remote albums. Ensure is idempotent
// and create-once under concurrency: all callers racing on the same
// hierarchical name share a single find-or-create flight, so the gateway's
// create operation runs at most once per name.
type AlbumMapper struct {
	gateway Gateway
	idgen   IDGenerator
	logger  Logger
	dryRun  bool

	flight singleflight.Group

	mu       sync.Mutex
	ids      map[string]string // hierarchical name -> remote album id
	toCreate int
	existing int
}

// NewAlbumMapper creates a mapper. In dry-run mode no album is ever
// created remotely: missing albums get a placeholder id from idgen.
func NewAlbumMapper(gateway Gateway, idgen IDGenerator, logger Logger, dryRun bool) *AlbumMapper {
	return &AlbumMapper{
		gateway: gateway,
		idgen:   idgen,
		logger:  logger,
		dryRun:  dryRun,
		ids:     make(map[string]string),
	}
}

// Ensure maps a relative directory to its album and guarantees the album
// exists remotely (or, in dry-run, is accounted for). The returned node
// has an empty Name for the migration root, in which case albumID is ""
// and the file is uploaded without an album.
//
// A failed create is reported to every caller blocked on the same name;
// the failure is not cached, so a later task may try again.
func (m *AlbumMapper) Ensure(ctx context.Context, relDir string) (albumID string, node AlbumNode, err error) {
	node = AlbumNode{Name: AlbumName(relDir), RelDir: relDir}
	if node.Name == "" {
		return "", node, nil
	}

	v, err, _ := m.flight.Do(node.Name, func() (any, error) {
		return m.findOrCreate(ctx, node.Name)
	})
	if err != nil {
		return "", node, err
	}
	return v.(string), node, nil
}

// findOrCreate runs inside the single-flight gate for one album name.
func (m *AlbumMapper) findOrCreate(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	if id, ok := m.ids[name]; ok {
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	id, err := m.gateway.FindAlbumByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("finding album %q: %w", name, err)
	}

	if id != "" {
		m.logger.Debug("using existing album", "album", name, "id", id)
		m.remember(name, id, false)
		return id, nil
	}

	if m.dryRun {
		id = "dry-run-" + m.idgen.New()
		m.logger.Info("would create album", "album", name)
		m.remember(name, id, true)
		return id, nil
	}

	id, err = m.gateway.CreateAlbum(ctx, name)
	if err != nil {
		return "", fmt.Errorf("creating album %q: %w", name, err)
	}
	m.logger.Info("album created", "album", name, "id", id)
	m.remember(name, id, true)
	return id, nil
}

func (m *AlbumMapper) remember(name, id string, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[name] = id
	if created {
		m.toCreate++
	} else {
		m.existing++
	}
}

// Counts returns how many albums this run created (or would create) and
// how many already existed remotely.
func (m *AlbumMapper) Counts() (toCreate, existing int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.toCreate, m.existing
}
