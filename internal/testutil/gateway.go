package testutil

import (
	"context"
	"fmt"
	"sync"

	"immich-migrate/internal/migrate"
)

// MemoryGateway is an in-memory implementation of migrate.Gateway for
// testing. It tracks every call so tests can assert on create-once and
// upload counts, and supports per-file error injection. Safe for
// concurrent use.
type MemoryGateway struct {
	mu          sync.Mutex
	albums      map[string]string   // album name -> id
	albumAssets map[string][]string // album id -> asset ids
	assets      map[string]string   // fingerprint -> asset id
	createCalls map[string]int      // album name -> CreateAlbum invocations
	uploadCalls map[string]int      // filename -> UploadAsset invocations
	nextID      int

	// UploadErrs maps a filename to an error every UploadAsset call for
	// that file returns.
	UploadErrs map[string]error
	// CreateErr, when set, fails every CreateAlbum call.
	CreateErr error
}

var _ migrate.Gateway = (*MemoryGateway)(nil)

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		albums:      make(map[string]string),
		albumAssets: make(map[string][]string),
		assets:      make(map[string]string),
		createCalls: make(map[string]int),
		uploadCalls: make(map[string]int),
		UploadErrs:  make(map[string]error),
	}
}

func (g *MemoryGateway) Ping(context.Context) error { return nil }

func (g *MemoryGateway) FindAlbumByName(_ context.Context, name string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.albums[name], nil
}

func (g *MemoryGateway) CreateAlbum(_ context.Context, name string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.createCalls[name]++
	if g.CreateErr != nil {
		return "", g.CreateErr
	}
	if id, ok := g.albums[name]; ok {
		return id, nil
	}
	id := g.newID("album")
	g.albums[name] = id
	return id, nil
}

func (g *MemoryGateway) UploadAsset(_ context.Context, entry migrate.FileEntry) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.uploadCalls[entry.Name]++
	if err := g.UploadErrs[entry.Name]; err != nil {
		return "", err
	}

	fingerprint := entry.Fingerprint()
	if id, ok := g.assets[fingerprint]; ok {
		// The server deduplicates; re-uploading returns the existing id.
		return id, nil
	}
	id := g.newID("asset")
	g.assets[fingerprint] = id
	return id, nil
}

func (g *MemoryGateway) AddAssetToAlbum(_ context.Context, assetID, albumID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.albumAssets[albumID]; !ok && !g.albumExists(albumID) {
		return fmt.Errorf("album not found: %s", albumID)
	}
	g.albumAssets[albumID] = append(g.albumAssets[albumID], assetID)
	return nil
}

// AddAlbum pre-populates a remote album, as if created by an earlier run.
func (g *MemoryGateway) AddAlbum(name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.newID("album")
	g.albums[name] = id
	return id
}

// AlbumID returns the id for an album name, or "".
func (g *MemoryGateway) AlbumID(name string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.albums[name]
}

// AssetsInAlbum returns the asset ids attached to an album name.
func (g *MemoryGateway) AssetsInAlbum(name string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string{}, g.albumAssets[g.albums[name]]...)
}

// UploadCount returns how many times a filename was uploaded.
func (g *MemoryGateway) UploadCount(filename string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.uploadCalls[filename]
}

// TotalUploads returns the number of assets the gateway holds.
func (g *MemoryGateway) TotalUploads() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.assets)
}

// CreateCalls returns how many times CreateAlbum ran for a name.
func (g *MemoryGateway) CreateCalls(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls[name]
}

// AlbumNames returns every album name on the fake server.
func (g *MemoryGateway) AlbumNames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.albums))
	for name := range g.albums {
		names = append(names, name)
	}
	return names
}

func (g *MemoryGateway) albumExists(id string) bool {
	for _, existing := range g.albums {
		if existing == id {
			return true
		}
	}
	return false
}

func (g *MemoryGateway) newID(kind string) string {
	g.nextID++
	return fmt.Sprintf("%s-%d", kind, g.nextID)
}
