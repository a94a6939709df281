package migrate

import "context"

// Gateway is the only seam through which the engine touches the remote
// asset service. Implementations perform network I/O; everything above
// them stays deterministic.
type Gateway interface {
	// Ping verifies the remote service is reachable and the credential is
	// accepted.
	Ping(ctx context.Context) error

	// FindAlbumByName returns the id of an existing album with the given
	// name, or "" if no such album exists.
	FindAlbumByName(ctx context.Context, name string) (string, error)

	// CreateAlbum creates a new album and returns its id.
	CreateAlbum(ctx context.Context, name string) (string, error)

	// UploadAsset uploads the file behind entry and returns the remote
	// asset id. Uploading a file the service already holds returns the
	// existing asset id.
	UploadAsset(ctx context.Context, entry FileEntry) (string, error)

	// AddAssetToAlbum attaches an uploaded asset to an album.
	AddAssetToAlbum(ctx context.Context, assetID, albumID string) error
}

// CheckpointStore records which files have already been migrated.
// Contains and Record are safe for concurrent use by scheduler workers;
// all mutation is serialized inside the store.
type CheckpointStore interface {
	// Contains reports whether a fingerprint has already been uploaded.
	Contains(fingerprint string) bool

	// Record adds a completed upload to the in-memory set and marks it
	// for the next Flush.
	Record(rec CheckpointRecord)

	// Flush durably persists the full set. The on-disk file is replaced
	// atomically: a crash mid-flush leaves the previous valid snapshot.
	Flush() error
}

// Walker produces the lazy stream of media files under the migration root.
// Implementations send every discovered entry on out and return once the
// traversal is finished or ctx is cancelled. The caller owns the channel
// and closes it after Walk returns.
type Walker interface {
	Walk(ctx context.Context, out chan<- FileEntry) error
}
