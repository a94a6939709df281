package migrate

import (
	"fmt"
	"path"
	"time"
)

// MediaKind distinguishes images from videos.
type MediaKind int

const (
	KindImage MediaKind = iota
	KindVideo
)

func (k MediaKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// FileEntry describes a single media file discovered by the walker.
// Entries are immutable once produced.
type FileEntry struct {
	AbsPath string    // absolute path on disk
	RelDir  string    // directory path relative to the migration root, slash-separated, "" for the root itself
	Name    string    // base filename
	ModTime time.Time // modification time at discovery
	Size    int64     // size in bytes
	Kind    MediaKind
}

// RelPath returns the slash-separated path of the file relative to the
// migration root.
func (e FileEntry) RelPath() string {
	return path.Join(e.RelDir, e.Name)
}

// Fingerprint derives the checkpoint key for this entry. Two entries with
// the same relative path and modification time are the same logical upload;
// touching a file's mtime makes it look like a new file. Content is never
// hashed.
func (e FileEntry) Fingerprint() string {
	return fmt.Sprintf("%s@%d", e.RelPath(), e.ModTime.UnixNano())
}

// AlbumNode is the album identity a directory maps to. Name is the
// hierarchical album name; it is empty for the migration root, which maps
// to no album.
type AlbumNode struct {
	Name   string
	RelDir string
}

// CheckpointRecord is the durable proof that one file finished its
// upload+attach. Records are created once and never mutated.
type CheckpointRecord struct {
	Fingerprint string    `json:"fingerprint"`
	AssetID     string    `json:"asset_id"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
