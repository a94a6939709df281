package scan

import (
	"path/filepath"
	"strings"

	"immich-migrate/internal/migrate"
)

// imageExtensions are the image formats worth migrating.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
	".heic": true,
	".heif": true,
	".raw":  true,
	".arw":  true,
	".cr2":  true,
	".nef":  true,
	".orf":  true,
	".rw2":  true,
}

// videoExtensions are the video formats worth migrating.
var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
	".mkv":  true,
	".m4v":  true,
	".3gp":  true,
	".mpg":  true,
	".mpeg": true,
}

// MediaKindFor classifies a filename by extension. The second return is
// false for anything outside the allow-lists.
func MediaKindFor(name string) (migrate.MediaKind, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if imageExtensions[ext] {
		return migrate.KindImage, true
	}
	if videoExtensions[ext] {
		return migrate.KindVideo, true
	}
	return 0, false
}

// extraKinds builds a lookup for user-configured extensions that extend
// the built-in allow-lists. Entries are normalized to a lowercase ".ext"
// form.
func extraKinds(imageExts, videoExts []string) map[string]migrate.MediaKind {
	kinds := make(map[string]migrate.MediaKind, len(imageExts)+len(videoExts))
	for _, ext := range imageExts {
		kinds[normalizeExt(ext)] = migrate.KindImage
	}
	for _, ext := range videoExts {
		kinds[normalizeExt(ext)] = migrate.KindVideo
	}
	return kinds
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
