package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"immich-migrate/internal/config"
	"immich-migrate/internal/migrate"
)

// Walker discovers media files under a root directory and streams them as
// migrate.FileEntry values. The traversal is single-pass and keeps no
// state of its own; resumability lives entirely in the checkpoint store.
type Walker struct {
	root    string
	matcher *IgnoreMatcher
	extra   map[string]migrate.MediaKind
	logger  migrate.Logger
}

var _ migrate.Walker = (*Walker)(nil)

// NewWalker creates a walker rooted at root. root must be an existing
// directory. cfg's ignore patterns and extra extensions extend the
// built-in defaults.
func NewWalker(root string, cfg config.ScanConfig, logger migrate.Logger) (*Walker, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	return &Walker{
		root:    absRoot,
		matcher: NewIgnoreMatcher(cfg.Ignore),
		extra:   extraKinds(cfg.ExtraImageExts, cfg.ExtraVideoExts),
		logger:  logger,
	}, nil
}

// Root returns the absolute migration root.
func (w *Walker) Root() string {
	return w.root
}

// Walk traverses the root depth-first, sending a FileEntry for each
// regular file whose extension is on the media allow-list. Symlinks are
// never followed, so directory cycles cannot occur. An unreadable
// subdirectory is logged and skipped; it does not abort the walk.
func (w *Walker) Walk(ctx context.Context, out chan<- migrate.FileEntry) error {
	return filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == w.root {
				return err
			}
			w.logger.Warn("skipping unreadable path", "path", p, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(w.root, p)
		if relErr != nil {
			return fmt.Errorf("computing relative path for %s: %w", p, relErr)
		}

		if d.IsDir() {
			if p != w.root && w.matcher.Match(rel) {
				w.logger.Debug("ignoring directory", "path", rel)
				return fs.SkipDir
			}
			return nil
		}

		// WalkDir does not descend into symlinked directories; skipping
		// symlinked files here closes the remaining loophole.
		if !d.Type().IsRegular() {
			return nil
		}
		if w.matcher.Match(rel) {
			return nil
		}

		kind, ok := w.mediaKind(d.Name())
		if !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			w.logger.Warn("skipping unreadable file", "path", p, "error", err)
			return nil
		}

		entry := migrate.FileEntry{
			AbsPath: p,
			RelDir:  relDir(rel),
			Name:    d.Name(),
			ModTime: info.ModTime(),
			Size:    info.Size(),
			Kind:    kind,
		}

		select {
		case out <- entry:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// mediaKind classifies a filename against the built-in allow-lists plus
// any configured extra extensions.
func (w *Walker) mediaKind(name string) (migrate.MediaKind, bool) {
	if kind, ok := MediaKindFor(name); ok {
		return kind, true
	}
	if kind, ok := w.extra[strings.ToLower(filepath.Ext(name))]; ok {
		return kind, true
	}
	return 0, false
}

// relDir converts a root-relative file path into the slash-separated
// directory path the album mapper keys on. Files directly under the root
// get "".
func relDir(relPath string) string {
	dir := filepath.Dir(relPath)
	if dir == "." {
		return ""
	}
	return filepath.ToSlash(dir)
}
