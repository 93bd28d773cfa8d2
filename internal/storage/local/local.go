// Package local provides a filesystem directory lister on go-billy.
package local

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/deductiv/export-everything-sub000/internal/browser"
)

// Config holds local filesystem lister settings.
type Config struct {
	RootPath string
	// IDPrefix is prepended to every entry id, e.g. "/share".
	IDPrefix string
}

// Lister lists directories below a filesystem root.
type Lister struct {
	fs     billy.Filesystem
	prefix string
}

// New creates a lister rooted at cfg.RootPath on the OS filesystem.
func New(cfg Config) (*Lister, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("root path is required")
	}
	info, err := os.Stat(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("stat root path %s: %w", cfg.RootPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path %s is not a directory", cfg.RootPath)
	}
	return NewWithFilesystem(osfs.New(cfg.RootPath), cfg.IDPrefix), nil
}

// NewWithFilesystem creates a lister over an existing billy filesystem.
func NewWithFilesystem(fs billy.Filesystem, idPrefix string) *Lister {
	return &Lister{fs: fs, prefix: "/" + strings.Trim(idPrefix, "/")}
}

// List returns the entries of folder, relative to the root. Ids are
// "<prefix>/<folder>/<name>" and each entry carries its parentId.
func (l *Lister) List(ctx context.Context, folder string) ([]browser.FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel := path.Clean("/" + strings.ReplaceAll(folder, "\\", "/"))
	infos, err := l.fs.ReadDir(rel)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	parent := strings.TrimRight(path.Join(l.prefix, rel), "/")
	out := make([]browser.FileEntry, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if name == "." || name == ".." {
			continue
		}
		out = append(out, browser.FileEntry{
			"id":       parent + "/" + name,
			"name":     name,
			"isHidden": strings.HasPrefix(name, "."),
			"size":     info.Size(),
			"modDate":  info.ModTime().Unix(),
			"parentId": parent,
			"isDir":    info.IsDir(),
		})
	}
	return out, nil
}

// Type returns "local".
func (l *Lister) Type() string { return "local" }

// Close is a no-op for filesystem listers.
func (l *Lister) Close() error { return nil }
