// Package smb provides an SMB/CIFS share directory lister.
// Shares must be pre-mounted on the OS (via mount.cifs or fstab) under
// <mount root>/<host>/<share>. Listing delegates to the local lister at
// the mount path.
package smb

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	billy "github.com/go-git/go-billy/v5"

	"github.com/deductiv/export-everything-sub000/internal/browser"
	"github.com/deductiv/export-everything-sub000/internal/storage/local"
)

// Config holds SMB lister settings.
// Username/Password/Domain are stored for reference. Actual I/O uses the
// mounted share.
type Config struct {
	MountRoot string
	Host      string
	Share     string
	Username  string
	Password  string
	Domain    string
}

// Lister wraps a local lister at the share mount point.
type Lister struct {
	*local.Lister
	share string
}

// New creates an SMB lister over the share mounted at
// <MountRoot>/<Host>/<Share> on the OS filesystem.
func New(cfg Config) (*Lister, error) {
	if cfg.MountRoot == "" {
		return nil, fmt.Errorf("mount root is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l, err := local.New(local.Config{
		RootPath: filepath.Join(cfg.MountRoot, cfg.Host, cfg.Share),
		IDPrefix: cfg.Share,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to find the specified share name on the server: %s: %w", cfg.shareDir(), err)
	}
	return &Lister{Lister: l, share: cfg.Share}, nil
}

// NewWithFilesystem creates an SMB lister over root, the filesystem that
// holds <host>/<share>.
func NewWithFilesystem(root billy.Filesystem, cfg Config) (*Lister, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	dir := cfg.shareDir()
	info, err := root.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("unable to find the specified share name on the server: %s", dir)
	}
	fs, err := root.Chroot(dir)
	if err != nil {
		return nil, fmt.Errorf("open share %s: %w", dir, err)
	}
	return &Lister{
		Lister: local.NewWithFilesystem(fs, cfg.Share),
		share:  cfg.Share,
	}, nil
}

func (c Config) validate() error {
	if c.Host == "" || c.Share == "" {
		return fmt.Errorf("host and share_name are required")
	}
	return nil
}

func (c Config) shareDir() string { return c.Host + "/" + c.Share }

// List lists folder. A leading share segment, as carried by entry ids,
// is removed first.
func (l *Lister) List(ctx context.Context, folder string) ([]browser.FileEntry, error) {
	rel := strings.Trim(strings.ReplaceAll(folder, "\\", "/"), "/")
	if rel == l.share {
		rel = ""
	} else {
		rel = strings.TrimPrefix(rel, l.share+"/")
	}
	return l.Lister.List(ctx, rel)
}

// Type returns "smb".
func (l *Lister) Type() string { return "smb" }
