// Package storage lists directories of the storage behind export profiles
// and routes listing requests to the right backend.
package storage

import (
	"context"

	"github.com/deductiv/export-everything-sub000/internal/browser"
)

// Lister is the interface for directory listing backends.
// Implementations list one folder of an object store or file share.
type Lister interface {
	// List returns the entries of folder. Folder ids use forward slashes;
	// modDate values are epoch seconds.
	List(ctx context.Context, folder string) ([]browser.FileEntry, error)

	// Type returns the backend type identifier ("s3", "smb", "unsupported").
	Type() string

	// Close releases any resources held by the lister.
	Close() error
}

// unsupported serves profile types that have no listing backend yet.
type unsupported struct{}

func (u unsupported) List(context.Context, string) ([]browser.FileEntry, error) {
	return []browser.FileEntry{}, nil
}

func (u unsupported) Type() string { return "unsupported" }

func (u unsupported) Close() error { return nil }
