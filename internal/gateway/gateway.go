// Package gateway defines the contract of the remote record store and
// directory lister, and the errors they report.
package gateway

import (
	"context"

	"github.com/deductiv/export-everything-sub000/internal/record"
)

// RecordStore performs CRUD against a remote store keyed by
// (collection, record key).
type RecordStore interface {
	List(ctx context.Context, collection string) ([]record.Entry, error)
	Get(ctx context.Context, collection, key string) (record.Entry, error)
	Create(ctx context.Context, collection string, rec record.Record) (record.Entry, error)
	Update(ctx context.Context, collection, key string, rec record.Record) (record.Entry, error)
	Delete(ctx context.Context, collection, key string) error
}

// ACLWriter is implemented by stores that keep per-credential permissions.
type ACLWriter interface {
	UpdateACL(ctx context.Context, collection, key string, acl record.ACL) error
}

// DirectoryQuery selects a folder of a profile's backing storage.
// Folder uses forward slashes and ends in "/".
type DirectoryQuery struct {
	Collection string
	Alias      string
	Folder     string
}

// DirectoryLister runs a remote directory listing and returns the raw
// response body. Decoding the envelope is up to the caller.
type DirectoryLister interface {
	ListDirectory(ctx context.Context, q DirectoryQuery) ([]byte, error)
}

// Collections used by the credential join.
const (
	CollectionRoles = "roles"
	CollectionUsers = "users"
)
