package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/deductiv/export-everything-sub000/internal/browser"
	"github.com/deductiv/export-everything-sub000/internal/gateway"
	"github.com/deductiv/export-everything-sub000/internal/logging"
	"github.com/deductiv/export-everything-sub000/internal/record"
)

// ErrUnknownProfile is returned when no profile matches the requested alias.
var ErrUnknownProfile = errors.New("cannot find the specified configuration")

// Profile is a profile record flattened to strings, with the credentials
// it references joined in as <field>_username, <field>_realm and
// <field>_password.
type Profile struct {
	Collection string
	Key        string
	Fields     map[string]string
}

// Get returns a field or "".
func (p Profile) Get(name string) string { return p.Fields[name] }

// Equal reports whether two profiles resolve to the same settings.
func (p Profile) Equal(o Profile) bool {
	return p.Collection == o.Collection && p.Key == o.Key && maps.Equal(p.Fields, o.Fields)
}

// DefaultFolder is the folder listed when the request names none:
// "/<bucket, container or share>/<default_folder>".
func (p Profile) DefaultFolder() string {
	folder := ""
	for _, f := range []string{"default_s3_bucket", "default_container", "share_name"} {
		if v := p.Get(f); v != "" {
			folder = "/" + v
			break
		}
	}
	if df := p.Get("default_folder"); df != "" {
		folder += "/" + df
	}
	folder = strings.ReplaceAll(folder, "\\", "/")
	for strings.Contains(folder, "//") {
		folder = strings.ReplaceAll(folder, "//", "/")
	}
	return strings.TrimRight(folder, "/")
}

// cachedLister counts the requests listing through it. A lister that was
// replaced or released by Close is closed when the last of them returns.
type cachedLister struct {
	profile Profile
	lister  Lister
	refs    int
	retired bool
}

// Router resolves profiles from the record store and hands out listers,
// reusing a lister while its profile settings are unchanged.
type Router struct {
	mu      sync.Mutex
	store   gateway.RecordStore
	app     string
	factory Factory
	listers map[string]*cachedLister // collection/key -> lister
}

// NewRouter creates a Router. Credentials are only joined from entries
// owned by app.
func NewRouter(store gateway.RecordStore, app string, factory Factory) *Router {
	return &Router{
		store:   store,
		app:     app,
		factory: factory,
		listers: make(map[string]*cachedLister),
	}
}

// Resolve finds the profile of collection with the given alias. An empty
// alias or "default" selects the default profile.
func (r *Router) Resolve(ctx context.Context, collection, alias string) (Profile, error) {
	schema, err := record.Lookup(collection)
	if err != nil {
		return Profile{}, err
	}
	if schema.IsPasswords() {
		return Profile{}, &record.ValidationError{Field: "config", Reason: "passwords have no storage"}
	}

	entries, err := r.store.List(ctx, collection)
	if err != nil {
		return Profile{}, fmt.Errorf("could not read configuration: %w", err)
	}
	coll := record.Collection{Name: collection}
	for _, e := range entries {
		coll = coll.Append(record.FromEntry(schema, e))
	}

	var rec record.Record
	var ok bool
	if alias == "" || alias == "default" {
		rec, ok = coll.Default()
	} else {
		rec, ok = coll.FindBy(record.FieldAlias, alias)
	}
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s/%s", ErrUnknownProfile, collection, alias)
	}

	p := Profile{Collection: collection, Key: rec.Key, Fields: make(map[string]string, len(rec.Fields))}
	for k, v := range rec.Fields {
		p.Fields[k] = record.Stringify(v)
	}

	if creds := schema.CredentialColumns(); len(creds) > 0 {
		if err := r.joinCredentials(ctx, p, creds); err != nil {
			return Profile{}, err
		}
	}
	return p, nil
}

func (r *Router) joinCredentials(ctx context.Context, p Profile, columns []string) error {
	entries, err := r.store.List(ctx, record.Passwords)
	if err != nil {
		return fmt.Errorf("could not read credentials: %w", err)
	}
	byKey := make(map[string]record.Entry, len(entries))
	for _, e := range entries {
		if e.ACL.App == r.app {
			byKey[record.TrimPasswordKey(e.Name)] = e
		}
	}

	for _, col := range columns {
		ref := p.Get(col)
		if ref == "" {
			continue
		}
		e, ok := byKey[record.TrimPasswordKey(ref)]
		if !ok {
			logging.Warn("profile references a missing credential",
				zap.String("collection", p.Collection),
				zap.String("key", p.Key),
				zap.String("field", col))
			continue
		}
		secret := e.Content["clear_password"]
		if secret == nil {
			secret = e.Content["encr_password"]
		}
		p.Fields[col+"_username"] = record.Stringify(e.Content["username"])
		p.Fields[col+"_realm"] = record.Stringify(e.Content["realm"])
		p.Fields[col+"_password"] = record.Stringify(secret)
	}
	return nil
}

// Use runs fn with the lister for p, creating one if the cached lister was
// built from different settings. A replaced lister stays open until every
// call still using it has returned.
func (r *Router) Use(ctx context.Context, p Profile, fn func(Lister) error) error {
	c, err := r.acquire(ctx, p)
	if err != nil {
		return err
	}
	defer r.release(c)
	return fn(c.lister)
}

func (r *Router) acquire(ctx context.Context, p Profile) (*cachedLister, error) {
	id := p.Collection + "/" + p.Key

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.listers[id]
	if existing != nil && existing.profile.Equal(p) {
		existing.refs++
		return existing, nil
	}

	l, err := r.factory(ctx, p)
	if err != nil {
		logging.Error("failed to initialize directory lister",
			zap.String("collection", p.Collection),
			zap.String("key", p.Key),
			zap.Error(err))
		return nil, err
	}
	if existing != nil {
		r.retire(existing)
	}
	c := &cachedLister{profile: p, lister: l, refs: 1}
	r.listers[id] = c

	logging.Info("directory lister ready",
		zap.String("collection", p.Collection),
		zap.String("key", p.Key),
		zap.String("type", l.Type()))
	return c, nil
}

func (r *Router) release(c *cachedLister) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.refs--
	if c.retired && c.refs == 0 {
		c.lister.Close()
	}
}

// retire must be called with r.mu held.
func (r *Router) retire(c *cachedLister) {
	c.retired = true
	if c.refs == 0 {
		c.lister.Close()
	}
}

// List lists folder of the profile selected by collection and alias. An
// empty folder lists the profile's default folder.
func (r *Router) List(ctx context.Context, collection, alias, folder string) ([]browser.FileEntry, error) {
	p, err := r.Resolve(ctx, collection, alias)
	if err != nil {
		return nil, err
	}
	if folder == "" {
		folder = p.DefaultFolder()
	}
	var entries []browser.FileEntry
	err = r.Use(ctx, p, func(l Lister) error {
		var lerr error
		entries, lerr = l.List(ctx, strings.ReplaceAll(folder, "\\", "/"))
		return lerr
	})
	return entries, err
}

// ListDirectory implements gateway.DirectoryLister for in-process use. The
// body is the bare JSON listing.
func (r *Router) ListDirectory(ctx context.Context, q gateway.DirectoryQuery) ([]byte, error) {
	entries, err := r.List(ctx, q.Collection, q.Alias, q.Folder)
	if err != nil {
		remote := ctx.Err() == nil
		return nil, &gateway.ListingError{Message: err.Error(), Remote: remote, Err: err}
	}
	return json.Marshal(entries)
}

// Close drops all cached listers. Listers still in use are closed when
// their last call returns.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, c := range r.listers {
		r.retire(c)
		delete(r.listers, id)
	}
	return nil
}
