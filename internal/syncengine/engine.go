// Package syncengine keeps in-memory record collections aligned with the
// remote record store.
//
// The engine holds no collection state between calls. Every operation takes
// the caller's current snapshot and returns a new one, built only after the
// remote write succeeded; the input snapshot is never modified. On error the
// returned collection is the caller's snapshot.
package syncengine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/deductiv/export-everything-sub000/internal/events"
	"github.com/deductiv/export-everything-sub000/internal/gateway"
	"github.com/deductiv/export-everything-sub000/internal/logging"
	"github.com/deductiv/export-everything-sub000/internal/metrics"
	"github.com/deductiv/export-everything-sub000/internal/record"
)

// Engine runs collection operations against a record store.
type Engine struct {
	store     gateway.RecordStore
	acl       gateway.ACLWriter
	app       string
	publisher events.Publisher
	timeout   time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sends operation notifications to p.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithTimeout bounds each store call.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithACLWriter overrides the ACL writer. By default the store is used if it
// implements gateway.ACLWriter.
func WithACLWriter(w gateway.ACLWriter) Option {
	return func(e *Engine) { e.acl = w }
}

// New creates an engine. app is the namespace that owns credentials; vault
// entries of other apps are hidden on refresh.
func New(store gateway.RecordStore, app string, opts ...Option) *Engine {
	e := &Engine{store: store, app: app, publisher: events.Discard}
	if w, ok := store.(gateway.ACLWriter); ok {
		e.acl = w
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return ctx, func() {}
}

// Refresh fetches a collection from the store. The passwords collection is
// joined with the role and user lists and limited to this app's credentials.
func (e *Engine) Refresh(ctx context.Context, name string) (coll record.Collection, err error) {
	defer func() { e.finish(ctx, events.EventRefresh, name, "", err) }()

	schema, err := record.Lookup(name)
	if err != nil {
		return record.Collection{}, err
	}
	entries, err := e.list(ctx, name)
	if err != nil {
		return record.Collection{}, err
	}

	coll = record.Collection{Name: name, Records: make([]record.Record, 0, len(entries))}
	if schema.IsPasswords() {
		for _, entry := range entries {
			if entry.ACL.App != e.app {
				continue
			}
			coll.Records = append(coll.Records, record.FromEntry(schema, entry))
		}
		if coll.Roles, err = e.names(ctx, gateway.CollectionRoles); err != nil {
			return record.Collection{}, err
		}
		if coll.Users, err = e.names(ctx, gateway.CollectionUsers); err != nil {
			return record.Collection{}, err
		}
		return coll, nil
	}

	for _, entry := range entries {
		coll.Records = append(coll.Records, record.FromEntry(schema, entry))
	}
	return coll, nil
}

func (e *Engine) list(ctx context.Context, name string) ([]record.Entry, error) {
	cctx, cancel := e.callContext(ctx)
	defer cancel()
	entries, err := e.store.List(cctx, name)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", name, err)
	}
	return entries, nil
}

func (e *Engine) names(ctx context.Context, collection string) ([]string, error) {
	entries, err := e.list(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Name)
	}
	return out, nil
}

// prepare strips the stanza pseudo-field, fills blank columns, coerces
// booleans and validates. Nothing reaches the store if this fails.
func prepare(schema *record.Schema, rec record.Record) (record.Record, error) {
	rec = rec.Clone()
	delete(rec.Fields, record.FieldStanza)
	rec = record.Coerce(schema, record.FillMissing(schema, rec))
	if err := schema.Validate(rec); err != nil {
		return record.Record{}, err
	}
	return rec, nil
}

// Add creates rec under a fresh key and returns current with rec appended.
// If rec is the default, the other defaults are unset first.
func (e *Engine) Add(ctx context.Context, current record.Collection, rec record.Record) (next record.Collection, err error) {
	var key string
	defer func() { e.finish(ctx, events.EventCreate, current.Name, key, err) }()

	schema, err := record.Lookup(current.Name)
	if err != nil {
		return current, err
	}
	rec, err = prepare(schema, rec)
	if err != nil {
		return current, err
	}
	key = record.NewKey(schema, rec)
	rec.Key = key

	base, err := e.enforceExclusive(ctx, current, rec)
	if err != nil {
		return current, err
	}

	cctx, cancel := e.callContext(ctx)
	entry, err := e.store.Create(cctx, current.Name, rec)
	cancel()
	if err != nil {
		return current, fmt.Errorf("create %s/%s: %w", current.Name, key, err)
	}

	if schema.IsPasswords() {
		if rec, err = e.reconcileACL(ctx, schema, rec, entry); err != nil {
			return current, err
		}
	}
	return base.Append(rec), nil
}

// Update writes updated under previous.Key and returns current with that
// element replaced. If updated is the default, the other defaults are unset
// first.
func (e *Engine) Update(ctx context.Context, current record.Collection, updated, previous record.Record) (next record.Collection, err error) {
	key := previous.Key
	defer func() { e.finish(ctx, events.EventUpdate, current.Name, key, err) }()

	if key == "" {
		return current, &record.ValidationError{Field: record.FieldStanza, Reason: "previous record has no key"}
	}
	schema, err := record.Lookup(current.Name)
	if err != nil {
		return current, err
	}
	updated, err = prepare(schema, updated)
	if err != nil {
		return current, err
	}
	updated.Key = key

	base, err := e.enforceExclusive(ctx, current, updated)
	if err != nil {
		return current, err
	}

	cctx, cancel := e.callContext(ctx)
	entry, err := e.store.Update(cctx, current.Name, key, updated)
	cancel()
	if err != nil {
		return current, fmt.Errorf("update %s/%s: %w", current.Name, key, err)
	}

	if schema.IsPasswords() {
		if updated, err = e.reconcileACL(ctx, schema, updated, entry); err != nil {
			return current, err
		}
	}
	return base.Replace(key, updated), nil
}

// Delete removes rec from the store and returns current without the
// element whose key matches.
func (e *Engine) Delete(ctx context.Context, current record.Collection, rec record.Record) (next record.Collection, err error) {
	defer func() { e.finish(ctx, events.EventDelete, current.Name, rec.Key, err) }()

	if rec.Key == "" {
		return current, &record.ValidationError{Field: record.FieldStanza, Reason: "record has no key"}
	}
	cctx, cancel := e.callContext(ctx)
	err = e.store.Delete(cctx, current.Name, rec.Key)
	cancel()
	if err != nil {
		return current, fmt.Errorf("delete %s/%s: %w", current.Name, rec.Key, err)
	}
	return current.Remove(rec.Key), nil
}

// reconcileACL applies the owner and permissions requested by a credential
// when they differ from what the store reported, and returns the record as
// it should appear in the snapshot.
func (e *Engine) reconcileACL(ctx context.Context, schema *record.Schema, rec record.Record, entry record.Entry) (record.Record, error) {
	desired := record.DesiredACL(rec)
	if desired.Owner == "" {
		desired.Owner = entry.ACL.Owner
	}

	out := rec
	if entry.Name != "" {
		out = record.FromEntry(schema, entry)
		out.Key = rec.Key
	}
	out = out.With(record.FieldOwner, desired.Owner).
		With(record.FieldRead, rec.String(record.FieldRead)).
		With(record.FieldWrite, rec.String(record.FieldWrite)).
		With(record.FieldSharing, desired.Sharing)

	if desired.Equal(entry.ACL) {
		return out, nil
	}
	if e.acl == nil {
		logging.WithContext(ctx).Warn("store does not support ACL updates",
			zap.String("key", rec.Key))
		return out, nil
	}

	cctx, cancel := e.callContext(ctx)
	defer cancel()
	if err := e.acl.UpdateACL(cctx, record.Passwords, rec.Key, desired); err != nil {
		return record.Record{}, fmt.Errorf("update acl for %s: %w", rec.Key, err)
	}
	logging.WithContext(ctx).Info("credential acl updated",
		zap.String("key", rec.Key),
		zap.String("owner", desired.Owner),
		zap.Strings("read", desired.Read),
		zap.Strings("write", desired.Write))
	return out, nil
}

var successMessages = map[string]string{
	events.EventRefresh: "Collection refreshed",
	events.EventCreate:  "Record created successfully",
	events.EventUpdate:  "Update successful",
	events.EventDelete:  "Record deleted successfully",
}

var failureMessages = map[string]string{
	events.EventRefresh: "Error querying collection",
	events.EventCreate:  "Error creating record",
	events.EventUpdate:  "Error updating record",
	events.EventDelete:  "Error deleting record",
}

// finish logs, counts and publishes the outcome of one operation.
func (e *Engine) finish(ctx context.Context, op, collection, key string, err error) {
	metrics.RecordSyncOperation(op, collection, err == nil)
	logger := logging.WithContext(ctx).With(
		zap.String("op", op),
		zap.String("collection", collection),
		zap.String("key", key),
	)

	ev := events.Event{
		Type:       op,
		Collection: collection,
		Key:        key,
		Caller:     logging.GetCaller(ctx),
		Message:    successMessages[op],
	}
	if err != nil {
		logger.Error("collection operation failed", zap.Error(err))
		ev.Type = events.EventError
		ev.Message = failureMessages[op] + ": " + err.Error()
	} else {
		logger.Info("collection operation completed")
	}
	e.publisher.Publish(ev)
}
