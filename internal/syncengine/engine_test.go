package syncengine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/deductiv/export-everything-sub000/internal/events"
	"github.com/deductiv/export-everything-sub000/internal/gateway"
	"github.com/deductiv/export-everything-sub000/internal/record"
)

// fakeStore records every call in order. Hooks let tests block or fail
// individual calls.
type fakeStore struct {
	mu    sync.Mutex
	calls []string

	lists     map[string][]record.Entry
	createErr error
	createACL record.ACL
	onUpdate  func(key string) error
	acls      []record.ACL
}

func (f *fakeStore) log(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) List(_ context.Context, collection string) ([]record.Entry, error) {
	f.log("list " + collection)
	return f.lists[collection], nil
}

func (f *fakeStore) Get(_ context.Context, collection, key string) (record.Entry, error) {
	f.log("get " + key)
	return record.Entry{}, &gateway.FetchError{Op: "get", Collection: collection, Key: key, Status: 404, Err: gateway.ErrNotFound}
}

func (f *fakeStore) Create(_ context.Context, collection string, rec record.Record) (record.Entry, error) {
	f.log("create " + rec.Key)
	if f.createErr != nil {
		return record.Entry{}, f.createErr
	}
	return record.Entry{Name: rec.Key, Content: rec.Fields, ACL: f.createACL}, nil
}

func (f *fakeStore) Update(_ context.Context, collection, key string, rec record.Record) (record.Entry, error) {
	f.log(fmt.Sprintf("begin update %s default=%v", key, rec.IsDefault()))
	var err error
	if f.onUpdate != nil {
		err = f.onUpdate(key)
	}
	f.log("end update " + key)
	if err != nil {
		return record.Entry{}, err
	}
	return record.Entry{Name: key, Content: rec.Fields, ACL: f.createACL}, nil
}

func (f *fakeStore) Delete(_ context.Context, collection, key string) error {
	f.log("delete " + key)
	return nil
}

func (f *fakeStore) UpdateACL(_ context.Context, collection, key string, acl record.ACL) error {
	f.log("acl " + key)
	f.mu.Lock()
	f.acls = append(f.acls, acl)
	f.mu.Unlock()
	return nil
}

func smb(key string, def bool) record.Record {
	return record.New(key, map[string]any{
		"default":    def,
		"alias":      "smb-" + key,
		"host":       "fs01",
		"share_name": "exports",
	})
}

func keys(c record.Collection) []string {
	out := make([]string, len(c.Records))
	for i, r := range c.Records {
		out[i] = r.Key
	}
	return out
}

func TestUpdateUnsetsOtherDefaultBeforeWrite(t *testing.T) {
	store := &fakeStore{onUpdate: func(key string) error {
		if key == "a" {
			time.Sleep(20 * time.Millisecond)
		}
		return nil
	}}
	e := New(store, "export_everything")

	current := record.Collection{Name: "ep_smb", Records: []record.Record{smb("a", true), smb("b", false)}}
	next, err := e.Update(context.Background(), current, smb("b", true), current.Records[1])
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	want := []string{
		"begin update a default=false",
		"end update a",
		"begin update b default=true",
		"end update b",
	}
	got := store.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}

	if len(next.Records) != 2 || next.Records[0].Key != "a" || next.Records[1].Key != "b" {
		t.Fatalf("snapshot keys = %v", keys(next))
	}
	if next.Records[0].IsDefault() || !next.Records[1].IsDefault() {
		t.Errorf("snapshot defaults = a:%v b:%v", next.Records[0].IsDefault(), next.Records[1].IsDefault())
	}
	if !current.Records[0].IsDefault() {
		t.Error("input snapshot was modified")
	}
}

func TestAddUnsetsAllDefaultsConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	go func() {
		started.Wait()
		close(release)
	}()

	store := &fakeStore{onUpdate: func(key string) error {
		started.Done()
		select {
		case <-release:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("unset calls were not issued concurrently")
		}
	}}
	e := New(store, "export_everything")

	current := record.Collection{Name: "ep_smb", Records: []record.Record{smb("a", true), smb("b", true), smb("c", false)}}
	next, err := e.Add(context.Background(), current, smb("", true))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(next.Records) != 4 {
		t.Fatalf("snapshot keys = %v", keys(next))
	}
	if next.DefaultCount() != 1 || !next.Records[3].IsDefault() {
		t.Errorf("expected only the new record to be default, got %d defaults", next.DefaultCount())
	}

	calls := store.Calls()
	if last := calls[len(calls)-1]; last != "create "+next.Records[3].Key {
		t.Errorf("create must be the last call, calls = %v", calls)
	}
}

func TestFailedUnsetAbortsWrite(t *testing.T) {
	boom := &gateway.FetchError{Op: "update", Collection: "ep_smb", Key: "b", Status: 500, Err: errors.New("boom")}
	store := &fakeStore{onUpdate: func(key string) error {
		if key == "b" {
			return boom
		}
		return nil
	}}
	e := New(store, "export_everything")

	current := record.Collection{Name: "ep_smb", Records: []record.Record{smb("a", true), smb("b", true)}}
	next, err := e.Add(context.Background(), current, smb("", true))
	if err == nil {
		t.Fatal("expected an error")
	}
	if fe, ok := gateway.AsFetch(err); !ok || fe.Key != "b" {
		t.Errorf("expected the FetchError for b, got %v", err)
	}
	for _, c := range store.Calls() {
		if len(c) >= 6 && c[:6] == "create" {
			t.Fatalf("record was written despite failed unset: %v", store.Calls())
		}
	}
	if len(next.Records) != 2 || !next.Records[0].IsDefault() || !next.Records[1].IsDefault() {
		t.Errorf("snapshot changed on failure: %+v", next.Records)
	}
}

func TestAtMostOneDefaultAfterEveryOperation(t *testing.T) {
	e := New(&fakeStore{}, "export_everything")
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	coll := record.Collection{Name: "ep_smb"}
	for i := 0; i < 200; i++ {
		def := rng.Intn(2) == 0
		var err error
		if len(coll.Records) == 0 || rng.Intn(3) == 0 {
			coll, err = e.Add(ctx, coll, smb("", def))
		} else {
			prev := coll.Records[rng.Intn(len(coll.Records))]
			coll, err = e.Update(ctx, coll, prev.With("default", def), prev)
		}
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if n := coll.DefaultCount(); n > 1 {
			t.Fatalf("step %d: %d records flagged default", i, n)
		}
	}
}

func TestDeleteMatchesByKey(t *testing.T) {
	e := New(&fakeStore{}, "export_everything")
	ctx := context.Background()

	coll := record.Collection{Name: "ep_smb", Records: []record.Record{smb("a", false), smb("b", false), smb("c", false), smb("d", false)}}
	c := coll.Records[2]

	coll, err := e.Delete(ctx, coll, coll.Records[0])
	if err != nil {
		t.Fatal(err)
	}
	// c has shifted from index 2 to 1; the record at its old index is d.
	coll, err = e.Delete(ctx, coll, c)
	if err != nil {
		t.Fatal(err)
	}
	got := keys(coll)
	if len(got) != 2 || got[0] != "b" || got[1] != "d" {
		t.Errorf("keys = %v, want [b d]", got)
	}
}

func TestAddValidationNeverReachesStore(t *testing.T) {
	store := &fakeStore{}
	e := New(store, "export_everything")

	bad := smb("", false)
	delete(bad.Fields, "share_name")
	_, err := e.Add(context.Background(), record.Collection{Name: "ep_smb"}, bad)
	ve, ok := record.AsValidation(err)
	if !ok || ve.Field != "share_name" {
		t.Fatalf("expected ValidationError on share_name, got %v", err)
	}
	if calls := store.Calls(); len(calls) != 0 {
		t.Errorf("store was called: %v", calls)
	}
}

func TestAddConflictLeavesSnapshot(t *testing.T) {
	store := &fakeStore{createErr: &gateway.ConflictError{Collection: "passwords", Key: "r:alice:"}}
	e := New(store, "export_everything")

	current := record.Collection{Name: record.Passwords}
	next, err := e.Add(context.Background(), current, record.New("", map[string]any{
		"username": "alice", "password": "pw", "realm": "r",
	}))
	if _, ok := gateway.AsConflict(err); !ok {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if len(next.Records) != 0 {
		t.Errorf("snapshot changed: %v", keys(next))
	}
}

func TestAddAssignsKeys(t *testing.T) {
	e := New(&fakeStore{}, "export_everything")
	ctx := context.Background()

	pw, err := e.Add(ctx, record.Collection{Name: record.Passwords}, record.New("ignored", map[string]any{
		"username": "alice", "password": "pw", "realm": "r",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if pw.Records[0].Key != "r:alice:" {
		t.Errorf("password key = %q", pw.Records[0].Key)
	}

	a, _ := e.Add(ctx, record.Collection{Name: "ep_smb"}, smb("", false))
	b, _ := e.Add(ctx, a, smb("", false))
	if b.Records[0].Key == "" || b.Records[0].Key == b.Records[1].Key {
		t.Errorf("expected distinct generated keys, got %v", keys(b))
	}
}

func TestRefreshJoinsPasswords(t *testing.T) {
	store := &fakeStore{lists: map[string][]record.Entry{
		record.Passwords: {
			{Name: "r:alice:", Content: map[string]any{"username": "alice", "realm": "r", "encr_password": "x"},
				ACL: record.ACL{App: "export_everything", Owner: "admin", Read: []string{"*"}, Write: []string{"admin"}}},
			{Name: ":bob:", Content: map[string]any{"username": "bob"},
				ACL: record.ACL{App: "search", Owner: "admin"}},
		},
		gateway.CollectionRoles: {{Name: "admin"}, {Name: "power"}},
		gateway.CollectionUsers: {{Name: "admin"}},
	}}
	e := New(store, "export_everything")

	coll, err := e.Refresh(context.Background(), record.Passwords)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(coll.Records) != 1 || coll.Records[0].Key != "r:alice:" {
		t.Fatalf("records = %v", keys(coll))
	}
	if coll.Records[0].String("password") != "x" || coll.Records[0].String("read") != "*" {
		t.Errorf("record = %+v", coll.Records[0].Fields)
	}
	if len(coll.Roles) != 2 || len(coll.Users) != 1 {
		t.Errorf("roles = %v, users = %v", coll.Roles, coll.Users)
	}
}

func TestRefreshCoercesGenericCollections(t *testing.T) {
	store := &fakeStore{lists: map[string][]record.Entry{
		"ep_smb": {{Name: "a", Content: map[string]any{"default": "1", "alias": "x", "disabled": "0"}}},
	}}
	coll, err := New(store, "export_everything").Refresh(context.Background(), "ep_smb")
	if err != nil {
		t.Fatal(err)
	}
	if !coll.Records[0].IsDefault() {
		t.Error("default should be booleanized")
	}
	if _, ok := coll.Records[0].Get("disabled"); ok {
		t.Error("non-column field kept")
	}
}

func TestRefreshUnknownCollection(t *testing.T) {
	_, err := New(&fakeStore{}, "export_everything").Refresh(context.Background(), "ep_nope")
	if _, ok := record.AsValidation(err); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestPasswordACLReconciliation(t *testing.T) {
	store := &fakeStore{createACL: record.ACL{App: "export_everything", Owner: "nobody", Read: []string{"*"}, Write: []string{"admin"}}}
	e := New(store, "export_everything")
	ctx := context.Background()

	pw := record.New("", map[string]any{
		"username": "alice", "password": "pw", "realm": "r",
		"owner": "admin", "read": "*", "write": "admin,power",
	})
	next, err := e.Add(ctx, record.Collection{Name: record.Passwords}, pw)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(store.acls) != 1 {
		t.Fatalf("expected one ACL update, got %d (%v)", len(store.acls), store.Calls())
	}
	got := store.acls[0]
	if got.Owner != "admin" || len(got.Write) != 2 || got.Write[1] != "power" {
		t.Errorf("ACL = %+v", got)
	}
	if next.Records[0].String("sharing") != "global" || next.Records[0].String("owner") != "admin" {
		t.Errorf("snapshot record = %+v", next.Records[0].Fields)
	}

	// Same permissions as reported: no ACL call.
	store.createACL = record.ACL{App: "export_everything", Owner: "admin", Read: []string{"*"}, Write: []string{"admin", "power"}}
	if _, err := e.Update(ctx, next, next.Records[0].With("password", "pw2"), next.Records[0]); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(store.acls) != 1 {
		t.Errorf("unexpected ACL update, calls = %v", store.Calls())
	}
}

func TestOperationsPublishEvents(t *testing.T) {
	b := events.NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	e := New(&fakeStore{}, "export_everything", WithPublisher(b))
	coll, err := e.Add(context.Background(), record.Collection{Name: "ep_smb"}, smb("", false))
	if err != nil {
		t.Fatal(err)
	}
	_, _ = e.Delete(context.Background(), coll, record.Record{})

	first := <-ch
	if first.Type != events.EventCreate || first.Key != coll.Records[0].Key {
		t.Errorf("first event = %+v", first)
	}
	second := <-ch
	if second.Type != events.EventError || second.Success() {
		t.Errorf("second event = %+v", second)
	}
}

func TestUpdateRequiresPreviousKey(t *testing.T) {
	_, err := New(&fakeStore{}, "export_everything").Update(context.Background(), record.Collection{Name: "ep_smb"}, smb("x", false), record.Record{})
	if _, ok := record.AsValidation(err); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLooselyEncodedDefaultsAreUnset(t *testing.T) {
	store := &fakeStore{}
	e := New(store, "export_everything")

	a := smb("a", false).With("default", "true")
	c := smb("c", false).With("default", 1)
	current := record.Collection{Name: "ep_smb", Records: []record.Record{a, smb("b", false), c}}

	next, err := e.Update(context.Background(), current, smb("b", true), current.Records[1])
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	unset := map[string]bool{}
	for _, call := range store.Calls() {
		switch call {
		case "begin update a default=false":
			unset["a"] = true
		case "begin update c default=false":
			unset["c"] = true
		}
	}
	if !unset["a"] || !unset["c"] {
		t.Errorf("calls = %v, want a and c unset", store.Calls())
	}
	if n := next.DefaultCount(); n != 1 {
		t.Errorf("snapshot has %d defaults", n)
	}
	if r, ok := next.Default(); !ok || r.Key != "b" {
		t.Errorf("default = %v, %v", r.Key, ok)
	}
}
