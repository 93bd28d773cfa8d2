// Package sqlstore provides a SQL-backed record store (PostgreSQL or SQLite)
// implementing the same contract as the REST configuration store.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/deductiv/export-everything-sub000/internal/gateway"
	"github.com/deductiv/export-everything-sub000/internal/logging"
	"github.com/deductiv/export-everything-sub000/internal/metrics"
	"github.com/deductiv/export-everything-sub000/internal/record"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Store is a SQL record store.
type Store struct {
	db  *sqlx.DB
	app string
}

var (
	_ gateway.RecordStore = (*Store)(nil)
	_ gateway.ACLWriter   = (*Store)(nil)
)

type row struct {
	Collection string `db:"collection"`
	Name       string `db:"name"`
	Content    string `db:"content"`
	ACLOwner   string `db:"acl_owner"`
	ACLRead    string `db:"acl_read"`
	ACLWrite   string `db:"acl_write"`
	ACLSharing string `db:"acl_sharing"`
}

const selectColumns = `SELECT collection, name, content, acl_owner, acl_read, acl_write, acl_sharing FROM records`

// New opens the database, verifies the connection and applies migrations.
// driver is "postgres" or "sqlite".
func New(driver, databaseURL, app string) (*Store, error) {
	db, err := sqlx.Open(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == "sqlite" {
		// One connection keeps in-memory databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, app: app}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate runs the embedded migration files in name order.
func (s *Store) Migrate() error {
	files, err := fs.Glob(migrations, "migrations/*.up.sql")
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		logging.Debug("running migration", zap.String("file", f))
		content, err := migrations.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		for _, stmt := range strings.Split(string(content), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("exec migration %s: %w", f, err)
			}
		}
	}
	return nil
}

func (s *Store) toEntry(r row) (record.Entry, error) {
	content := map[string]any{}
	if err := json.Unmarshal([]byte(r.Content), &content); err != nil {
		return record.Entry{}, fmt.Errorf("decode %s/%s: %w", r.Collection, r.Name, err)
	}
	return record.Entry{
		Name:    r.Name,
		ID:      r.Collection + "/" + r.Name,
		Content: content,
		ACL: record.ACL{
			App:     s.app,
			Owner:   r.ACLOwner,
			Sharing: r.ACLSharing,
			Read:    record.SplitList(r.ACLRead),
			Write:   record.SplitList(r.ACLWrite),
		},
	}, nil
}

// List returns every record of a collection in insertion order.
func (s *Store) List(ctx context.Context, collection string) ([]record.Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_records", time.Since(start)) }()

	var rows []row
	q := s.db.Rebind(selectColumns + ` WHERE collection = ? ORDER BY seq, name`)
	if err := s.db.SelectContext(ctx, &rows, q, collection); err != nil {
		return nil, &gateway.FetchError{Op: "list", Collection: collection, Err: err}
	}

	entries := make([]record.Entry, 0, len(rows))
	for _, r := range rows {
		e, err := s.toEntry(r)
		if err != nil {
			return nil, &gateway.FetchError{Op: "list", Collection: collection, Status: 500, Err: err}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, collection, key string) (record.Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_record", time.Since(start)) }()

	r, err := getRow(ctx, s.db, collection, key)
	if err != nil {
		return record.Entry{}, fetchError("get", collection, key, err)
	}
	e, err := s.toEntry(r)
	if err != nil {
		return record.Entry{}, &gateway.FetchError{Op: "get", Collection: collection, Key: key, Status: 500, Err: err}
	}
	return e, nil
}

// Create inserts a record. A duplicate key yields a ConflictError.
func (s *Store) Create(ctx context.Context, collection string, rec record.Record) (record.Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_record", time.Since(start)) }()

	content, err := json.Marshal(contentOf(collection, rec))
	if err != nil {
		return record.Entry{}, &gateway.FetchError{Op: "create", Collection: collection, Key: rec.Key, Status: 400, Err: err}
	}

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM records WHERE collection = ? AND name = ?`), collection, rec.Key); err != nil {
			return err
		}
		if n > 0 {
			return &gateway.ConflictError{Collection: collection, Key: rec.Key, Message: fmt.Sprintf("An object with name=%s already exists", rec.Key)}
		}
		_, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO records (collection, name, content, seq) VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM records))`),
			collection, rec.Key, string(content))
		return err
	})
	if err != nil {
		return record.Entry{}, fetchError("create", collection, rec.Key, err)
	}

	logging.WithContext(ctx).Debug("record created", zap.String("collection", collection), zap.String("key", rec.Key))
	return s.Get(ctx, collection, rec.Key)
}

// Update merges the record's fields into the stored content. Only the
// password of a credential can change.
func (s *Store) Update(ctx context.Context, collection, key string, rec record.Record) (record.Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update_record", time.Since(start)) }()

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		r, err := getRow(ctx, tx, collection, key)
		if err != nil {
			return err
		}
		content := map[string]any{}
		if err := json.Unmarshal([]byte(r.Content), &content); err != nil {
			return err
		}
		for k, v := range contentOf(collection, rec) {
			if collection == record.Passwords && k != "encr_password" {
				continue
			}
			content[k] = v
		}
		data, err := json.Marshal(content)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE records SET content = ?, updated_at = CURRENT_TIMESTAMP WHERE collection = ? AND name = ?`),
			string(data), collection, key)
		return err
	})
	if err != nil {
		return record.Entry{}, fetchError("update", collection, key, err)
	}
	return s.Get(ctx, collection, key)
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_record", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM records WHERE collection = ? AND name = ?`), collection, key)
	if err != nil {
		return fetchError("delete", collection, key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fetchError("delete", collection, key, sql.ErrNoRows)
	}
	return nil
}

// UpdateACL stores the owner and permissions of a credential.
func (s *Store) UpdateACL(ctx context.Context, collection, key string, acl record.ACL) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update_acl", time.Since(start)) }()

	sharing := acl.Sharing
	if sharing == "" {
		sharing = "global"
	}
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE records SET acl_owner = ?, acl_read = ?, acl_write = ?, acl_sharing = ?, updated_at = CURRENT_TIMESTAMP WHERE collection = ? AND name = ?`),
		acl.Owner, strings.Join(acl.Read, ","), strings.Join(acl.Write, ","), sharing, collection, key)
	if err != nil {
		return fetchError("acl", collection, key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fetchError("acl", collection, key, sql.ErrNoRows)
	}
	return nil
}

// Seed inserts a named option list entry (role or user) if absent.
func (s *Store) Seed(ctx context.Context, collection string, names ...string) error {
	for _, name := range names {
		_, err := s.Create(ctx, collection, record.New(name, nil))
		if _, ok := gateway.AsConflict(err); err != nil && !ok {
			return err
		}
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(string) string
}

func getRow(ctx context.Context, q queryer, collection, key string) (row, error) {
	var r row
	err := sqlx.GetContext(ctx, q, &r, q.Rebind(selectColumns+` WHERE collection = ? AND name = ?`), collection, key)
	return r, err
}

// contentOf converts a record into the stored content. Credentials keep the
// secret under encr_password, like the REST store reports it.
func contentOf(collection string, rec record.Record) map[string]any {
	content := make(map[string]any, len(rec.Fields))
	if collection == record.Passwords {
		for _, k := range []string{record.FieldUsername, record.FieldRealm} {
			content[k] = rec.String(k)
		}
		content["encr_password"] = rec.String(record.FieldPassword)
		return content
	}
	for k, v := range rec.Fields {
		if k == record.FieldStanza {
			continue
		}
		content[k] = v
	}
	return content
}

func fetchError(op, collection, key string, err error) error {
	var ce *gateway.ConflictError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &gateway.FetchError{Op: op, Collection: collection, Key: key, Status: 404, Err: gateway.ErrNotFound}
	}
	return &gateway.FetchError{Op: op, Collection: collection, Key: key, Err: err}
}
