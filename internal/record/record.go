// Package record defines configuration records, the collections that hold
// them, and the per-collection schemas used to coerce and validate them.
package record

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Record is one configuration entry. Key (the stanza name) is unique within
// its collection. Field values are scalars: string, bool, or a number.
type Record struct {
	Key    string
	Fields map[string]any
}

// New returns a record with a copy of fields.
func New(key string, fields map[string]any) Record {
	r := Record{Key: key, Fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		r.Fields[k] = v
	}
	return r
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	return New(r.Key, r.Fields)
}

// With returns a copy of the record with one field set.
func (r Record) With(name string, value any) Record {
	c := r.Clone()
	c.Fields[name] = value
	return c
}

// Get returns the raw value of a field.
func (r Record) Get(name string) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// String returns a field rendered as a string, or "" if absent.
func (r Record) String(name string) string {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return ""
	}
	return Stringify(v)
}

// Bool returns a field booleanized.
func (r Record) Bool(name string) bool {
	return Booleanize(r.Fields[name])
}

// IsDefault reports whether the record is flagged as its collection's default.
// Loose encodings such as "true" or 1 count, so a snapshot built by hand
// is judged the same way as one read from the store.
func (r Record) IsDefault() bool {
	return Booleanize(r.Fields[FieldDefault])
}

// Container returns the storage container the profile points at: an SMB
// share, an S3 bucket, or a blob container, in that order of precedence.
func (r Record) Container() string {
	for _, f := range []string{"share_name", "default_s3_bucket", "default_container"} {
		if s := r.String(f); s != "" {
			return s
		}
	}
	return ""
}

// DefaultFolder returns the profile's default folder within its container.
func (r Record) DefaultFolder() string {
	return r.String("default_folder")
}

// MarshalJSON flattens the record into {"stanza": key, field: value...}.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.flat())
}

// MarshalYAML flattens the record the same way as MarshalJSON.
func (r Record) MarshalYAML() (any, error) {
	return r.flat(), nil
}

func (r Record) flat() map[string]any {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[FieldStanza] = r.Key
	return out
}

// FieldNames returns the record's field names in sorted order.
func (r Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Stringify renders a scalar value the way it is submitted to a form.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case []string:
		return strings.Join(t, ",")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Collection is an ordered, named sequence of records. Collections are
// treated as immutable values: every operation that changes one returns a
// new Collection.
type Collection struct {
	Name    string   `json:"name" yaml:"name"`
	Records []Record `json:"records" yaml:"records"`

	// Option lists joined into the passwords collection.
	Roles []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Users []string `json:"users,omitempty" yaml:"users,omitempty"`
}

// Clone returns a deep copy of the collection.
func (c Collection) Clone() Collection {
	out := Collection{
		Name:    c.Name,
		Records: make([]Record, len(c.Records)),
		Roles:   append([]string(nil), c.Roles...),
		Users:   append([]string(nil), c.Users...),
	}
	for i, r := range c.Records {
		out.Records[i] = r.Clone()
	}
	return out
}

// IndexOf returns the position of the record with key, or -1.
func (c Collection) IndexOf(key string) int {
	for i, r := range c.Records {
		if r.Key == key {
			return i
		}
	}
	return -1
}

// Find returns the record with key.
func (c Collection) Find(key string) (Record, bool) {
	if i := c.IndexOf(key); i >= 0 {
		return c.Records[i], true
	}
	return Record{}, false
}

// FindBy returns the first record whose field equals value.
func (c Collection) FindBy(field, value string) (Record, bool) {
	for _, r := range c.Records {
		if r.String(field) == value {
			return r, true
		}
	}
	return Record{}, false
}

// Default returns the record flagged as default, if any.
func (c Collection) Default() (Record, bool) {
	for _, r := range c.Records {
		if r.IsDefault() {
			return r, true
		}
	}
	return Record{}, false
}

// DefaultCount counts records flagged as default.
func (c Collection) DefaultCount() int {
	n := 0
	for _, r := range c.Records {
		if r.IsDefault() {
			n++
		}
	}
	return n
}

// Append returns a copy of the collection with r added at the end.
func (c Collection) Append(r Record) Collection {
	out := c.Clone()
	out.Records = append(out.Records, r.Clone())
	return out
}

// Replace returns a copy of the collection where the record with key is
// replaced by r. If key is absent, r is appended.
func (c Collection) Replace(key string, r Record) Collection {
	out := c.Clone()
	if i := out.IndexOf(key); i >= 0 {
		out.Records[i] = r.Clone()
		return out
	}
	out.Records = append(out.Records, r.Clone())
	return out
}

// Remove returns a copy of the collection without the record with key.
func (c Collection) Remove(key string) Collection {
	out := c.Clone()
	kept := out.Records[:0]
	for _, r := range out.Records {
		if r.Key != key {
			kept = append(kept, r)
		}
	}
	out.Records = kept
	return out
}

// Entry is a record as returned by a remote store, before it is reshaped
// against a schema.
type Entry struct {
	Name    string
	ID      string
	Content map[string]any
	ACL     ACL
}

// ACL is the access control list attached to a remote entry.
type ACL struct {
	App     string   `json:"app"`
	Owner   string   `json:"owner"`
	Sharing string   `json:"sharing"`
	Read    []string `json:"read"`
	Write   []string `json:"write"`
}

// Equal compares owner and permissions, ignoring app and sharing.
func (a ACL) Equal(b ACL) bool {
	return a.Owner == b.Owner && equalStrings(a.Read, b.Read) && equalStrings(a.Write, b.Write)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SplitList splits a comma-separated permission list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
