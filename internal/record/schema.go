package record

import (
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Well-known field names.
const (
	FieldStanza   = "stanza"
	FieldDefault  = "default"
	FieldAlias    = "alias"
	FieldUsername = "username"
	FieldPassword = "password"
	FieldRealm    = "realm"
	FieldOwner    = "owner"
	FieldRead     = "read"
	FieldWrite    = "write"
	FieldSharing  = "sharing"
)

// Passwords is the distinguished credential collection.
const Passwords = "passwords"

// Kind is the value type of a column.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindInt
	KindUUID
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUUID:
		return "uuid"
	default:
		return "string"
	}
}

// Column describes one field of a collection.
type Column struct {
	Name     string
	Kind     Kind
	Required bool
}

// Schema lists the columns of a collection.
type Schema struct {
	Name    string
	Columns []Column

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// Column returns the column with name.
func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether name is a column of the schema.
func (s *Schema) HasColumn(name string) bool {
	_, ok := s.Column(name)
	return ok
}

// ColumnNames returns the column names in declaration order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// CredentialColumns returns the columns that reference a stored credential.
func (s *Schema) CredentialColumns() []string {
	var out []string
	for _, c := range s.Columns {
		if containsCredential(c.Name) {
			out = append(out, c.Name)
		}
	}
	return out
}

// IsPasswords reports whether this is the credential collection.
func (s *Schema) IsPasswords() bool {
	return s.Name == Passwords
}

func str(name string, required bool) Column { return Column{Name: name, Kind: KindString, Required: required} }
func boolean(name string) Column            { return Column{Name: name, Kind: KindBool} }

var (
	registryMu sync.RWMutex
	registry   = map[string]*Schema{}
)

func init() {
	for _, s := range builtin() {
		Register(s)
	}
}

func builtin() []*Schema {
	return []*Schema{
		{Name: "ep_hec", Columns: []Column{
			boolean(FieldDefault),
			str(FieldAlias, true),
			str("host", true),
			{Name: "port", Kind: KindInt},
			{Name: "token", Kind: KindUUID, Required: true},
			boolean("ssl"),
			boolean("ssl_verify"),
		}},
		{Name: "ep_aws_s3", Columns: []Column{
			boolean(FieldDefault),
			str(FieldAlias, true),
			str("credential", false),
			str("region", true),
			str("endpoint_url", false),
			str("default_s3_bucket", false),
			boolean("compress"),
		}},
		{Name: "ep_azure_blob", Columns: []Column{
			boolean(FieldDefault),
			str(FieldAlias, true),
			str("storage_account", true),
			str("credential", false),
			boolean("azure_ad"),
			str("azure_ad_authority", false),
			str("type", false),
			str("default_container", false),
			boolean("compress"),
		}},
		{Name: "ep_box", Columns: []Column{
			boolean(FieldDefault),
			str(FieldAlias, true),
			str("enterprise_id", true),
			str("client_credential", false),
			str("public_key_id", false),
			str("private_key", true),
			str("passphrase_credential", false),
			str("default_folder", false),
			boolean("compress"),
		}},
		{Name: "ep_sftp", Columns: []Column{
			boolean(FieldDefault),
			str(FieldAlias, true),
			str("host", true),
			{Name: "port", Kind: KindInt},
			str("credential", false),
			str("private_key", false),
			str("passphrase_credential", false),
			str("default_folder", false),
			boolean("compress"),
		}},
		{Name: "ep_smb", Columns: []Column{
			boolean(FieldDefault),
			str(FieldAlias, true),
			str("host", true),
			str("credential", false),
			str("share_name", true),
			str("default_folder", false),
			boolean("compress"),
		}},
		{Name: Passwords, Columns: []Column{
			str(FieldUsername, true),
			str(FieldPassword, true),
			str(FieldRealm, false),
			str(FieldOwner, false),
			str(FieldRead, false),
			str(FieldWrite, false),
			str(FieldSharing, false),
		}},
	}
}

// Register adds or replaces a collection schema.
func Register(s *Schema) {
	registryMu.Lock()
	registry[s.Name] = s
	registryMu.Unlock()
}

// Lookup returns the schema for a collection. Unknown collections are a
// validation failure.
func Lookup(name string) (*Schema, error) {
	registryMu.RLock()
	s, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &ValidationError{Field: "collection", Reason: fmt.Sprintf("unknown collection %q", name)}
	}
	return s, nil
}

// Names returns the registered collection names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
