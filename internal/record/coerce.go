package record

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Booleanize converts the loose boolean encodings used by the configuration
// store. true, 1, "true", "1", "on" and "yes" (any case) are true.
func Booleanize(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t == 1
	case int64:
		return t == 1
	case float64:
		return t == 1
	case json.Number:
		return t.String() == "1"
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "on", "yes":
			return true
		}
	}
	return false
}

// Coerce booleanizes the boolean columns of rec. Other fields are left as is.
func Coerce(s *Schema, rec Record) Record {
	out := rec.Clone()
	for _, c := range s.Columns {
		if c.Kind != KindBool {
			continue
		}
		if v, ok := out.Fields[c.Name]; ok {
			out.Fields[c.Name] = Booleanize(v)
		}
	}
	return out
}

// FillMissing sets every schema column absent from rec to "". Boolean
// columns are filled with false so cleared checkboxes still reach the store.
func FillMissing(s *Schema, rec Record) Record {
	out := rec.Clone()
	for _, c := range s.Columns {
		if _, ok := out.Fields[c.Name]; ok {
			continue
		}
		if c.Kind == KindBool {
			out.Fields[c.Name] = false
		} else {
			out.Fields[c.Name] = ""
		}
	}
	return out
}

// FromEntry reshapes a store entry into a record keyed by the entry name.
// Only schema columns are kept and boolean columns are booleanized.
func FromEntry(s *Schema, e Entry) Record {
	if s.IsPasswords() {
		return passwordFromEntry(e)
	}
	rec := Record{Key: e.Name, Fields: make(map[string]any)}
	for k, v := range e.Content {
		c, ok := s.Column(k)
		if !ok {
			continue
		}
		if c.Kind == KindBool {
			v = Booleanize(v)
		}
		rec.Fields[k] = v
	}
	return rec
}

func passwordFromEntry(e Entry) Record {
	str := func(k string) string {
		if v, ok := e.Content[k]; ok && v != nil {
			return Stringify(v)
		}
		return ""
	}
	return Record{Key: e.Name, Fields: map[string]any{
		FieldUsername: str("username"),
		FieldPassword: str("encr_password"),
		FieldRealm:    str("realm"),
		FieldSharing:  e.ACL.Sharing,
		FieldOwner:    e.ACL.Owner,
		FieldRead:     strings.Join(e.ACL.Read, ","),
		FieldWrite:    strings.Join(e.ACL.Write, ","),
	}}
}

// DesiredACL returns the ACL a password record asks for.
func DesiredACL(rec Record) ACL {
	return ACL{
		Owner:   rec.String(FieldOwner),
		Sharing: "global",
		Read:    SplitList(rec.String(FieldRead)),
		Write:   SplitList(rec.String(FieldWrite)),
	}
}

// Form encodes the record fields as form values. The stanza is never sent.
func Form(rec Record) url.Values {
	v := url.Values{}
	for _, name := range rec.FieldNames() {
		if name == FieldStanza {
			continue
		}
		v.Set(name, Stringify(rec.Fields[name]))
	}
	return v
}

func containsCredential(name string) bool {
	return strings.Contains(name, "credential")
}
