package record

import (
	"strings"

	"github.com/google/uuid"
)

// NewKey assigns the stanza key for a record about to be created.
// Credentials are keyed "realm:username:", everything else by a random UUID.
func NewKey(s *Schema, rec Record) string {
	if s.IsPasswords() {
		return PasswordKey(rec.String(FieldRealm), rec.String(FieldUsername))
	}
	return uuid.NewString()
}

// PasswordKey builds the stanza name the credential store uses.
func PasswordKey(realm, username string) string {
	return realm + ":" + username + ":"
}

// TrimPasswordKey strips the trailing ':' (or its escaped form) from a
// credential key, which is how the store addresses it in URLs.
func TrimPasswordKey(key string) string {
	for {
		switch {
		case strings.HasSuffix(key, ":"):
			key = key[:len(key)-1]
		case len(key) >= 3 && strings.EqualFold(key[len(key)-3:], "%3A"):
			key = key[:len(key)-3]
		default:
			return key
		}
	}
}
