package eai

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/deductiv/export-everything-sub000/internal/gateway"
	"github.com/deductiv/export-everything-sub000/internal/record"
)

// response is the JSON body of an EAI endpoint. Presentation fields such
// as links, updated and removable are not decoded.
type response struct {
	Entry    []entry   `json:"entry"`
	Messages []message `json:"messages"`
}

type entry struct {
	Name    string         `json:"name"`
	ID      string         `json:"id"`
	Content map[string]any `json:"content"`
	ACL     struct {
		App     string `json:"app"`
		Owner   string `json:"owner"`
		Sharing string `json:"sharing"`
		Perms   struct {
			Read  []string `json:"read"`
			Write []string `json:"write"`
		} `json:"perms"`
	} `json:"acl"`
}

type message struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (e entry) toRecord() record.Entry {
	return record.Entry{
		Name:    e.Name,
		ID:      e.ID,
		Content: e.Content,
		ACL: record.ACL{
			App:     e.ACL.App,
			Owner:   e.ACL.Owner,
			Sharing: e.ACL.Sharing,
			Read:    e.ACL.Perms.Read,
			Write:   e.ACL.Perms.Write,
		},
	}
}

func (r *response) entries() []record.Entry {
	out := make([]record.Entry, 0, len(r.Entry))
	for _, e := range r.Entry {
		out = append(out, e.toRecord())
	}
	return out
}

func (r *response) first(collection, key string) (record.Entry, error) {
	if len(r.Entry) == 0 {
		return record.Entry{}, &gateway.FetchError{Op: "decode", Collection: collection, Key: key, Status: 200, Err: gateway.ErrNotFound}
	}
	return r.Entry[0].toRecord(), nil
}

// messageText extracts the error text from an EAI error body, falling back
// to the raw body.
func messageText(data []byte) string {
	var resp response
	if err := json.Unmarshal(data, &resp); err == nil && len(resp.Messages) > 0 {
		texts := make([]string, 0, len(resp.Messages))
		for _, m := range resp.Messages {
			texts = append(texts, m.Text)
		}
		return strings.Join(texts, "; ")
	}
	return strings.TrimSpace(string(data))
}

// storeError reports whether data is the store's own error body, a
// "messages" list with no listing envelope fields, and returns its text.
func storeError(data []byte) (string, bool) {
	var body struct {
		Messages []message `json:"messages"`
		Error    any       `json:"error"`
		Payload  any       `json:"payload"`
	}
	if err := json.Unmarshal(data, &body); err != nil || len(body.Messages) == 0 {
		return "", false
	}
	if body.Error != nil || body.Payload != nil {
		return "", false
	}
	return messageText(data), true
}

func bodyOrStatusText(status int, data []byte) string {
	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return http.StatusText(status)
}
