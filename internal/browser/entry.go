package browser

import (
	"strconv"
	"strings"
	"time"

	"github.com/deductiv/export-everything-sub000/internal/record"
)

// FileEntry is one item of a directory listing. Listers may add fields
// beyond id, name, isDir and modDate; they are kept as received.
type FileEntry map[string]any

// ID returns the entry id.
func (f FileEntry) ID() string { return f.str("id") }

// Name returns the display name, falling back to the last id segment.
func (f FileEntry) Name() string {
	if n := f.str("name"); n != "" {
		return n
	}
	parts := strings.Split(strings.Trim(f.ID(), "/"), "/")
	return parts[len(parts)-1]
}

// IsDir reports whether the entry is a folder.
func (f FileEntry) IsDir() bool {
	return record.Booleanize(f["isDir"])
}

// Node converts a folder entry into a chain node.
func (f FileEntry) Node() ChainNode {
	return ChainNode{ID: f.ID(), Name: f.Name(), IsDir: true}
}

func (f FileEntry) str(k string) string {
	if v, ok := f[k]; ok && v != nil {
		return record.Stringify(v)
	}
	return ""
}

// OpenEntry returns the descriptor that opens a folder entry: its id with
// exactly one trailing slash.
func OpenEntry(f FileEntry) Descriptor {
	return ParseDescriptor(strings.TrimRight(f.ID(), "/") + "/")
}

const isoMillis = "2006-01-02T15:04:05.000Z"

// normalizeModDate returns a copy of f with modDate in epoch seconds turned
// into an ISO-8601 UTC string. Zero means unknown and removes the field.
// Values that are not numeric are left alone.
func normalizeModDate(f FileEntry) FileEntry {
	out := make(FileEntry, len(f))
	for k, v := range f {
		out[k] = v
	}
	v, ok := out["modDate"]
	if !ok {
		return out
	}
	secs, ok := epochSeconds(v)
	if !ok {
		return out
	}
	if secs == 0 {
		delete(out, "modDate")
		return out
	}
	out["modDate"] = time.UnixMilli(int64(secs * 1000)).UTC().Format(isoMillis)
	return out
}

func epochSeconds(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		if strings.TrimSpace(t) == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
