package browser

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/deductiv/export-everything-sub000/internal/gateway"
	"github.com/deductiv/export-everything-sub000/internal/record"
)

// Default JSONPath expressions for the listing responses seen in the wild.
// Payload paths are tried in order; "$" accepts a bare listing.
var (
	DefaultPayloadPaths = []string{
		"$.entry[0].content[0].payload",
		"$[0].payload",
		"$.payload",
		"$",
	}
	DefaultErrorPaths = []string{
		"$.error",
		"$[*].error",
		"$.entry[?(@.title == 'error')].content",
	}
	DefaultStatusPaths = []string{
		"$.status",
		"$[*].status",
		"$.entry[?(@.title == 'status')].content",
	}
)

// maxNesting bounds how often a payload string may hold another envelope.
const maxNesting = 3

// EnvelopeSchema locates the listing, the error message and the status in a
// directory listing response.
type EnvelopeSchema struct {
	payload []jp.Expr
	errors  []jp.Expr
	status  []jp.Expr
}

// NewEnvelopeSchema compiles the given JSONPath lists. An empty list selects
// the matching default.
func NewEnvelopeSchema(payloadPaths, errorPaths, statusPaths []string) (*EnvelopeSchema, error) {
	var s EnvelopeSchema
	var err error
	if s.payload, err = compilePaths(payloadPaths, DefaultPayloadPaths); err != nil {
		return nil, err
	}
	if s.errors, err = compilePaths(errorPaths, DefaultErrorPaths); err != nil {
		return nil, err
	}
	if s.status, err = compilePaths(statusPaths, DefaultStatusPaths); err != nil {
		return nil, err
	}
	return &s, nil
}

// DefaultEnvelopeSchema returns the schema built from the default paths.
func DefaultEnvelopeSchema() *EnvelopeSchema {
	s, err := NewEnvelopeSchema(nil, nil, nil)
	if err != nil {
		panic(err)
	}
	return s
}

func compilePaths(paths, defaults []string) ([]jp.Expr, error) {
	if len(paths) == 0 {
		paths = defaults
	}
	out := make([]jp.Expr, 0, len(paths))
	for _, p := range paths {
		x, err := jp.ParseString(p)
		if err != nil {
			return nil, fmt.Errorf("invalid jsonpath '%s': %w", p, err)
		}
		out = append(out, x)
	}
	return out, nil
}

// Decode extracts the listing from a response body. An error envelope, a
// body that is not JSON or a shape no path matches yields a
// *gateway.ListingError.
func (s *EnvelopeSchema) Decode(body []byte) ([]FileEntry, error) {
	return s.decode(body, 0)
}

func (s *EnvelopeSchema) decode(body []byte, depth int) ([]FileEntry, error) {
	if depth > maxNesting {
		return nil, &gateway.ListingError{Message: "listing envelope nested too deeply"}
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, &gateway.ListingError{Message: "empty listing response"}
	}
	root, err := oj.Parse(body)
	if err != nil {
		return nil, &gateway.ListingError{Message: "malformed listing response", Err: err}
	}

	if msg, ok := first(s.errors, root); ok {
		le := &gateway.ListingError{Message: record.Stringify(msg), Remote: true}
		if st, ok := first(s.status, root); ok {
			le.Status = statusCode(st)
		}
		return nil, le
	}

	for _, x := range s.payload {
		for _, v := range x.Get(root) {
			switch t := v.(type) {
			case string:
				return s.decode([]byte(t), depth+1)
			case []any:
				return entries(t)
			}
		}
	}
	return nil, &gateway.ListingError{Message: "unrecognized listing envelope"}
}

// first returns the first non-empty value any of the expressions selects.
func first(exprs []jp.Expr, root any) (any, bool) {
	for _, x := range exprs {
		for _, v := range x.Get(root) {
			if v == nil {
				continue
			}
			if str, ok := v.(string); ok && str == "" {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

func statusCode(v any) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		var n int
		if _, err := fmt.Sscanf(t, "%d", &n); err == nil {
			return n
		}
	}
	return 0
}

func entries(items []any) ([]FileEntry, error) {
	out := make([]FileEntry, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, &gateway.ListingError{Message: fmt.Sprintf("listing item %d is not an object", i)}
		}
		out = append(out, normalizeModDate(FileEntry(m)))
	}
	return out, nil
}
