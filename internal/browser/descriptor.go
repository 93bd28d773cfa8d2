package browser

import (
	"regexp"
	"strings"
)

// DescriptorKind tells how a folder descriptor addresses a folder.
type DescriptorKind int

const (
	// EmptyDescriptor means the container root.
	EmptyDescriptor DescriptorKind = iota
	// PathDescriptor is a slash-delimited path such as "/bucket/a/b/".
	PathDescriptor
	// IDDescriptor is a container-specific folder id such as "12345/".
	IDDescriptor
)

func (k DescriptorKind) String() string {
	switch k {
	case PathDescriptor:
		return "path"
	case IDDescriptor:
		return "id"
	default:
		return "empty"
	}
}

var idPattern = regexp.MustCompile(`^[0-9]+/$`)

// Descriptor is a folder descriptor classified once, where it enters the
// program.
type Descriptor struct {
	Kind  DescriptorKind
	Value string
}

// ParseDescriptor classifies s. Digits followed by one slash are an id;
// any other non-empty string is a path.
func ParseDescriptor(s string) Descriptor {
	switch {
	case s == "":
		return Descriptor{Kind: EmptyDescriptor}
	case idPattern.MatchString(s):
		return Descriptor{Kind: IDDescriptor, Value: s}
	default:
		return Descriptor{Kind: PathDescriptor, Value: s}
	}
}

// String returns the descriptor as the caller supplied it.
func (d Descriptor) String() string { return d.Value }

// Token returns an id descriptor without its trailing slash.
func (d Descriptor) Token() string {
	return strings.TrimSuffix(d.Value, "/")
}

var (
	backslashes = regexp.MustCompile(`\\+`)
	slashes     = regexp.MustCompile(`/+`)
)

// Segments returns the non-empty components of a path descriptor.
// Backslashes count as separators and repeated separators collapse.
func (d Descriptor) Segments() []string {
	p := backslashes.ReplaceAllString(d.Value, "/")
	p = strings.Trim(slashes.ReplaceAllString(p, "/"), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// collapse replaces runs of slashes with a single one.
func collapse(p string) string {
	return slashes.ReplaceAllString(p, "/")
}
