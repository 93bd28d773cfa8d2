// Package browser reconstructs breadcrumb chains for remote folders and
// runs directory listings through a gateway.DirectoryLister.
package browser

import "strings"

// ChainNode is one breadcrumb segment.
type ChainNode struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	IsDir bool   `json:"isDir" yaml:"isDir"`
}

// Root is the first node of every chain.
var Root = ChainNode{ID: "/", Name: "/", IsDir: true}

// ChainOptions adjusts chain building for a collection.
type ChainOptions struct {
	// SuppressContainer keeps the container node out of the chain when no
	// folder is given.
	SuppressContainer bool
}

// BuildChain returns the breadcrumb chain for desc. prev and listing are
// the chain and listing currently displayed; they are read, never
// modified, and the result shares no backing array with them.
func BuildChain(container string, desc Descriptor, prev []ChainNode, listing []FileEntry, opts ChainOptions) []ChainNode {
	if container == "" {
		container = "/"
	}

	switch desc.Kind {
	case IDDescriptor:
		return idChain(desc, prev, listing)
	case PathDescriptor:
		return pathChain(desc, prev)
	}

	chain := []ChainNode{Root}
	if container != "/" && !opts.SuppressContainer {
		name := strings.Trim(container, "/")
		chain = append(chain, ChainNode{ID: collapse("/" + container + "/"), Name: name, IsDir: true})
	}
	return chain
}

// idChain replays prev up to the node carrying the id. A target that is not
// an ancestor is looked up in listing; failing that a node is made up from
// the token so the query still addresses it.
func idChain(desc Descriptor, prev []ChainNode, listing []FileEntry) []ChainNode {
	token := desc.Token()
	matches := func(id string) bool { return id == token || id == desc.Value }

	var chain []ChainNode
	if len(prev) == 0 {
		chain = []ChainNode{Root}
	}
	for _, n := range prev {
		chain = append(chain, n)
		if matches(n.ID) {
			return chain
		}
	}

	for _, f := range listing {
		if matches(f.ID()) {
			return append(chain, f.Node())
		}
	}
	return append(chain, ChainNode{ID: token, Name: token, IsDir: true})
}

// pathChain builds one node per path segment with cumulative ids. If prev
// already holds the target it is truncated there instead.
func pathChain(desc Descriptor, prev []ChainNode) []ChainNode {
	segments := desc.Segments()
	target := "/"
	if len(segments) > 0 {
		target = "/" + strings.Join(segments, "/") + "/"
	}

	for i, n := range prev {
		if n.ID == target {
			return append([]ChainNode(nil), prev[:i+1]...)
		}
	}

	chain := make([]ChainNode, 0, len(segments)+1)
	chain = append(chain, Root)
	id := "/"
	for _, s := range segments {
		id += s + "/"
		chain = append(chain, ChainNode{ID: id, Name: s, IsDir: true})
	}
	return chain
}

// QueryFolder returns the folder a chain addresses: the last node's id with
// a trailing slash.
func QueryFolder(chain []ChainNode) string {
	if len(chain) == 0 {
		return "/"
	}
	return collapse(chain[len(chain)-1].ID + "/")
}
