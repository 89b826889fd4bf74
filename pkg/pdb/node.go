package pdb

import (
	"fmt"
	"io"
	"strings"

	"github.com/jtang613/pdbreader/pkg/provider"
)

type attr uint16

const (
	hasRVA attr = 1 << iota
	hasOffset
	hasLength
	hasType
	hasBasic
	hasKind
)

// node is one entry of the symbol graph. Attributes not flagged in attrs
// read back as provider.ErrNoAttribute.
type node struct {
	f      *File
	id     provider.SymbolID
	tag    provider.SymTag
	name   string
	attrs  attr
	rva    uint32
	offset int32
	length uint64
	typ    provider.SymbolID
	basic  provider.BasicType
	kind   provider.DataKind

	// fieldList is the TPI index whose members become the children of a UDT or
	// enum. Zero means the node has no lazily loaded children.
	fieldList uint32
	loaded    bool
	children  []*node
}

var _ provider.Symbol = (*node)(nil)

func (n *node) missing(what string) error {
	return fmt.Errorf("%s of %s %q: %w", what, n.tag, n.name, provider.ErrNoAttribute)
}

func (n *node) ID() (provider.SymbolID, error) { return n.id, nil }

func (n *node) Tag() (provider.SymTag, error) { return n.tag, nil }

func (n *node) Name() (string, error) {
	if n.name == "" {
		return "", n.missing("name")
	}
	return n.name, nil
}

func (n *node) RVA() (uint32, error) {
	if n.attrs&hasRVA == 0 {
		return 0, n.missing("rva")
	}
	return n.rva, nil
}

func (n *node) Offset() (int32, error) {
	if n.attrs&hasOffset == 0 {
		return 0, n.missing("offset")
	}
	return n.offset, nil
}

func (n *node) Length() (uint64, error) {
	if n.attrs&hasLength == 0 {
		return 0, n.missing("length")
	}
	return n.length, nil
}

func (n *node) TypeID() (provider.SymbolID, error) {
	if n.attrs&hasType == 0 {
		return 0, n.missing("type")
	}
	return n.typ, nil
}

func (n *node) BaseType() (provider.BasicType, error) {
	if n.attrs&hasBasic == 0 {
		return 0, n.missing("base type")
	}
	return n.basic, nil
}

func (n *node) DataKind() (provider.DataKind, error) {
	if n.attrs&hasKind == 0 {
		return 0, n.missing("data kind")
	}
	return n.kind, nil
}

func (n *node) FindChildren(tag provider.SymTag, name string, opts provider.SearchOptions) (provider.Iterator, error) {
	var candidates []*node
	switch {
	case n.tag == provider.SymTagExe:
		if err := n.f.loadGlobals(); err != nil {
			return nil, err
		}
		candidates = n.f.globalsNamed(name, opts)
	default:
		if err := n.f.loadChildren(n); err != nil {
			return nil, err
		}
		candidates = n.children
	}

	var out []*node
	for _, c := range candidates {
		if tag != provider.SymTagNull && c.tag != tag {
			continue
		}
		if !nameMatches(c.name, name, opts) {
			continue
		}
		out = append(out, c)
	}
	return &iterator{nodes: out}, nil
}

func nameMatches(have, want string, opts provider.SearchOptions) bool {
	switch {
	case want == "":
		return true
	case opts&provider.NameSearchCaseInsensitive != 0:
		return strings.EqualFold(have, want)
	default:
		return have == want
	}
}

type iterator struct {
	nodes []*node
	pos   int
}

func (it *iterator) Count() (int, error) { return len(it.nodes), nil }

func (it *iterator) Next() (provider.Symbol, error) {
	if it.pos >= len(it.nodes) {
		return nil, io.EOF
	}
	n := it.nodes[it.pos]
	it.pos++
	return n, nil
}
