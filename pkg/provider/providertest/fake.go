// Package providertest provides an in-memory provider.Session for tests.
//
// Symbols are plain structs wired into a tree. Every provider primitive bumps a
// counter in Calls, and individual attribute reads can be made to fail through
// Symbol.Fail.
package providertest

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jtang613/pdbreader/pkg/provider"
)

// Attr selects attribute reads for failure injection.
type Attr uint32

const (
	AttrID Attr = 1 << iota
	AttrTag
	AttrName
	AttrRVA
	AttrOffset
	AttrLength
	AttrType
	AttrBaseType
	AttrDataKind
)

// Calls counts provider round-trips.
type Calls struct {
	FindChildren int
	SymbolByID   int
	SymbolByRVA  int
	Attributes   int
}

// Total is the sum of all counters.
func (c Calls) Total() int {
	return c.FindChildren + c.SymbolByID + c.SymbolByRVA + c.Attributes
}

// Symbol is a fake symbol. Zero-valued attributes read back as zero values unless
// they are listed in Fail.
type Symbol struct {
	SymID    provider.SymbolID
	SymTag   provider.SymTag
	SymName  string
	Addr     uint32
	Off      int32
	Len      uint64
	Type     provider.SymbolID
	Base     provider.BasicType
	Kind     provider.DataKind
	Children []*Symbol

	// Fail lists the attribute reads that return an error.
	Fail Attr
	// FailChildren makes FindChildren on this symbol return an error.
	FailChildren bool

	session *Session
}

var _ provider.Symbol = (*Symbol)(nil)

func (s *Symbol) read(a Attr) error {
	if s.session != nil {
		s.session.Calls.Attributes++
	}
	if s.Fail&a != 0 {
		return fmt.Errorf("read attribute %d of %q: %w", a, s.SymName, provider.ErrNoAttribute)
	}
	return nil
}

func (s *Symbol) ID() (provider.SymbolID, error) {
	return s.SymID, s.read(AttrID)
}

func (s *Symbol) Tag() (provider.SymTag, error) {
	return s.SymTag, s.read(AttrTag)
}

func (s *Symbol) Name() (string, error) {
	return s.SymName, s.read(AttrName)
}

func (s *Symbol) RVA() (uint32, error) {
	return s.Addr, s.read(AttrRVA)
}

func (s *Symbol) Offset() (int32, error) {
	return s.Off, s.read(AttrOffset)
}

func (s *Symbol) Length() (uint64, error) {
	return s.Len, s.read(AttrLength)
}

func (s *Symbol) TypeID() (provider.SymbolID, error) {
	return s.Type, s.read(AttrType)
}

func (s *Symbol) BaseType() (provider.BasicType, error) {
	return s.Base, s.read(AttrBaseType)
}

func (s *Symbol) DataKind() (provider.DataKind, error) {
	return s.Kind, s.read(AttrDataKind)
}

func (s *Symbol) FindChildren(tag provider.SymTag, name string, opts provider.SearchOptions) (provider.Iterator, error) {
	if s.session != nil {
		s.session.Calls.FindChildren++
	}
	if s.FailChildren {
		return nil, fmt.Errorf("find children of %q: injected failure", s.SymName)
	}
	var out []provider.Symbol
	for _, c := range s.Children {
		if tag != provider.SymTagNull && c.SymTag != tag {
			continue
		}
		if name != "" {
			if opts&provider.NameSearchCaseInsensitive != 0 {
				if !strings.EqualFold(c.SymName, name) {
					continue
				}
			} else if c.SymName != name {
				continue
			}
		}
		out = append(out, c)
	}
	return &Iterator{items: out}, nil
}

// Iterator is a slice-backed provider.Iterator.
type Iterator struct {
	items []provider.Symbol
	pos   int
}

func (it *Iterator) Count() (int, error) {
	return len(it.items), nil
}

func (it *Iterator) Next() (provider.Symbol, error) {
	if it.pos >= len(it.items) {
		return nil, io.EOF
	}
	s := it.items[it.pos]
	it.pos++
	return s, nil
}

// Session is a fake provider.Session rooted at Global.
type Session struct {
	Global *Symbol
	Calls  Calls
	Closed bool

	byID   map[provider.SymbolID]*Symbol
	nextID provider.SymbolID
}

var _ provider.Session = (*Session)(nil)

// NewSession returns a session with an empty global scope.
func NewSession() *Session {
	s := &Session{byID: make(map[provider.SymbolID]*Symbol), nextID: 1}
	s.Global = &Symbol{SymTag: provider.SymTagExe, SymName: "global"}
	s.register(s.Global)
	return s
}

func (s *Session) register(sym *Symbol) {
	sym.session = s
	if sym.SymID == 0 {
		for s.byID[s.nextID] != nil {
			s.nextID++
		}
		sym.SymID = s.nextID
		s.nextID++
	}
	s.byID[sym.SymID] = sym
}

// Add attaches sym as a child of parent (the global scope when parent is nil),
// assigns it an id when it has none, and returns it.
func (s *Session) Add(parent, sym *Symbol) *Symbol {
	if parent == nil {
		parent = s.Global
	}
	s.register(sym)
	parent.Children = append(parent.Children, sym)
	return sym
}

// AddType registers a symbol reachable only by id, such as a type.
func (s *Session) AddType(sym *Symbol) *Symbol {
	s.register(sym)
	return sym
}

// ResetCalls zeroes the call counters.
func (s *Session) ResetCalls() {
	s.Calls = Calls{}
}

func (s *Session) GlobalScope() (provider.Symbol, error) {
	return s.Global, nil
}

func (s *Session) SymbolByID(id provider.SymbolID) (provider.Symbol, error) {
	s.Calls.SymbolByID++
	sym, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("symbol id %d: %w", id, provider.ErrNotFound)
	}
	return sym, nil
}

// SymbolByRVA returns the global child with the greatest address not above rva.
func (s *Session) SymbolByRVA(rva uint32, tag provider.SymTag) (provider.Symbol, error) {
	s.Calls.SymbolByRVA++
	var candidates []*Symbol
	for _, c := range s.Global.Children {
		if tag != provider.SymTagNull && c.SymTag != tag {
			continue
		}
		if c.Addr != 0 && c.Addr <= rva {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("rva %#x: %w", rva, provider.ErrNotFound)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Addr > candidates[j].Addr })
	return candidates[0], nil
}

func (s *Session) Close() error {
	s.Closed = true
	return nil
}

// Opener hands out a prepared session for both store variants.
type Opener struct {
	Session *Session
	Err     error

	Files       []string
	Executables []string
}

func (o *Opener) OpenFile(path string) (provider.Session, error) {
	o.Files = append(o.Files, path)
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Session, nil
}

func (o *Opener) OpenExecutable(exePath, searchPath string) (provider.Session, error) {
	o.Executables = append(o.Executables, exePath+"|"+searchPath)
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Session, nil
}
