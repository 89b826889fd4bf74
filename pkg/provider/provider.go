// Package provider defines the narrow query surface the resolvers use to reach a
// debug-information store.
//
// The surface mirrors the DIA SDK: a Session hands out Symbol handles, every handle
// answers point attribute reads, and child lookups return an Iterator. There is no
// bulk streaming API. Implementations are not required to be safe for concurrent use.
package provider

import (
	"errors"
)

// SymbolID is the stable numeric id the store assigns to a symbol or type.
type SymbolID uint32

var (
	// ErrNotFound is returned when a lookup by id or address matches nothing.
	ErrNotFound = errors.New("symbol not found")
	// ErrNoAttribute is returned when a symbol does not carry the requested attribute.
	ErrNoAttribute = errors.New("attribute not available")
)

// SearchOptions controls name matching in FindChildren.
type SearchOptions uint32

const (
	// NameSearchNone matches every child when the name filter is empty.
	NameSearchNone SearchOptions = 0
	// NameSearchCaseSensitive requires an exact match.
	NameSearchCaseSensitive SearchOptions = 1 << 0
	// NameSearchCaseInsensitive compares names with Unicode case folding.
	NameSearchCaseInsensitive SearchOptions = 1 << 1
)

// Symbol is a handle to one entry of the symbol graph.
//
// Attribute reads return ErrNoAttribute (possibly wrapped) when the attribute does
// not apply to the symbol's tag.
type Symbol interface {
	ID() (SymbolID, error)
	Tag() (SymTag, error)
	Name() (string, error)
	RVA() (uint32, error)
	Offset() (int32, error)
	Length() (uint64, error)
	TypeID() (SymbolID, error)
	BaseType() (BasicType, error)
	DataKind() (DataKind, error)

	// FindChildren returns the children of this symbol with the given tag
	// (SymTagNull matches all tags) and name (empty matches all names).
	FindChildren(tag SymTag, name string, opts SearchOptions) (Iterator, error)
}

// Iterator walks the result of a child lookup.
type Iterator interface {
	// Count reports the total number of results.
	Count() (int, error)
	// Next returns the next result, or io.EOF once the results are exhausted.
	Next() (Symbol, error)
}

// Session is an open symbol store.
type Session interface {
	// GlobalScope returns the root of the symbol graph.
	GlobalScope() (Symbol, error)
	// SymbolByID resolves a symbol from its numeric id.
	SymbolByID(id SymbolID) (Symbol, error)
	// SymbolByRVA resolves the symbol that contains, or most closely precedes, rva.
	SymbolByRVA(rva uint32, tag SymTag) (Symbol, error)
	// Close releases the store.
	Close() error
}

// Opener opens sessions. The two methods are the two store variants: a debug store
// on disk, and the store matching an executable found through a search path.
type Opener interface {
	OpenFile(path string) (Session, error)
	OpenExecutable(exePath, searchPath string) (Session, error)
}
