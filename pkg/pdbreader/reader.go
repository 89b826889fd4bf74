// Package pdbreader resolves symbol addresses, struct layouts and type descriptions
// from a debug-information store, caching every answer for the life of the session.
//
// A Reader is not safe for concurrent use. Callers that need parallelism serialize
// access or open one Reader per goroutine.
package pdbreader

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/jtang613/pdbreader/pkg/provider"
)

// Reader owns one provider session and the caches built on top of it.
type Reader struct {
	session provider.Session
	global  provider.Symbol
	logger  zerolog.Logger
	metrics *Metrics

	symbols   map[string]SymbolAddress
	types     map[provider.SymbolID]TypeInfo
	fields    map[provider.SymbolID][]FieldInfo
	resolving map[provider.SymbolID]struct{}

	functions      []FunctionIndexEntry
	functionsBuilt bool
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger used for cache misses and soft failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// WithMetrics records cache hits and misses.
func WithMetrics(m *Metrics) Option {
	return func(r *Reader) {
		r.metrics = m
	}
}

// New wraps an open session. The Reader takes ownership and closes the session
// in Close.
func New(session provider.Session, opts ...Option) (*Reader, error) {
	if session == nil {
		return nil, errors.New("could not open session: nil session")
	}
	global, err := session.GlobalScope()
	if err != nil {
		return nil, fmt.Errorf("could not get global scope: %w", err)
	}

	r := &Reader{
		session:   session,
		global:    global,
		logger:    zerolog.Nop(),
		symbols:   make(map[string]SymbolAddress),
		types:     make(map[provider.SymbolID]TypeInfo),
		fields:    make(map[provider.SymbolID][]FieldInfo),
		resolving: make(map[provider.SymbolID]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Open opens the debug store at path.
func Open(opener provider.Opener, path string, opts ...Option) (*Reader, error) {
	session, err := opener.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not load pdb file %s: %w", path, err)
	}
	r, err := New(session, opts...)
	if err != nil {
		session.Close()
		return nil, err
	}
	return r, nil
}

// OpenForExecutable opens the debug store matching exePath, looked up through
// searchPath (for example "srv*C:\\symbols*").
func OpenForExecutable(opener provider.Opener, exePath, searchPath string, opts ...Option) (*Reader, error) {
	session, err := opener.OpenExecutable(exePath, searchPath)
	if err != nil {
		return nil, fmt.Errorf("could not load pdb file for %s: %w", exePath, err)
	}
	r, err := New(session, opts...)
	if err != nil {
		session.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the provider session. Cached results stay readable.
func (r *Reader) Close() error {
	return r.session.Close()
}

// requireUnique returns the single result of a lookup. No results, several
// results, or any provider error all report false.
func requireUnique(it provider.Iterator, err error) (provider.Symbol, bool) {
	if err != nil || it == nil {
		return nil, false
	}
	count, err := it.Count()
	if err != nil || count != 1 {
		return nil, false
	}
	sym, err := it.Next()
	if err != nil {
		return nil, false
	}
	return sym, true
}

// each calls fn for every result of it, stopping at the first error fn returns.
func each(it provider.Iterator, fn func(provider.Symbol) error) error {
	for {
		sym, err := it.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(sym); err != nil {
			return err
		}
	}
}
