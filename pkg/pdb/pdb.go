// Package pdb reads Microsoft PDB files and exposes them as a provider.Session.
package pdb

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/jtang613/pdbreader/pkg/pdb/codeview"
	"github.com/jtang613/pdbreader/pkg/pdb/msf"
	"github.com/jtang613/pdbreader/pkg/pdb/streams"
	"github.com/jtang613/pdbreader/pkg/provider"
)

// Fixed stream indices.
const (
	StreamPDB = 1
	StreamTPI = 2
	StreamDBI = 3
	StreamIPI = 4
)

// File is an opened PDB. It is not safe for concurrent use.
type File struct {
	msf      *msf.File
	name     string
	log      zerolog.Logger
	pdbInfo  *streams.PDBInfo
	tpi      *streams.TPIStream
	dbi      *streams.DBIStream
	sections []streams.SectionHeader
	namer    codeview.Namer

	global  *node
	firstID provider.SymbolID
	nodes   []*node
	types   map[uint32]*node

	// definitions maps class and enum names to the TPI index of their
	// complete record, for resolving forward references.
	definitions map[string]uint32

	globalsLoaded bool
	globals       []*node
	byName        map[string][]*node
	byFoldedName  map[string][]*node
	byAddress     []*node
}

var _ provider.Session = (*File)(nil)

// Option configures a File.
type Option func(*File)

// WithLogger sets the logger used for parse diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(f *File) { f.log = l }
}

// Open opens the PDB at path on the local file system.
func Open(path string, opts ...Option) (*File, error) {
	return OpenFs(afero.NewOsFs(), path, opts...)
}

// OpenFs opens the PDB at path on fs.
func OpenFs(fs afero.Fs, path string, opts ...Option) (*File, error) {
	m, err := msf.Open(fs, path)
	if err != nil {
		return nil, err
	}
	f, err := newFile(m, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), opts...)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func newFile(m *msf.File, name string, opts ...Option) (*File, error) {
	f := &File{
		msf:         m,
		name:        name,
		log:         zerolog.Nop(),
		types:       make(map[uint32]*node),
		definitions: make(map[string]uint32),
	}
	for _, opt := range opts {
		opt(f)
	}

	data, err := f.stream(StreamPDB)
	if err != nil {
		return nil, err
	}
	if f.pdbInfo, err = streams.ReadPDBInfo(data); err != nil {
		return nil, err
	}

	if data, err = f.stream(StreamTPI); err != nil {
		return nil, err
	}
	if f.tpi, err = streams.ReadTPIStream(data); err != nil {
		return nil, err
	}
	f.namer = codeview.Namer{TPI: f.tpi}

	if data, err = f.stream(StreamDBI); err != nil {
		return nil, err
	}
	if f.dbi, err = streams.ReadDBIStream(data); err != nil {
		return nil, err
	}
	if idx, ok := f.dbi.DebugStream(streams.DbgSectionHdr); ok {
		if data, err = f.stream(idx); err != nil {
			return nil, err
		}
		if f.sections, err = streams.ReadSectionHeaders(data); err != nil {
			return nil, err
		}
	}

	f.firstID = provider.SymbolID(max(f.tpi.Header.TypeIndexEnd, streams.TypeIndexBegin))
	f.global = f.newNode(&node{tag: provider.SymTagExe, name: name})
	f.indexDefinitions()

	f.log.Debug().
		Str("guid", f.pdbInfo.GUIDString()).
		Uint32("age", f.pdbInfo.Age).
		Int("types", len(f.tpi.Records)).
		Int("modules", len(f.dbi.Modules)).
		Int("sections", len(f.sections)).
		Msg("opened pdb")
	return f, nil
}

func (f *File) stream(i int) ([]byte, error) {
	if i >= f.msf.NumStreams() {
		return nil, fmt.Errorf("stream %d missing (%d streams)", i, f.msf.NumStreams())
	}
	data, err := f.msf.ReadStream(i)
	if err != nil {
		return nil, fmt.Errorf("read stream %d: %w", i, err)
	}
	return data, nil
}

// Close releases the underlying file.
func (f *File) Close() error {
	return f.msf.Close()
}

// GlobalScope returns the root of the symbol graph.
func (f *File) GlobalScope() (provider.Symbol, error) {
	return f.global, nil
}

// SymbolByID resolves ids below the first node id as type indices.
func (f *File) SymbolByID(id provider.SymbolID) (provider.Symbol, error) {
	if id < f.firstID {
		n, err := f.typeNode(uint32(id))
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	i := int(id - f.firstID)
	if i >= len(f.nodes) {
		return nil, fmt.Errorf("symbol id %d: %w", id, provider.ErrNotFound)
	}
	return f.nodes[i], nil
}

// SymbolByRVA returns the closest symbol at or before rva with the given tag.
// SymTagNull matches any addressed symbol.
func (f *File) SymbolByRVA(rva uint32, tag provider.SymTag) (provider.Symbol, error) {
	if err := f.loadGlobals(); err != nil {
		return nil, err
	}
	n := f.nearest(rva, tag)
	if n == nil {
		return nil, fmt.Errorf("rva %#x: %w", rva, provider.ErrNotFound)
	}
	return n, nil
}

func (f *File) newNode(n *node) *node {
	n.f = f
	n.id = f.firstID + provider.SymbolID(len(f.nodes))
	f.nodes = append(f.nodes, n)
	return n
}

// rvaOf translates a section:offset pair through the section headers.
func (f *File) rvaOf(segment uint16, offset uint32) (uint32, bool) {
	if segment == 0 || int(segment) > len(f.sections) {
		return 0, false
	}
	return f.sections[segment-1].VirtualAddress + offset, true
}
