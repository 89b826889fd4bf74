package pdb

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/jtang613/pdbreader/pkg/pdb/codeview"
	"github.com/jtang613/pdbreader/pkg/pdb/streams"
	"github.com/jtang613/pdbreader/pkg/provider"
)

// loadGlobals builds the children of the global scope: procedures from the
// module streams, data, publics and typedefs from the symbol record stream,
// and every complete class and enum from the TPI stream.
func (f *File) loadGlobals() error {
	if f.globalsLoaded {
		return nil
	}

	var globals []*node
	type procKey struct {
		name string
		rva  uint32
	}
	seen := make(map[procKey]bool)

	for i := range f.dbi.Modules {
		mod := &f.dbi.Modules[i]
		if !mod.HasSymbols() {
			continue
		}
		data, err := f.stream(int(mod.ModuleSymStream))
		if err != nil {
			return fmt.Errorf("module %s: %w", mod.ModuleName, err)
		}
		if uint32(len(data)) > mod.SymByteSize {
			data = data[:mod.SymByteSize]
		}
		for _, rec := range codeview.ParseSymbols(data) {
			if !codeview.IsProcSymbol(rec.Kind) {
				continue
			}
			proc, err := codeview.ParseProcSym(rec.Data)
			if err != nil {
				f.log.Warn().Err(err).Str("module", mod.ModuleName).Uint32("offset", rec.Offset).Msg("skipping procedure")
				continue
			}
			n := &node{tag: provider.SymTagFunction, name: proc.Name, attrs: hasLength, length: uint64(proc.Length)}
			if rva, ok := f.rvaOf(proc.Segment, proc.Offset); ok {
				n.rva, n.attrs = rva, n.attrs|hasRVA
			}
			if rec.Kind == codeview.S_GPROC32 || rec.Kind == codeview.S_LPROC32 {
				n.typ, n.attrs = provider.SymbolID(proc.TypeIndex), n.attrs|hasType
			}
			key := procKey{proc.Name, n.rva}
			if seen[key] {
				continue
			}
			seen[key] = true
			globals = append(globals, f.newNode(n))
		}
	}

	if f.dbi.Header.SymRecordStream != streams.NilStream {
		data, err := f.stream(int(f.dbi.Header.SymRecordStream))
		if err != nil {
			return fmt.Errorf("symbol records: %w", err)
		}
		for _, rec := range codeview.ParseSymbols(data) {
			n, err := f.globalRecord(rec)
			if err != nil {
				f.log.Warn().Err(err).Str("kind", codeview.SymbolKindName(rec.Kind)).Uint32("offset", rec.Offset).Msg("skipping symbol")
				continue
			}
			if n != nil {
				globals = append(globals, f.newNode(n))
			}
		}
	}

	for i := range f.tpi.Records {
		rec := &f.tpi.Records[i]
		if !isUserType(rec.Kind) || f.isForwardRef(rec) {
			continue
		}
		n, err := f.typeNode(rec.Index)
		if err != nil {
			f.log.Warn().Err(err).Uint32("index", rec.Index).Msg("skipping type")
			continue
		}
		globals = append(globals, n)
	}

	f.indexGlobals(globals)
	f.globalsLoaded = true
	f.log.Debug().Int("symbols", len(globals)).Int("addressed", len(f.byAddress)).Msg("loaded global scope")
	return nil
}

// globalRecord converts one record of the symbol record stream. It returns a
// nil node for kinds that do not belong to the global scope.
func (f *File) globalRecord(rec codeview.SymbolRecord) (*node, error) {
	switch {
	case codeview.IsDataSymbol(rec.Kind):
		sym, err := codeview.ParseDataSym(rec.Data)
		if err != nil {
			return nil, err
		}
		n := &node{tag: provider.SymTagData, name: sym.Name, attrs: hasType | hasKind, typ: provider.SymbolID(sym.TypeIndex)}
		switch rec.Kind {
		case codeview.S_GDATA32, codeview.S_GTHREAD32:
			n.kind = provider.DataIsGlobal
		default:
			n.kind = provider.DataIsFileStatic
		}
		// Thread-local offsets are relative to the TLS block.
		if rec.Kind == codeview.S_GDATA32 || rec.Kind == codeview.S_LDATA32 {
			if rva, ok := f.rvaOf(sym.Segment, sym.Offset); ok {
				n.rva, n.attrs = rva, n.attrs|hasRVA
			}
		}
		return n, nil

	case rec.Kind == codeview.S_PUB32:
		pub, err := codeview.ParsePubSym(rec.Data)
		if err != nil {
			return nil, err
		}
		n := &node{tag: provider.SymTagPublicSymbol, name: pub.Name}
		if rva, ok := f.rvaOf(pub.Segment, pub.Offset); ok {
			n.rva, n.attrs = rva, hasRVA
		}
		return n, nil

	case rec.Kind == codeview.S_UDT:
		udt, err := codeview.ParseUDTSym(rec.Data)
		if err != nil {
			return nil, err
		}
		return &node{tag: provider.SymTagTypedef, name: udt.Name, attrs: hasType, typ: provider.SymbolID(udt.TypeIndex)}, nil
	}
	return nil, nil
}

func (f *File) indexGlobals(globals []*node) {
	f.globals = globals
	f.byName = make(map[string][]*node, len(globals))
	f.byFoldedName = make(map[string][]*node, len(globals))
	f.byAddress = f.byAddress[:0]
	for _, n := range globals {
		f.byName[n.name] = append(f.byName[n.name], n)
		folded := strings.ToLower(n.name)
		f.byFoldedName[folded] = append(f.byFoldedName[folded], n)
		if n.attrs&hasRVA != 0 {
			f.byAddress = append(f.byAddress, n)
		}
	}
	// At equal addresses functions sort last so a backward walk sees them first.
	slices.SortStableFunc(f.byAddress, func(a, b *node) int {
		return cmp.Or(cmp.Compare(a.rva, b.rva), cmp.Compare(addressRank(a.tag), addressRank(b.tag)))
	})
}

func addressRank(tag provider.SymTag) int {
	switch tag {
	case provider.SymTagFunction:
		return 2
	case provider.SymTagData:
		return 1
	default:
		return 0
	}
}

// globalsNamed narrows the global scope through the name indices.
func (f *File) globalsNamed(name string, opts provider.SearchOptions) []*node {
	switch {
	case name == "":
		return f.globals
	case opts&provider.NameSearchCaseInsensitive != 0:
		return f.byFoldedName[strings.ToLower(name)]
	default:
		return f.byName[name]
	}
}

// nearest returns the symbol containing rva, else the closest one before it.
func (f *File) nearest(rva uint32, tag provider.SymTag) *node {
	i := sort.Search(len(f.byAddress), func(i int) bool { return f.byAddress[i].rva > rva })
	for i--; i >= 0; i-- {
		n := f.byAddress[i]
		if tag == provider.SymTagNull || n.tag == tag {
			return n
		}
	}
	return nil
}
