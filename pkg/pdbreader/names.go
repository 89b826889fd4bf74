package pdbreader

import (
	"github.com/jtang613/pdbreader/pkg/provider"
)

// SymbolAddress is a resolved address relative to the module base, tagged with the
// category the store reported for the symbol.
type SymbolAddress struct {
	RVA uint32          `json:"rva"`
	Tag provider.SymTag `json:"tag"`
}

// FindSymbol resolves a global symbol by exact, case-sensitive name within the
// given category. It reports false when the name matches zero or several symbols.
//
// Results are cached by name alone: a cached answer is returned even when a later
// call asks for a different category.
func (r *Reader) FindSymbol(name string, tag provider.SymTag) (SymbolAddress, bool) {
	if addr, ok := r.symbols[name]; ok {
		r.metrics.lookup(cacheSymbols, true)
		return addr, true
	}
	r.metrics.lookup(cacheSymbols, false)

	sym, ok := requireUnique(r.global.FindChildren(tag, name, provider.NameSearchCaseSensitive))
	if !ok {
		r.logger.Debug().Str("name", name).Stringer("tag", tag).Msg("symbol not found or ambiguous")
		return SymbolAddress{}, false
	}

	symTag, err := sym.Tag()
	if err != nil {
		r.logger.Debug().Err(err).Str("name", name).Msg("read symbol tag")
		return SymbolAddress{}, false
	}
	// An unreadable address is cached as 0.
	rva, err := sym.RVA()
	if err != nil {
		r.logger.Debug().Err(err).Str("name", name).Msg("read symbol address")
		rva = 0
	}

	addr := SymbolAddress{RVA: rva, Tag: symTag}
	r.symbols[name] = addr
	return addr, true
}

// FindConst resolves a data symbol (global variable or constant) by name.
func (r *Reader) FindConst(name string) (uint32, bool) {
	addr, ok := r.FindSymbol(name, provider.SymTagData)
	return addr.RVA, ok
}

// FindFunction resolves a function by name.
func (r *Reader) FindFunction(name string) (uint32, bool) {
	addr, ok := r.FindSymbol(name, provider.SymTagFunction)
	return addr.RVA, ok
}
