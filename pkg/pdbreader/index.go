package pdbreader

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jtang613/pdbreader/pkg/provider"
)

var (
	// ErrEmptyFunctionIndex is returned when the store holds no addressable functions.
	ErrEmptyFunctionIndex = errors.New("function index is empty")
	// ErrNoContainingFunction is returned for addresses below the first function.
	ErrNoContainingFunction = errors.New("no function contains address")
)

// FunctionIndexEntry is one function start address.
type FunctionIndexEntry struct {
	Address uint32 `json:"address"`
	Name    string `json:"name"`
}

// FunctionContaining returns the name of the function with the greatest start
// address not above rva. The index is built on first use and kept for the life of
// the Reader.
func (r *Reader) FunctionContaining(rva uint32) (string, error) {
	if err := r.buildFunctionIndex(); err != nil {
		return "", err
	}
	if len(r.functions) == 0 {
		return "", ErrEmptyFunctionIndex
	}

	i := sort.Search(len(r.functions), func(i int) bool {
		return r.functions[i].Address > rva
	})
	if i == 0 {
		return "", fmt.Errorf("%w %#x", ErrNoContainingFunction, rva)
	}
	return r.functions[i-1].Name, nil
}

// FunctionIndex returns a copy of the sorted function index.
func (r *Reader) FunctionIndex() ([]FunctionIndexEntry, error) {
	if err := r.buildFunctionIndex(); err != nil {
		return nil, err
	}
	out := make([]FunctionIndexEntry, len(r.functions))
	copy(out, r.functions)
	return out, nil
}

func (r *Reader) buildFunctionIndex() error {
	if r.functionsBuilt {
		return nil
	}
	it, err := r.global.FindChildren(provider.SymTagFunction, "", provider.NameSearchNone)
	if err != nil {
		return fmt.Errorf("enumerate functions: %w", err)
	}

	var entries []FunctionIndexEntry
	dropped := 0
	err = each(it, func(sym provider.Symbol) error {
		rva, err := sym.RVA()
		if err != nil {
			dropped++
			return nil
		}
		name, err := sym.Name()
		if err != nil {
			dropped++
			return nil
		}
		entries = append(entries, FunctionIndexEntry{Address: rva, Name: name})
		return nil
	})
	if err != nil {
		return fmt.Errorf("enumerate functions: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Address < entries[j].Address
	})

	r.functions = entries
	r.functionsBuilt = true
	r.metrics.indexBuilt(len(entries))
	r.logger.Info().Int("functions", len(entries)).Int("dropped", dropped).Msg("built function index")
	return nil
}

// NearestSymbol describes the symbol the store reports for an address.
type NearestSymbol struct {
	Name string          `json:"name"`
	Tag  provider.SymTag `json:"tag"`
	RVA  uint32          `json:"rva"`
}

// NearestSymbol asks the store for the symbol containing or preceding rva. It is
// never cached, and every provider failure is returned as an error.
func (r *Reader) NearestSymbol(rva uint32) (NearestSymbol, error) {
	sym, err := r.session.SymbolByRVA(rva, provider.SymTagNull)
	if err != nil {
		return NearestSymbol{}, fmt.Errorf("find symbol by rva %#x: %w", rva, err)
	}
	tag, err := sym.Tag()
	if err != nil {
		return NearestSymbol{}, fmt.Errorf("read symbol tag: %w", err)
	}
	start, err := sym.RVA()
	if err != nil {
		return NearestSymbol{}, fmt.Errorf("read symbol rva: %w", err)
	}
	name, err := sym.Name()
	if err != nil {
		return NearestSymbol{}, fmt.Errorf("read symbol name: %w", err)
	}
	return NearestSymbol{Name: name, Tag: tag, RVA: start}, nil
}
