package pdbreader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/pdbreader/pkg/provider"
	"github.com/jtang613/pdbreader/pkg/provider/providertest"
)

func symbolSession() *providertest.Session {
	s := providertest.NewSession()
	s.Add(nil, &providertest.Symbol{SymTag: provider.SymTagFunction, SymName: "PspInsertProcess", Addr: 0x1000})
	s.Add(nil, &providertest.Symbol{SymTag: provider.SymTagData, SymName: "PspCidTable", Addr: 0x5000})
	s.Add(nil, &providertest.Symbol{SymTag: provider.SymTagData, SymName: "Dup", Addr: 0x6000})
	s.Add(nil, &providertest.Symbol{SymTag: provider.SymTagData, SymName: "Dup", Addr: 0x6008})
	s.Add(nil, &providertest.Symbol{SymTag: provider.SymTagData, SymName: "NoAddress", Fail: providertest.AttrRVA})
	s.Add(nil, &providertest.Symbol{SymTag: provider.SymTagData, SymName: "NoTag", Addr: 0x7000, Fail: providertest.AttrTag})
	return s
}

func TestFindSymbol(t *testing.T) {
	tests := []struct {
		name   string
		lookup string
		tag    provider.SymTag
		want   SymbolAddress
		found  bool
	}{
		{"function", "PspInsertProcess", provider.SymTagFunction, SymbolAddress{RVA: 0x1000, Tag: provider.SymTagFunction}, true},
		{"data", "PspCidTable", provider.SymTagData, SymbolAddress{RVA: 0x5000, Tag: provider.SymTagData}, true},
		{"any category", "PspCidTable", provider.SymTagNull, SymbolAddress{RVA: 0x5000, Tag: provider.SymTagData}, true},
		{"wrong category", "PspCidTable", provider.SymTagFunction, SymbolAddress{}, false},
		{"ambiguous", "Dup", provider.SymTagData, SymbolAddress{}, false},
		{"missing", "Nope", provider.SymTagNull, SymbolAddress{}, false},
		{"case sensitive", "pspcidtable", provider.SymTagData, SymbolAddress{}, false},
		{"unreadable address", "NoAddress", provider.SymTagData, SymbolAddress{RVA: 0, Tag: provider.SymTagData}, true},
		{"unreadable tag", "NoTag", provider.SymTagData, SymbolAddress{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReader(t, symbolSession())
			got, ok := r.FindSymbol(tt.lookup, tt.tag)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindSymbolCachesByName(t *testing.T) {
	s := symbolSession()
	r := newTestReader(t, s)

	rva, ok := r.FindFunction("PspInsertProcess")
	require.True(t, ok)
	assert.Equal(t, uint32(0x1000), rva)
	calls := s.Calls.Total()
	require.NotZero(t, calls)

	rva, ok = r.FindFunction("PspInsertProcess")
	require.True(t, ok)
	assert.Equal(t, uint32(0x1000), rva)
	assert.Equal(t, calls, s.Calls.Total())

	// The name is the only key, so a different category still hits.
	rva, ok = r.FindConst("PspInsertProcess")
	require.True(t, ok)
	assert.Equal(t, uint32(0x1000), rva)
	assert.Equal(t, calls, s.Calls.Total())
}

func TestFindSymbolFailuresAreNotCached(t *testing.T) {
	s := symbolSession()
	r := newTestReader(t, s)

	_, ok := r.FindConst("Dup")
	require.False(t, ok)
	_, ok = r.FindConst("Dup")
	require.False(t, ok)
	assert.Equal(t, 2, s.Calls.FindChildren)
}

func TestFindConst(t *testing.T) {
	r := newTestReader(t, symbolSession())

	rva, ok := r.FindConst("PspCidTable")
	require.True(t, ok)
	assert.Equal(t, uint32(0x5000), rva)

	_, ok = r.FindConst("PspInsertProcess")
	assert.False(t, ok)
}
