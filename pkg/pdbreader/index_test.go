package pdbreader

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/pdbreader/pkg/provider"
	"github.com/jtang613/pdbreader/pkg/provider/providertest"
)

func functionSession() *providertest.Session {
	s := providertest.NewSession()
	// Added out of order; the index sorts.
	s.Add(nil, &providertest.Symbol{SymTag: provider.SymTagFunction, SymName: "B", Addr: 0x2000})
	s.Add(nil, &providertest.Symbol{SymTag: provider.SymTagFunction, SymName: "A", Addr: 0x1000})
	s.Add(nil, &providertest.Symbol{SymTag: provider.SymTagFunction, SymName: "Broken", Addr: 0x1800, Fail: providertest.AttrName})
	s.Add(nil, &providertest.Symbol{SymTag: provider.SymTagData, SymName: "Global", Addr: 0x1400})
	return s
}

func TestFunctionContaining(t *testing.T) {
	s := functionSession()
	r := newTestReader(t, s)

	tests := []struct {
		rva     uint32
		want    string
		wantErr error
	}{
		{0x1000, "A", nil},
		{0x1500, "A", nil},
		{0x1fff, "A", nil},
		{0x2000, "B", nil},
		{0x2500, "B", nil},
		{0x500, "", ErrNoContainingFunction},
	}
	for _, tt := range tests {
		got, err := r.FunctionContaining(tt.rva)
		if tt.wantErr != nil {
			assert.ErrorIs(t, err, tt.wantErr)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "rva %#x", tt.rva)
	}

	assert.Equal(t, 1, s.Calls.FindChildren)

	index, err := r.FunctionIndex()
	require.NoError(t, err)
	assert.Equal(t, []FunctionIndexEntry{{0x1000, "A"}, {0x2000, "B"}}, index)
}

func TestFunctionContainingEmptyIndex(t *testing.T) {
	r := newTestReader(t, providertest.NewSession())

	_, err := r.FunctionContaining(0x1000)
	assert.ErrorIs(t, err, ErrEmptyFunctionIndex)
}

func TestFunctionIndexEnumerationFailure(t *testing.T) {
	s := functionSession()
	s.Global.FailChildren = true
	r := newTestReader(t, s)

	_, err := r.FunctionContaining(0x1000)
	require.Error(t, err)
	assert.False(t, r.functionsBuilt)
}

func TestNearestSymbol(t *testing.T) {
	s := functionSession()
	r := newTestReader(t, s)

	got, err := r.NearestSymbol(0x1450)
	require.NoError(t, err)
	assert.Equal(t, NearestSymbol{Name: "Global", Tag: provider.SymTagData, RVA: 0x1400}, got)

	_, err = r.NearestSymbol(0x1450)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Calls.SymbolByRVA)

	_, err = r.NearestSymbol(0x10)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestNearestSymbolAttributeFailure(t *testing.T) {
	s := providertest.NewSession()
	s.Add(nil, &providertest.Symbol{SymTag: provider.SymTagFunction, SymName: "A", Addr: 0x1000, Fail: providertest.AttrName})
	r := newTestReader(t, s)

	_, err := r.NearestSymbol(0x1000)
	assert.ErrorIs(t, err, provider.ErrNoAttribute)
}

func TestReaderMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s := symbolSession()
	r, err := New(s, WithMetrics(m))
	require.NoError(t, err)

	r.FindFunction("PspInsertProcess")
	r.FindFunction("PspInsertProcess")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues(cacheSymbols, resultHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues(cacheSymbols, resultMiss)))

	// Registering twice reuses the collectors.
	again := NewMetrics(reg)
	assert.Equal(t, 1.0, testutil.ToFloat64(again.cacheLookups.WithLabelValues(cacheSymbols, resultHit)))
}
