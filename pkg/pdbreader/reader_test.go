package pdbreader

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/pdbreader/pkg/provider"
	"github.com/jtang613/pdbreader/pkg/provider/providertest"
)

func newTestReader(t *testing.T, s *providertest.Session) *Reader {
	t.Helper()
	r, err := New(s)
	require.NoError(t, err)
	s.ResetCalls()
	return r
}

func TestNewRequiresSession(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestOpenVariants(t *testing.T) {
	s := providertest.NewSession()
	opener := &providertest.Opener{Session: s}

	r, err := Open(opener, "ntkrnlmp.pdb")
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.True(t, s.Closed)
	assert.Equal(t, []string{"ntkrnlmp.pdb"}, opener.Files)

	r, err = OpenForExecutable(opener, `C:\Windows\System32\ntoskrnl.exe`, `srv*C:\symbols*`)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, []string{`C:\Windows\System32\ntoskrnl.exe|srv*C:\symbols*`}, opener.Executables)
}

func TestOpenFailure(t *testing.T) {
	opener := &providertest.Opener{Err: errors.New("bad store")}
	_, err := Open(opener, "missing.pdb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not load pdb file")

	_, err = OpenForExecutable(opener, "a.exe", "srv*x*")
	require.Error(t, err)
}

func TestRequireUnique(t *testing.T) {
	s := providertest.NewSession()
	s.Add(nil, &providertest.Symbol{SymTag: provider.SymTagData, SymName: "one"})
	s.Add(nil, &providertest.Symbol{SymTag: provider.SymTagData, SymName: "two"})
	s.Add(nil, &providertest.Symbol{SymTag: provider.SymTagData, SymName: "two"})

	tests := []struct {
		name string
		want bool
	}{
		{"one", true},
		{"two", false},
		{"three", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sym, ok := requireUnique(s.Global.FindChildren(provider.SymTagData, tt.name, provider.NameSearchCaseSensitive))
			assert.Equal(t, tt.want, ok)
			if ok {
				name, err := sym.Name()
				require.NoError(t, err)
				assert.Equal(t, tt.name, name)
			}
		})
	}

	_, ok := requireUnique(nil, errors.New("lookup failed"))
	assert.False(t, ok)
}
