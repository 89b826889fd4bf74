package pdbreader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/pdbreader/pkg/provider"
	"github.com/jtang613/pdbreader/pkg/provider/providertest"
)

type processFixture struct {
	session *providertest.Session
	process *providertest.Symbol
	ulong   provider.SymbolID
	ptr     provider.SymbolID
}

// newProcessFixture models a trimmed _EPROCESS with two data members, a nested
// type, a static member and a base class.
func newProcessFixture() processFixture {
	s := providertest.NewSession()
	f := processFixture{session: s}
	f.ulong = baseType(s, provider.BasicULong, 4)
	f.ptr = s.AddType(&providertest.Symbol{SymTag: provider.SymTagPointerType, Len: 8}).SymID

	f.process = s.Add(nil, &providertest.Symbol{SymTag: provider.SymTagUDT, SymName: "_EPROCESS", Len: 0xa40})
	s.Add(f.process, &providertest.Symbol{SymTag: provider.SymTagData, Kind: provider.DataIsMember, SymName: "UniqueProcessId", Off: 0x440, Type: f.ptr})
	s.Add(f.process, &providertest.Symbol{SymTag: provider.SymTagTypedef, SymName: "_NESTED"})
	s.Add(f.process, &providertest.Symbol{SymTag: provider.SymTagData, Kind: provider.DataIsStaticMember, SymName: "Count", Type: f.ulong})
	s.Add(f.process, &providertest.Symbol{SymTag: provider.SymTagBaseClass, SymName: "_KPROCESS", Type: f.ptr})
	s.Add(f.process, &providertest.Symbol{SymTag: provider.SymTagData, Kind: provider.DataIsMember, SymName: "Protection", Off: 0x87a, Type: f.ulong})
	return f
}

func TestFieldsOfFiltersNonDataMembers(t *testing.T) {
	f := newProcessFixture()
	r := newTestReader(t, f.session)

	fields := r.FieldsOf("_EPROCESS")
	require.Len(t, fields, 2)

	assert.Equal(t, "UniqueProcessId", fields[0].Name)
	assert.Equal(t, uint32(0x440), fields[0].Offset)
	assert.Equal(t, TypeUnknown, fields[0].Type.Kind)
	assert.Equal(t, uint64(8), fields[0].Type.Size)

	assert.Equal(t, "Protection", fields[1].Name)
	assert.Equal(t, uint32(0x87a), fields[1].Offset)
	assert.Equal(t, "uint32", fields[1].Type.Name)
}

func TestFieldsOfIsCached(t *testing.T) {
	f := newProcessFixture()
	r := newTestReader(t, f.session)

	first := r.FieldsOfID(f.process.SymID)
	require.Len(t, first, 2)
	calls := f.session.Calls.Total()

	first[0].Name = "mutated"
	second := r.FieldsOfID(f.process.SymID)
	assert.Equal(t, calls, f.session.Calls.Total())
	assert.Equal(t, "UniqueProcessId", second[0].Name)
}

func TestFieldsOfIsAtomic(t *testing.T) {
	tests := []struct {
		name   string
		member *providertest.Symbol
	}{
		{"unreadable name", &providertest.Symbol{SymTag: provider.SymTagData, Kind: provider.DataIsMember, SymName: "Bad", Fail: providertest.AttrName}},
		{"unreadable offset", &providertest.Symbol{SymTag: provider.SymTagData, Kind: provider.DataIsMember, SymName: "Bad", Fail: providertest.AttrOffset}},
		{"unreadable type", &providertest.Symbol{SymTag: provider.SymTagData, Kind: provider.DataIsMember, SymName: "Bad", Fail: providertest.AttrType}},
		{"unresolvable type", &providertest.Symbol{SymTag: provider.SymTagData, Kind: provider.DataIsMember, SymName: "Bad", Type: 4242}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProcessFixture()
			f.session.Add(f.process, tt.member)
			r := newTestReader(t, f.session)

			assert.Empty(t, r.FieldsOf("_EPROCESS"))
			assert.NotContains(t, r.fields, f.process.SymID)
		})
	}
}

func TestFieldsOfEnumerationFailure(t *testing.T) {
	f := newProcessFixture()
	f.process.FailChildren = true
	r := newTestReader(t, f.session)

	assert.Empty(t, r.FieldsOfID(f.process.SymID))
}

func TestFieldsOfAmbiguousName(t *testing.T) {
	f := newProcessFixture()
	f.session.Add(nil, &providertest.Symbol{SymTag: provider.SymTagUDT, SymName: "_EPROCESS", Len: 8})
	r := newTestReader(t, f.session)

	assert.Empty(t, r.FieldsOf("_EPROCESS"))
	assert.Empty(t, r.FieldsOf("_MISSING"))
}

func TestFieldsThroughTypeInfo(t *testing.T) {
	f := newProcessFixture()
	r := newTestReader(t, f.session)

	info, ok := r.LookupType("_EPROCESS")
	require.True(t, ok)
	assert.Len(t, info.Fields(), 2)

	assert.Nil(t, TypeInfo{Kind: TypeClass}.Fields())
}

func TestStructMemberOffsetAndSize(t *testing.T) {
	f := newProcessFixture()
	r := newTestReader(t, f.session)

	off, ok := r.StructMemberOffset("_EPROCESS", "Protection")
	require.True(t, ok)
	assert.Equal(t, uint32(0x87a), off)

	_, ok = r.StructMemberOffset("_EPROCESS", "Missing")
	assert.False(t, ok)
	_, ok = r.StructMemberOffset("_KTHREAD", "Protection")
	assert.False(t, ok)

	size, ok := r.StructSize("_EPROCESS")
	require.True(t, ok)
	assert.Equal(t, uint64(0xa40), size)

	_, ok = r.StructSize("_KTHREAD")
	assert.False(t, ok)
}
