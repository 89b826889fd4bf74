package pdb

import (
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/pdbreader/pkg/pdb/pdbtest"
	"github.com/jtang613/pdbreader/pkg/pdb/streams"
	"github.com/jtang613/pdbreader/pkg/provider"
)

func openKernel(t *testing.T) *File {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, pdbtest.Kernel().WriteFile(fs, "/sym/ntkrnlmp.pdb"))
	f, err := OpenFs(fs, "/sym/ntkrnlmp.pdb")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func children(t *testing.T, sym provider.Symbol, tag provider.SymTag, name string, opts provider.SearchOptions) []provider.Symbol {
	t.Helper()
	it, err := sym.FindChildren(tag, name, opts)
	require.NoError(t, err)
	var out []provider.Symbol
	for {
		c, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, c)
	}
	count, err := it.Count()
	require.NoError(t, err)
	assert.Len(t, out, count)
	return out
}

func unique(t *testing.T, f *File, tag provider.SymTag, name string) provider.Symbol {
	t.Helper()
	global, err := f.GlobalScope()
	require.NoError(t, err)
	found := children(t, global, tag, name, provider.NameSearchCaseSensitive)
	require.Len(t, found, 1, "%s %s", tag, name)
	return found[0]
}

func TestInfo(t *testing.T) {
	f := openKernel(t)

	info := f.Info()
	assert.Equal(t, "123456789ABCDEF00102030405060708", info.GUID)
	assert.Equal(t, uint32(1), info.Age)
	assert.Equal(t, "x64", info.Machine)
	assert.Equal(t, 2, info.Modules)

	guid, age := f.Signature()
	assert.Equal(t, byte(0x78), guid[0])
	assert.Equal(t, uint32(1), age)

	assert.Equal(t, []SectionInfo{
		{Index: 1, Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x4000},
		{Index: 2, Name: ".data", VirtualAddress: 0x5000, VirtualSize: 0x1000},
	}, f.Sections())

	mods := f.Modules()
	require.Len(t, mods, 2)
	assert.Equal(t, "io.obj", mods[1].Name)
}

func TestGlobalScope(t *testing.T) {
	f := openKernel(t)
	global, err := f.GlobalScope()
	require.NoError(t, err)

	tag, err := global.Tag()
	require.NoError(t, err)
	assert.Equal(t, provider.SymTagExe, tag)
	name, err := global.Name()
	require.NoError(t, err)
	assert.Equal(t, "ntkrnlmp", name)

	functions := children(t, global, provider.SymTagFunction, "", provider.NameSearchNone)
	assert.Len(t, functions, 3, "duplicate procedures are folded")

	data := children(t, global, provider.SymTagData, "", provider.NameSearchNone)
	assert.Len(t, data, 3)

	publics := children(t, global, provider.SymTagPublicSymbol, "", provider.NameSearchNone)
	assert.Len(t, publics, 2)

	udts := children(t, global, provider.SymTagUDT, "", provider.NameSearchNone)
	var names []string
	for _, u := range udts {
		n, err := u.Name()
		require.NoError(t, err)
		names = append(names, n)
	}
	assert.ElementsMatch(t, []string{"_LIST_ENTRY", "_KPROCESS", "_EPROCESS"}, names)

	assert.Len(t, children(t, global, provider.SymTagEnum, "_POOL_TYPE", provider.NameSearchCaseSensitive), 1)
	assert.Len(t, children(t, global, provider.SymTagTypedef, "PLIST_ENTRY", provider.NameSearchCaseSensitive), 1)
}

func TestFindChildrenByName(t *testing.T) {
	f := openKernel(t)
	global, err := f.GlobalScope()
	require.NoError(t, err)

	assert.Len(t, children(t, global, provider.SymTagNull, "KeBugCheckEx", provider.NameSearchCaseSensitive), 2)
	assert.Empty(t, children(t, global, provider.SymTagNull, "kebugcheckex", provider.NameSearchCaseSensitive))
	assert.Len(t, children(t, global, provider.SymTagFunction, "kebugcheckex", provider.NameSearchCaseInsensitive), 1)
	assert.Empty(t, children(t, global, provider.SymTagData, "KeBugCheckEx", provider.NameSearchCaseSensitive))
}

func TestFunctionAttributes(t *testing.T) {
	f := openKernel(t)
	fn := unique(t, f, provider.SymTagFunction, "PspInsertProcess")

	rva, err := fn.RVA()
	require.NoError(t, err)
	assert.Equal(t, uint32(pdbtest.RVAPspInsertProcess), rva)

	length, err := fn.Length()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x200), length)

	typeID, err := fn.TypeID()
	require.NoError(t, err)
	sig, err := f.SymbolByID(typeID)
	require.NoError(t, err)
	tag, _ := sig.Tag()
	assert.Equal(t, provider.SymTagFunctionType, tag)

	_, err = fn.Offset()
	assert.ErrorIs(t, err, provider.ErrNoAttribute)
	_, err = fn.DataKind()
	assert.ErrorIs(t, err, provider.ErrNoAttribute)
}

func TestDataAttributes(t *testing.T) {
	f := openKernel(t)

	sym := unique(t, f, provider.SymTagData, "PsInitialSystemProcess")
	rva, err := sym.RVA()
	require.NoError(t, err)
	assert.Equal(t, uint32(pdbtest.RVAPsInitialSystemProcess), rva)
	kind, err := sym.DataKind()
	require.NoError(t, err)
	assert.Equal(t, provider.DataIsGlobal, kind)

	typeID, err := sym.TypeID()
	require.NoError(t, err)
	ptr, err := f.SymbolByID(typeID)
	require.NoError(t, err)
	size, err := ptr.Length()
	require.NoError(t, err)
	assert.Equal(t, uint64(8), size)

	tls := unique(t, f, provider.SymTagData, "KiTlsSlot")
	_, err = tls.RVA()
	assert.ErrorIs(t, err, provider.ErrNoAttribute)
}

func TestStructMembers(t *testing.T) {
	f := openKernel(t)
	process := unique(t, f, provider.SymTagUDT, "_EPROCESS")

	size, err := process.Length()
	require.NoError(t, err)
	assert.Equal(t, uint64(pdbtest.SizeEPROCESS), size)

	members := children(t, process, provider.SymTagNull, "", provider.NameSearchNone)
	var got []string
	for _, m := range members {
		tag, _ := m.Tag()
		name, _ := m.Name()
		got = append(got, tag.String()+":"+name)
	}
	assert.Equal(t, []string{
		"base_class:_KPROCESS",
		"data:UniqueProcessId",
		"data:ActiveProcessLinks",
		"data:ImageFileName",
		"data:Protection",
		"data:Flags",
		"data:ProcessCount",
		"typedef:_NESTED",
	}, got)

	static := children(t, process, provider.SymTagData, "ProcessCount", provider.NameSearchCaseSensitive)
	require.Len(t, static, 1)
	kind, err := static[0].DataKind()
	require.NoError(t, err)
	assert.Equal(t, provider.DataIsStaticMember, kind)
	_, err = static[0].Offset()
	assert.ErrorIs(t, err, provider.ErrNoAttribute)

	links := children(t, process, provider.SymTagData, "ActiveProcessLinks", provider.NameSearchCaseSensitive)
	require.Len(t, links, 1)
	off, err := links[0].Offset()
	require.NoError(t, err)
	assert.Equal(t, int32(pdbtest.OffsetActiveProcessLinks), off)
}

func TestTypeGraphStripsAliases(t *testing.T) {
	f := openKernel(t)
	process := unique(t, f, provider.SymTagUDT, "_EPROCESS")

	memberType := func(name string) provider.Symbol {
		m := children(t, process, provider.SymTagData, name, provider.NameSearchCaseSensitive)
		require.Len(t, m, 1)
		id, err := m[0].TypeID()
		require.NoError(t, err)
		typ, err := f.SymbolByID(id)
		require.NoError(t, err)
		return typ
	}

	// Volatile modifier.
	protection := memberType("Protection")
	tag, _ := protection.Tag()
	assert.Equal(t, provider.SymTagBaseType, tag)
	bt, err := protection.BaseType()
	require.NoError(t, err)
	assert.Equal(t, provider.BasicUInt, bt)

	// Bitfield.
	flags := memberType("Flags")
	bt, err = flags.BaseType()
	require.NoError(t, err)
	assert.Equal(t, provider.BasicULong, bt)
	length, _ := flags.Length()
	assert.Equal(t, uint64(4), length)

	// Array of unsigned char.
	name := memberType("ImageFileName")
	tag, _ = name.Tag()
	assert.Equal(t, provider.SymTagArrayType, tag)
	length, _ = name.Length()
	assert.Equal(t, uint64(pdbtest.LengthImageFileName), length)

	// Built-in pointer.
	pid := memberType("UniqueProcessId")
	tag, _ = pid.Tag()
	assert.Equal(t, provider.SymTagPointerType, tag)
	length, _ = pid.Length()
	assert.Equal(t, uint64(8), length)
}

func TestForwardReferenceResolvesToDefinition(t *testing.T) {
	f := openKernel(t)
	list := unique(t, f, provider.SymTagUDT, "_LIST_ENTRY")
	listID, _ := list.ID()

	flink := children(t, list, provider.SymTagData, "Flink", provider.NameSearchCaseSensitive)
	require.Len(t, flink, 1)
	ptrID, err := flink[0].TypeID()
	require.NoError(t, err)
	ptr, err := f.SymbolByID(ptrID)
	require.NoError(t, err)
	fwdID, err := ptr.TypeID()
	require.NoError(t, err)
	assert.NotEqual(t, listID, fwdID, "the pointer names the forward declaration")

	target, err := f.SymbolByID(fwdID)
	require.NoError(t, err)
	id, _ := target.ID()
	assert.Equal(t, listID, id)
	size, err := target.Length()
	require.NoError(t, err)
	assert.Equal(t, uint64(pdbtest.SizeLISTENTRY), size)
}

func TestEnum(t *testing.T) {
	f := openKernel(t)
	pool := unique(t, f, provider.SymTagEnum, "_POOL_TYPE")

	size, err := pool.Length()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), size)

	values := children(t, pool, provider.SymTagData, "", provider.NameSearchNone)
	require.Len(t, values, 2)
	kind, err := values[1].DataKind()
	require.NoError(t, err)
	assert.Equal(t, provider.DataIsConstant, kind)
}

func TestSymbolByID(t *testing.T) {
	f := openKernel(t)

	int32Type, err := f.SymbolByID(streams.T_INT4)
	require.NoError(t, err)
	bt, err := int32Type.BaseType()
	require.NoError(t, err)
	assert.Equal(t, provider.BasicInt, bt)

	again, err := f.SymbolByID(streams.T_INT4)
	require.NoError(t, err)
	assert.Same(t, int32Type, again)

	_, err = f.SymbolByID(0xee)
	assert.ErrorIs(t, err, provider.ErrNotFound)
	_, err = f.SymbolByID(0xfffffff0)
	assert.ErrorIs(t, err, provider.ErrNotFound)

	global, _ := f.GlobalScope()
	id, _ := global.ID()
	same, err := f.SymbolByID(id)
	require.NoError(t, err)
	assert.Same(t, global, same)
}

func TestSymbolByRVA(t *testing.T) {
	f := openKernel(t)

	tests := []struct {
		rva  uint32
		tag  provider.SymTag
		want string
	}{
		{pdbtest.RVAPspInsertProcess + 0x10, provider.SymTagNull, "PspInsertProcess"},
		// The procedure wins over the public at the same address.
		{pdbtest.RVAKeBugCheckEx, provider.SymTagNull, "KeBugCheckEx"},
		{pdbtest.RVAKiSystemStartup + 4, provider.SymTagNull, "KiSystemStartup"},
		{pdbtest.RVAKiSystemStartup + 4, provider.SymTagFunction, "NtCreateFile"},
		{pdbtest.RVAPspCidTable + 8, provider.SymTagData, "PspCidTable"},
	}
	for _, tt := range tests {
		sym, err := f.SymbolByRVA(tt.rva, tt.tag)
		require.NoError(t, err, "rva %#x", tt.rva)
		name, _ := sym.Name()
		assert.Equal(t, tt.want, name, "rva %#x", tt.rva)
	}

	sym, err := f.SymbolByRVA(pdbtest.RVAKeBugCheckEx, provider.SymTagNull)
	require.NoError(t, err)
	tag, _ := sym.Tag()
	assert.Equal(t, provider.SymTagFunction, tag)

	_, err = f.SymbolByRVA(0x10, provider.SymTagNull)
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestOpenErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := OpenFs(fs, "/missing.pdb")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/garbage.pdb", []byte("not a pdb"), 0o644))
	_, err = OpenFs(fs, "/garbage.pdb")
	assert.Error(t, err)
}
