package symsrv

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/pdbreader/pkg/symsrv/symsrvtest"
)

var testGUID = [16]byte{0x78, 0x56, 0x34, 0x12, 0xbc, 0x9a, 0xf0, 0xde, 1, 2, 3, 4, 5, 6, 7, 8}

func TestReadCodeView(t *testing.T) {
	img := symsrvtest.Image{GUID: testGUID, Age: 0x1b, PDBPath: `d:\os\obj\amd64fre\ntkrnlmp.pdb`}

	info, err := ReadCodeView(bytes.NewReader(img.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, testGUID, info.GUID)
	assert.Equal(t, uint32(0x1b), info.Age)
	assert.Equal(t, `d:\os\obj\amd64fre\ntkrnlmp.pdb`, info.Path)

	assert.Equal(t, "ntkrnlmp.pdb", info.PDBName())
	assert.Equal(t, "123456789ABCDEF001020304050607081B", info.Signature())
	assert.Equal(t, "ntkrnlmp.pdb/123456789ABCDEF001020304050607081B/ntkrnlmp.pdb", info.Key())
	assert.True(t, info.Matches(testGUID, 0x1b))
	assert.False(t, info.Matches(testGUID, 1))
}

func TestReadCodeViewFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, symsrvtest.Image{GUID: testGUID, Age: 1, PDBPath: "/build/app.pdb"}.WriteFile(fs, "/bin/app.exe"))

	info, err := ReadCodeViewFile(fs, "/bin/app.exe")
	require.NoError(t, err)
	assert.Equal(t, "app.pdb", info.PDBName())

	_, err = ReadCodeViewFile(fs, "/bin/missing.exe")
	assert.Error(t, err)
}

func TestReadCodeViewErrors(t *testing.T) {
	_, err := ReadCodeView(bytes.NewReader(symsrvtest.Image{NoDebug: true}.Bytes()))
	assert.ErrorIs(t, err, ErrNoCodeView)

	_, err = ReadCodeView(bytes.NewReader([]byte("not an executable")))
	assert.Error(t, err)
}
