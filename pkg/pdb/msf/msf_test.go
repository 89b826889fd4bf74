package msf_test

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtang613/pdbreader/pkg/pdb/msf"
	"github.com/jtang613/pdbreader/pkg/pdb/pdbtest"
)

func TestOpenReadsDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, pdbtest.Kernel().WriteFile(fs, "/sym/ntkrnlmp.pdb"))

	m, err := msf.Open(fs, "/sym/ntkrnlmp.pdb")
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, uint32(512), m.SuperBlock().BlockSize)
	// Old directory, info, TPI, DBI, IPI, section headers, symbol records, two modules.
	assert.Equal(t, 9, m.NumStreams())

	size, err := m.StreamSize(4)
	require.NoError(t, err)
	assert.Zero(t, size)

	tpi, err := m.ReadStream(2)
	require.NoError(t, err)
	size, err = m.StreamSize(2)
	require.NoError(t, err)
	assert.Len(t, tpi, int(size))
	assert.Greater(t, size, uint32(512), "the type stream spans several blocks")

	_, err = m.ReadStream(42)
	assert.Error(t, err)
	_, err = m.StreamSize(-1)
	assert.Error(t, err)
}

func TestNewRejectsInvalidHeaders(t *testing.T) {
	image := pdbtest.New().Bytes()

	tests := []struct {
		name   string
		mutate func([]byte)
	}{
		{"magic", func(b []byte) { b[0] = 'X' }},
		{"block size", func(b []byte) { b[32] = 0x11 }},
		{"free block map", func(b []byte) { b[36] = 7 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bytes.Clone(image)
			tt.mutate(b)
			_, err := msf.New(bytes.NewReader(b))
			assert.Error(t, err)
		})
	}
}

func TestNewRejectsTruncatedFile(t *testing.T) {
	image := pdbtest.New().Bytes()
	_, err := msf.New(bytes.NewReader(image[:len(image)-512]))
	assert.Error(t, err)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := msf.Open(afero.NewMemMapFs(), "/missing.pdb")
	assert.Error(t, err)
}
