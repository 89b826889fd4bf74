// Package msf reads the Multi-Stream Format container that PDB files are built on.
package msf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
)

// Magic is the signature at the start of every MSF 7.00 file.
var Magic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")

// SuperBlock is the fixed header at offset 0.
type SuperBlock struct {
	Magic             [32]byte
	BlockSize         uint32
	FreeBlockMapBlock uint32
	NumBlocks         uint32
	NumDirectoryBytes uint32
	Unknown           uint32
	BlockMapAddr      uint32
}

// SuperBlockSize is the encoded size of SuperBlock.
const SuperBlockSize = 56

var validBlockSizes = []uint32{512, 1024, 2048, 4096}

// ReadSuperBlock decodes and validates the header.
func ReadSuperBlock(r io.Reader) (*SuperBlock, error) {
	var sb SuperBlock
	if err := binary.Read(r, binary.LittleEndian, &sb); err != nil {
		return nil, fmt.Errorf("read superblock: %w", err)
	}
	if !bytes.Equal(sb.Magic[:], Magic) {
		return nil, fmt.Errorf("invalid MSF magic: not a PDB file")
	}
	if !slices.Contains(validBlockSizes, sb.BlockSize) {
		return nil, fmt.Errorf("invalid block size %d", sb.BlockSize)
	}
	if sb.FreeBlockMapBlock != 1 && sb.FreeBlockMapBlock != 2 {
		return nil, fmt.Errorf("invalid free block map block %d", sb.FreeBlockMapBlock)
	}
	return &sb, nil
}

// NumDirectoryBlocks is the number of blocks holding the stream directory.
func (sb *SuperBlock) NumDirectoryBlocks() uint32 {
	return blocksFor(sb.NumDirectoryBytes, sb.BlockSize)
}

func blocksFor(size, blockSize uint32) uint32 {
	return (size + blockSize - 1) / blockSize
}
