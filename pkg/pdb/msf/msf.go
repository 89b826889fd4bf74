package msf

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// nilStreamSize marks a deleted stream in the directory.
const nilStreamSize = 0xFFFFFFFF

type stream struct {
	size   uint32
	blocks []uint32
}

// File is an opened MSF container.
type File struct {
	r       io.ReaderAt
	closer  io.Closer
	sb      *SuperBlock
	streams []stream
}

// Open opens the container at path on fs.
func Open(fs afero.Fs, path string) (*File, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	m, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	m.closer = f
	return m, nil
}

// New reads the container from r. The caller keeps ownership of r.
func New(r io.ReaderAt) (*File, error) {
	sb, err := ReadSuperBlock(io.NewSectionReader(r, 0, SuperBlockSize))
	if err != nil {
		return nil, err
	}
	m := &File{r: r, sb: sb}
	if err := m.readDirectory(); err != nil {
		return nil, fmt.Errorf("read stream directory: %w", err)
	}
	return m, nil
}

// Close closes the underlying file when the container owns one.
func (m *File) Close() error {
	if m.closer != nil {
		return m.closer.Close()
	}
	return nil
}

// SuperBlock returns the container header.
func (m *File) SuperBlock() *SuperBlock {
	return m.sb
}

// NumStreams returns the number of directory entries.
func (m *File) NumStreams() int {
	return len(m.streams)
}

// StreamSize returns the byte size of stream i. Deleted streams have size 0.
func (m *File) StreamSize(i int) (uint32, error) {
	if i < 0 || i >= len(m.streams) {
		return 0, fmt.Errorf("stream %d out of range [0, %d)", i, len(m.streams))
	}
	return m.streams[i].size, nil
}

// ReadStream returns the full contents of stream i.
func (m *File) ReadStream(i int) ([]byte, error) {
	if i < 0 || i >= len(m.streams) {
		return nil, fmt.Errorf("stream %d out of range [0, %d)", i, len(m.streams))
	}
	s := m.streams[i]
	data, err := m.readBlocks(s.blocks, s.size)
	if err != nil {
		return nil, fmt.Errorf("read stream %d: %w", i, err)
	}
	return data, nil
}

// readBlocks concatenates blocks, truncated to size bytes.
func (m *File) readBlocks(blocks []uint32, size uint32) ([]byte, error) {
	bs := m.sb.BlockSize
	if uint64(len(blocks))*uint64(bs) < uint64(size) {
		return nil, fmt.Errorf("%d blocks cannot hold %d bytes", len(blocks), size)
	}
	data := make([]byte, size)
	for n, block := range blocks {
		start := uint32(n) * bs
		if start >= size {
			break
		}
		end := min(start+bs, size)
		if block >= m.sb.NumBlocks {
			return nil, fmt.Errorf("block %d beyond end of file (%d blocks)", block, m.sb.NumBlocks)
		}
		if _, err := m.r.ReadAt(data[start:end], int64(block)*int64(bs)); err != nil {
			return nil, fmt.Errorf("read block %d: %w", block, err)
		}
	}
	return data, nil
}

func (m *File) readDirectory() error {
	numDirBlocks := m.sb.NumDirectoryBlocks()
	blockMap, err := m.readBlocks([]uint32{m.sb.BlockMapAddr}, numDirBlocks*4)
	if err != nil {
		return fmt.Errorf("read block map: %w", err)
	}
	dirBlocks := make([]uint32, numDirBlocks)
	for i := range dirBlocks {
		dirBlocks[i] = binary.LittleEndian.Uint32(blockMap[i*4:])
	}

	dir, err := m.readBlocks(dirBlocks, m.sb.NumDirectoryBytes)
	if err != nil {
		return err
	}
	return m.parseDirectory(dir)
}

// parseDirectory decodes NumStreams, the stream sizes, then each stream's block list.
func (m *File) parseDirectory(dir []byte) error {
	d := decoder{buf: dir}
	numStreams, err := d.u32()
	if err != nil {
		return fmt.Errorf("read stream count: %w", err)
	}
	if uint64(numStreams)*4 > uint64(len(dir)) {
		return fmt.Errorf("stream count %d exceeds directory size", numStreams)
	}

	sizes := make([]uint32, numStreams)
	for i := range sizes {
		if sizes[i], err = d.u32(); err != nil {
			return fmt.Errorf("read size of stream %d: %w", i, err)
		}
	}

	m.streams = make([]stream, numStreams)
	for i, size := range sizes {
		if size == nilStreamSize {
			continue
		}
		blocks := make([]uint32, blocksFor(size, m.sb.BlockSize))
		for j := range blocks {
			if blocks[j], err = d.u32(); err != nil {
				return fmt.Errorf("read blocks of stream %d: %w", i, err)
			}
		}
		m.streams[i] = stream{size: size, blocks: blocks}
	}
	return nil
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) u32() (uint32, error) {
	if d.off+4 > len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}
