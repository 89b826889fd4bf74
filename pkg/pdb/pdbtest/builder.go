// Package pdbtest builds small but well-formed PDB files for tests.
package pdbtest

import (
	"bytes"
	"encoding/binary"

	"github.com/spf13/afero"

	"github.com/jtang613/pdbreader/pkg/pdb/codeview"
	"github.com/jtang613/pdbreader/pkg/pdb/msf"
	"github.com/jtang613/pdbreader/pkg/pdb/streams"
)

const blockSize = 512

// Section is an image section recorded in the section header stream.
type Section struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
}

// Builder accumulates type and symbol records and lays them out as an MSF file.
type Builder struct {
	GUID     [16]byte
	Age      uint32
	Machine  uint16
	Sections []Section

	types   [][]byte
	globals bytes.Buffer
	modules []*Module
}

// Module is one compiland with its own symbol stream.
type Module struct {
	Name    string
	symbols bytes.Buffer
}

// New returns a builder for an x64 image with .text at 0x1000 and .data at 0x5000.
func New() *Builder {
	return &Builder{
		GUID:    [16]byte{0x78, 0x56, 0x34, 0x12, 0xbc, 0x9a, 0xf0, 0xde, 1, 2, 3, 4, 5, 6, 7, 8},
		Age:     1,
		Machine: streams.MachineAMD64,
		Sections: []Section{
			{Name: ".text", VirtualAddress: 0x1000, VirtualSize: 0x4000},
			{Name: ".data", VirtualAddress: 0x5000, VirtualSize: 0x1000},
		},
	}
}

// Type appends a raw type record and returns its type index.
func (b *Builder) Type(kind uint16, data []byte) uint32 {
	rec := append(le(kind), data...)
	for n := (4 - (len(rec)+2)%4) % 4; n > 0; n-- {
		rec = append(rec, 0xF0|byte(n))
	}
	b.types = append(b.types, append(le(uint16(len(rec))), rec...))
	return streams.TypeIndexBegin + uint32(len(b.types)) - 1
}

// Field is one encoded field list entry.
type Field []byte

// Member encodes an LF_MEMBER.
func Member(name string, ti uint32, offset uint64) Field {
	f := le(uint16(streams.LF_MEMBER), uint16(3), ti)
	f = append(f, numeric(offset)...)
	return padLeaf(append(f, cstr(name)...))
}

// StaticMember encodes an LF_STMEMBER.
func StaticMember(name string, ti uint32) Field {
	return padLeaf(append(le(uint16(streams.LF_STMEMBER), uint16(3), ti), cstr(name)...))
}

// Nested encodes an LF_NESTTYPE.
func Nested(name string, ti uint32) Field {
	return padLeaf(append(le(uint16(streams.LF_NESTTYPE), uint16(0), ti), cstr(name)...))
}

// BaseClass encodes an LF_BCLASS.
func BaseClass(ti uint32, offset uint64) Field {
	return padLeaf(append(le(uint16(streams.LF_BCLASS), uint16(3), ti), numeric(offset)...))
}

// Method encodes a non-virtual LF_ONEMETHOD.
func Method(name string, ti uint32) Field {
	return padLeaf(append(le(uint16(streams.LF_ONEMETHOD), uint16(3), ti), cstr(name)...))
}

// Enumerate encodes an LF_ENUMERATE.
func Enumerate(name string, value uint64) Field {
	f := append(le(uint16(streams.LF_ENUMERATE), uint16(3)), numeric(value)...)
	return padLeaf(append(f, cstr(name)...))
}

// Continue encodes an LF_INDEX pointing at the next field list.
func Continue(ti uint32) Field {
	return le(uint16(streams.LF_INDEX), uint16(0), ti)
}

// FieldList appends an LF_FIELDLIST.
func (b *Builder) FieldList(fields ...Field) uint32 {
	return b.Type(streams.LF_FIELDLIST, bytes.Join(toBytes(fields), nil))
}

// Struct appends a complete LF_STRUCTURE.
func (b *Builder) Struct(name string, size uint64, fieldList uint32) uint32 {
	return b.class(streams.LF_STRUCTURE, name, size, fieldList, 0)
}

// ForwardStruct appends a forward declaration of a structure.
func (b *Builder) ForwardStruct(name string) uint32 {
	return b.class(streams.LF_STRUCTURE, name, 0, 0, codeview.PropForwardRef)
}

// Union appends a complete LF_UNION.
func (b *Builder) Union(name string, size uint64, fieldList uint32) uint32 {
	return b.class(streams.LF_UNION, name, size, fieldList, 0)
}

func (b *Builder) class(kind uint16, name string, size uint64, fieldList uint32, props uint16) uint32 {
	data := le(uint16(0), props, fieldList)
	if kind != streams.LF_UNION {
		data = append(data, le(uint32(0), uint32(0))...)
	}
	data = append(data, numeric(size)...)
	return b.Type(kind, append(data, cstr(name)...))
}

// Enum appends a complete LF_ENUM.
func (b *Builder) Enum(name string, underlying, fieldList uint32) uint32 {
	return b.Type(streams.LF_ENUM, append(le(uint16(0), uint16(0), underlying, fieldList), cstr(name)...))
}

// Array appends an LF_ARRAY of size bytes.
func (b *Builder) Array(elem uint32, size uint64) uint32 {
	data := append(le(elem, uint32(streams.T_ULONG)), numeric(size)...)
	return b.Type(streams.LF_ARRAY, append(data, 0))
}

// Pointer appends a 64-bit LF_POINTER to referent.
func (b *Builder) Pointer(referent uint32) uint32 {
	const near64 = 0x0c
	return b.Type(streams.LF_POINTER, le(referent, uint32(near64|8<<13)))
}

// Modifier appends an LF_MODIFIER.
func (b *Builder) Modifier(ti uint32, mods uint16) uint32 {
	return b.Type(streams.LF_MODIFIER, le(ti, mods))
}

// Bitfield appends an LF_BITFIELD.
func (b *Builder) Bitfield(ti uint32, length, position uint8) uint32 {
	return b.Type(streams.LF_BITFIELD, append(le(ti), length, position))
}

// Procedure appends an LF_PROCEDURE with no arguments.
func (b *Builder) Procedure(ret uint32) uint32 {
	args := b.Type(streams.LF_ARGLIST, le(uint32(0)))
	return b.Type(streams.LF_PROCEDURE, append(le(ret), 0, 0, 0, 0, byte(args), byte(args>>8), byte(args>>16), byte(args>>24)))
}

// GlobalData adds an S_GDATA32 to the symbol record stream.
func (b *Builder) GlobalData(name string, ti uint32, segment uint16, offset uint32) {
	writeSym(&b.globals, codeview.S_GDATA32, append(le(ti, offset, segment), cstr(name)...))
}

// ThreadData adds an S_GTHREAD32 to the symbol record stream.
func (b *Builder) ThreadData(name string, ti uint32, offset uint32) {
	writeSym(&b.globals, codeview.S_GTHREAD32, append(le(ti, offset, uint16(2)), cstr(name)...))
}

// Public adds an S_PUB32 to the symbol record stream.
func (b *Builder) Public(name string, segment uint16, offset uint32) {
	writeSym(&b.globals, codeview.S_PUB32, append(le(uint32(codeview.PubFunction), offset, segment), cstr(name)...))
}

// Typedef adds an S_UDT to the symbol record stream.
func (b *Builder) Typedef(name string, ti uint32) {
	writeSym(&b.globals, codeview.S_UDT, append(le(ti), cstr(name)...))
}

// Module adds a compiland.
func (b *Builder) Module(name string) *Module {
	m := &Module{Name: name}
	b.modules = append(b.modules, m)
	return m
}

// Proc adds an S_GPROC32 followed by its S_END.
func (m *Module) Proc(name string, ti uint32, segment uint16, offset, length uint32) {
	data := le(uint32(0), uint32(0), uint32(0), length, uint32(0), length, ti, offset, segment)
	data = append(data, 0)
	writeSym(&m.symbols, codeview.S_GPROC32, append(data, cstr(name)...))
	writeSym(&m.symbols, codeview.S_END, nil)
}

// Bytes lays out every stream and returns the MSF image.
func (b *Builder) Bytes() []byte {
	sectionStream := 5
	globalStream := 6
	firstModuleStream := 7

	var modInfo bytes.Buffer
	moduleStreams := make([][]byte, len(b.modules))
	for i, m := range b.modules {
		body := append(le(uint32(codeview.CVSignatureC13)), m.symbols.Bytes()...)
		moduleStreams[i] = body
		hdr := make([]byte, 64)
		binary.LittleEndian.PutUint16(hdr[34:], uint16(firstModuleStream+i))
		binary.LittleEndian.PutUint32(hdr[36:], uint32(len(body)))
		modInfo.Write(hdr)
		modInfo.Write(cstr(m.Name))
		modInfo.Write(cstr(m.Name))
		for modInfo.Len()%4 != 0 {
			modInfo.WriteByte(0)
		}
	}

	dbg := make([]uint16, 11)
	for i := range dbg {
		dbg[i] = streams.NilStream
	}
	dbg[streams.DbgSectionHdr] = uint16(sectionStream)

	var dbi bytes.Buffer
	write(&dbi, int32(-1), uint32(19990903), b.Age,
		uint16(streams.NilStream), uint16(0), uint16(streams.NilStream), uint16(0),
		uint16(globalStream), uint16(0),
		int32(modInfo.Len()), int32(0), int32(0), int32(0), int32(0), uint32(0),
		int32(len(dbg)*2), int32(0), uint16(0), b.Machine, uint32(0))
	dbi.Write(modInfo.Bytes())
	write(&dbi, dbg)

	var sections bytes.Buffer
	for _, s := range b.Sections {
		var name [8]byte
		copy(name[:], s.Name)
		write(&sections, streams.SectionHeader{Name: name, VirtualSize: s.VirtualSize, VirtualAddress: s.VirtualAddress})
	}

	var info bytes.Buffer
	write(&info, uint32(streams.PDBStreamVersionVC70), uint32(0x5f000000), b.Age, b.GUID,
		uint32(0), uint32(0), uint32(0), uint32(0), uint32(0))

	typeBytes := bytes.Join(b.types, nil)
	var tpi bytes.Buffer
	write(&tpi, streams.TPIHeader{
		Version:            streams.TPIStreamVersionV80,
		HeaderSize:         streams.TPIHeaderSize,
		TypeIndexBegin:     streams.TypeIndexBegin,
		TypeIndexEnd:       streams.TypeIndexBegin + uint32(len(b.types)),
		TypeRecordBytes:    uint32(len(typeBytes)),
		HashStreamIndex:    streams.NilStream,
		HashAuxStreamIndex: streams.NilStream,
		HashKeySize:        4,
	})
	tpi.Write(typeBytes)

	all := [][]byte{nil, info.Bytes(), tpi.Bytes(), dbi.Bytes(), nil, sections.Bytes(), b.globals.Bytes()}
	all = append(all, moduleStreams...)
	return layout(all)
}

// WriteFile writes the image to path on fs.
func (b *Builder) WriteFile(fs afero.Fs, path string) error {
	return afero.WriteFile(fs, path, b.Bytes(), 0o644)
}

// layout places streams after the superblock and the free page maps, then the
// directory, then the block map.
func layout(all [][]byte) []byte {
	var blocks [][]byte
	next := func(data []byte) uint32 {
		blk := make([]byte, blockSize)
		copy(blk, data)
		blocks = append(blocks, blk)
		return uint32(len(blocks) - 1)
	}
	next(nil) // superblock
	next(nil) // free page map 1
	next(nil) // free page map 2

	var dir bytes.Buffer
	write(&dir, uint32(len(all)))
	for _, s := range all {
		write(&dir, uint32(len(s)))
	}
	for _, s := range all {
		for off := 0; off < len(s); off += blockSize {
			write(&dir, next(s[off:min(off+blockSize, len(s))]))
		}
	}

	var blockMap []byte
	d := dir.Bytes()
	for off := 0; off < len(d); off += blockSize {
		blockMap = append(blockMap, le(next(d[off:min(off+blockSize, len(d))]))...)
	}
	mapBlock := next(blockMap)

	var sb bytes.Buffer
	var magic [32]byte
	copy(magic[:], msf.Magic)
	write(&sb, msf.SuperBlock{
		Magic:             magic,
		BlockSize:         blockSize,
		FreeBlockMapBlock: 1,
		NumBlocks:         uint32(len(blocks)),
		NumDirectoryBytes: uint32(len(d)),
		BlockMapAddr:      mapBlock,
	})
	copy(blocks[0], sb.Bytes())
	return bytes.Join(blocks, nil)
}

func writeSym(buf *bytes.Buffer, kind uint16, data []byte) {
	rec := append(le(kind), data...)
	for (len(rec)+2)%4 != 0 {
		rec = append(rec, 0)
	}
	write(buf, uint16(len(rec)))
	buf.Write(rec)
}

// padLeaf pads a record to four bytes with the LF_PAD sequence.
func padLeaf(rec []byte) []byte {
	for n := (4 - len(rec)%4) % 4; n > 0; n-- {
		rec = append(rec, 0xF0|byte(n))
	}
	return rec
}

func numeric(v uint64) []byte {
	switch {
	case v < streams.LF_NUMERIC:
		return le(uint16(v))
	case v <= 0xFFFF:
		return le(uint16(streams.LF_USHORT), uint16(v))
	case v <= 0xFFFFFFFF:
		return le(uint16(streams.LF_ULONG), uint32(v))
	default:
		return le(uint16(streams.LF_UQUADWORD), v)
	}
}

func cstr(s string) []byte {
	return append([]byte(s), 0)
}

func le(vals ...any) []byte {
	var buf bytes.Buffer
	write(&buf, vals...)
	return buf.Bytes()
}

func write(buf *bytes.Buffer, vals ...any) {
	for _, v := range vals {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			panic(err)
		}
	}
}

func toBytes(fields []Field) [][]byte {
	out := make([][]byte, len(fields))
	for i, f := range fields {
		out[i] = f
	}
	return out
}
