package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Machine types found in the DBI header.
const (
	MachineI386  = 0x014c
	MachineIA64  = 0x0200
	MachineARM   = 0x01c0
	MachineAMD64 = 0x8664
	MachineARM64 = 0xAA64
)

// NilStream marks an absent stream index.
const NilStream = 0xFFFF

// Slots of the optional debug header.
const (
	DbgFPO = iota
	DbgException
	DbgFixup
	DbgOmapToSrc
	DbgOmapFromSrc
	DbgSectionHdr
	DbgTokenRIDMap
	DbgXdata
	DbgPdata
	DbgNewFPO
	DbgSectionHdrOrig
)

// DBIHeader is the fixed 64-byte header of stream 3.
type DBIHeader struct {
	VersionSignature        int32
	VersionHeader           uint32
	Age                     uint32
	GlobalStreamIndex       uint16
	BuildNumber             uint16
	PublicStreamIndex       uint16
	PdbDllVersion           uint16
	SymRecordStream         uint16
	PdbDllRbld              uint16
	ModInfoSize             int32
	SectionContributionSize int32
	SectionMapSize          int32
	SourceInfoSize          int32
	TypeServerMapSize       int32
	MFCTypeServerIndex      uint32
	OptionalDbgHeaderSize   int32
	ECSubstreamSize         int32
	Flags                   uint16
	Machine                 uint16
	Padding                 uint32
}

// DBIHeaderSize is the encoded size of DBIHeader.
const DBIHeaderSize = 64

// SectionContrib is the contribution entry embedded in each module record.
type SectionContrib struct {
	Section         uint16
	Padding1        uint16
	Offset          int32
	Size            int32
	Characteristics uint32
	ModuleIndex     uint16
	Padding2        uint16
	DataCrc         uint32
	RelocCrc        uint32
}

// moduleHeader is the fixed part of a module info record.
type moduleHeader struct {
	Unused1              uint32
	SectionContrib       SectionContrib
	Flags                uint16
	ModuleSymStream      uint16
	SymByteSize          uint32
	C11ByteSize          uint32
	C13ByteSize          uint32
	SourceFileCount      uint16
	Padding              uint16
	Unused2              uint32
	SourceFileNameIndex  uint32
	PdbFilePathNameIndex uint32
}

const moduleHeaderSize = 64

// ModuleInfo describes one compiland.
type ModuleInfo struct {
	SectionContrib  SectionContrib
	ModuleSymStream uint16
	SymByteSize     uint32
	SourceFileCount uint16
	ModuleName      string
	ObjFileName     string
}

// HasSymbols reports whether the module carries a symbol stream.
func (m *ModuleInfo) HasSymbols() bool {
	return m.ModuleSymStream != NilStream && m.SymByteSize > 0
}

// DBIStream is the decoded DBI stream.
type DBIStream struct {
	Header       DBIHeader
	Modules      []ModuleInfo
	DebugStreams []uint16
}

// ReadDBIStream decodes the header, the module list and the optional debug header.
func ReadDBIStream(data []byte) (*DBIStream, error) {
	if len(data) < DBIHeaderSize {
		return nil, fmt.Errorf("DBI stream too small: %d bytes", len(data))
	}
	var h DBIHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("read DBI header: %w", err)
	}
	if h.VersionSignature != -1 {
		return nil, fmt.Errorf("invalid DBI version signature %d", h.VersionSignature)
	}
	dbi := &DBIStream{Header: h}

	sizes := []int32{
		h.ModInfoSize, h.SectionContributionSize, h.SectionMapSize,
		h.SourceInfoSize, h.TypeServerMapSize, h.ECSubstreamSize,
	}
	off := DBIHeaderSize
	for _, s := range sizes {
		if s < 0 {
			return nil, fmt.Errorf("negative DBI substream size %d", s)
		}
		off += int(s)
	}

	modEnd := DBIHeaderSize + int(h.ModInfoSize)
	if modEnd <= len(data) {
		modules, err := parseModules(data[DBIHeaderSize:modEnd])
		if err != nil {
			return nil, fmt.Errorf("parse module info: %w", err)
		}
		dbi.Modules = modules
	}

	if h.OptionalDbgHeaderSize > 0 && off+int(h.OptionalDbgHeaderSize) <= len(data) {
		r := &reader{buf: data[off : off+int(h.OptionalDbgHeaderSize)]}
		for r.remaining() >= 2 {
			idx, _ := r.u16()
			dbi.DebugStreams = append(dbi.DebugStreams, idx)
		}
	}
	return dbi, nil
}

// DebugStream returns the stream index stored in an optional debug header slot.
func (d *DBIStream) DebugStream(slot int) (int, bool) {
	if slot < 0 || slot >= len(d.DebugStreams) || d.DebugStreams[slot] == NilStream {
		return 0, false
	}
	return int(d.DebugStreams[slot]), true
}

func parseModules(data []byte) ([]ModuleInfo, error) {
	var modules []ModuleInfo
	r := &reader{buf: data}
	for r.remaining() >= moduleHeaderSize {
		raw, _ := r.bytes(moduleHeaderSize)
		var h moduleHeader
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &h); err != nil {
			return nil, err
		}
		name, err := r.cstring()
		if err != nil {
			return nil, fmt.Errorf("module %d name: %w", len(modules), err)
		}
		obj, err := r.cstring()
		if err != nil {
			return nil, fmt.Errorf("module %d object name: %w", len(modules), err)
		}
		r.align(4)
		modules = append(modules, ModuleInfo{
			SectionContrib:  h.SectionContrib,
			ModuleSymStream: h.ModuleSymStream,
			SymByteSize:     h.SymByteSize,
			SourceFileCount: h.SourceFileCount,
			ModuleName:      name,
			ObjFileName:     obj,
		})
	}
	return modules, nil
}

// SectionHeader is an IMAGE_SECTION_HEADER copied from the executable.
type SectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

// SectionHeaderSize is the encoded size of SectionHeader.
const SectionHeaderSize = 40

// SectionName returns the section name without NUL padding.
func (s *SectionHeader) SectionName() string {
	return strings.TrimRight(string(s.Name[:]), "\x00")
}

// ReadSectionHeaders decodes the section header debug stream.
func ReadSectionHeaders(data []byte) ([]SectionHeader, error) {
	if len(data)%SectionHeaderSize != 0 {
		return nil, fmt.Errorf("section header stream size %d is not a multiple of %d", len(data), SectionHeaderSize)
	}
	out := make([]SectionHeader, len(data)/SectionHeaderSize)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("read section headers: %w", err)
	}
	return out, nil
}

// MachineTypeName returns a short name for a machine type.
func MachineTypeName(machine uint16) string {
	switch machine {
	case MachineI386:
		return "x86"
	case MachineAMD64:
		return "x64"
	case MachineARM:
		return "ARM"
	case MachineARM64:
		return "ARM64"
	case MachineIA64:
		return "IA64"
	default:
		return fmt.Sprintf("0x%04x", machine)
	}
}
