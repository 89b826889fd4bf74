// Package codeview decodes the CodeView symbol and type records stored in PDB streams.
package codeview

import (
	"encoding/binary"
	"fmt"

	"github.com/jtang613/pdbreader/pkg/pdb/streams"
)

// Symbol record kinds.
const (
	S_END        = 0x0006
	S_OBJNAME    = 0x1101
	S_THUNK32    = 0x1102
	S_BLOCK32    = 0x1103
	S_LABEL32    = 0x1105
	S_CONSTANT   = 0x1107
	S_UDT        = 0x1108
	S_LDATA32    = 0x110c
	S_GDATA32    = 0x110d
	S_PUB32      = 0x110e
	S_LPROC32    = 0x110f
	S_GPROC32    = 0x1110
	S_LTHREAD32  = 0x1112
	S_GTHREAD32  = 0x1113
	S_PROCREF    = 0x1125
	S_DATAREF    = 0x1126
	S_LPROCREF   = 0x1127
	S_COMPILE3   = 0x113c
	S_LPROC32_ID = 0x1146
	S_GPROC32_ID = 0x1147
)

// CVSignatureC13 prefixes module symbol streams.
const CVSignatureC13 = 4

// Public symbol flags.
const (
	PubCode     = 0x1
	PubFunction = 0x2
	PubManaged  = 0x4
	PubMSIL     = 0x8
)

// SymbolRecord is one raw symbol record. Offset is its position in the
// containing stream.
type SymbolRecord struct {
	Offset uint32
	Kind   uint16
	Data   []byte
}

// ProcSym is a decoded procedure record.
type ProcSym struct {
	Parent    uint32
	End       uint32
	Next      uint32
	Length    uint32
	DbgStart  uint32
	DbgEnd    uint32
	TypeIndex uint32
	Offset    uint32
	Segment   uint16
	Flags     uint8
	Name      string
}

// DataSym is a decoded data or thread-local record.
type DataSym struct {
	TypeIndex uint32
	Offset    uint32
	Segment   uint16
	Name      string
}

// UDTSym is a decoded S_UDT record.
type UDTSym struct {
	TypeIndex uint32
	Name      string
}

// PubSym is a decoded S_PUB32 record.
type PubSym struct {
	Flags   uint32
	Offset  uint32
	Segment uint16
	Name    string
}

// IsFunction reports whether the public names code.
func (p *PubSym) IsFunction() bool { return p.Flags&(PubFunction|PubCode) != 0 }

// ConstantSym is a decoded S_CONSTANT record.
type ConstantSym struct {
	TypeIndex uint32
	Value     uint64
	Name      string
}

// ParseSymbols splits a symbol stream into records. A leading C13 signature
// is skipped. Parsing stops at the first truncated record.
func ParseSymbols(data []byte) []SymbolRecord {
	var symbols []SymbolRecord
	off := 0
	if len(data) >= 4 && binary.LittleEndian.Uint32(data) == CVSignatureC13 {
		off = 4
	}
	for off+4 <= len(data) {
		recLen := int(binary.LittleEndian.Uint16(data[off:]))
		if recLen < 2 || off+2+recLen > len(data) {
			break
		}
		symbols = append(symbols, SymbolRecord{
			Offset: uint32(off),
			Kind:   binary.LittleEndian.Uint16(data[off+2:]),
			Data:   data[off+4 : off+2+recLen],
		})
		off += 2 + recLen
	}
	return symbols
}

// ParseProcSym decodes a procedure record.
func ParseProcSym(data []byte) (*ProcSym, error) {
	if len(data) < 35 {
		return nil, fmt.Errorf("proc symbol data too small: %d bytes", len(data))
	}
	proc := &ProcSym{
		Parent:    binary.LittleEndian.Uint32(data[0:]),
		End:       binary.LittleEndian.Uint32(data[4:]),
		Next:      binary.LittleEndian.Uint32(data[8:]),
		Length:    binary.LittleEndian.Uint32(data[12:]),
		DbgStart:  binary.LittleEndian.Uint32(data[16:]),
		DbgEnd:    binary.LittleEndian.Uint32(data[20:]),
		TypeIndex: binary.LittleEndian.Uint32(data[24:]),
		Offset:    binary.LittleEndian.Uint32(data[28:]),
		Segment:   binary.LittleEndian.Uint16(data[32:]),
		Flags:     data[34],
	}
	proc.Name, _ = streams.ParseString(data[35:])
	return proc, nil
}

// ParseDataSym decodes an S_GDATA32, S_LDATA32 or thread-local record.
func ParseDataSym(data []byte) (*DataSym, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("data symbol data too small: %d bytes", len(data))
	}
	sym := &DataSym{
		TypeIndex: binary.LittleEndian.Uint32(data[0:]),
		Offset:    binary.LittleEndian.Uint32(data[4:]),
		Segment:   binary.LittleEndian.Uint16(data[8:]),
	}
	sym.Name, _ = streams.ParseString(data[10:])
	return sym, nil
}

// ParseUDTSym decodes an S_UDT record.
func ParseUDTSym(data []byte) (*UDTSym, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("UDT symbol data too small: %d bytes", len(data))
	}
	udt := &UDTSym{TypeIndex: binary.LittleEndian.Uint32(data)}
	udt.Name, _ = streams.ParseString(data[4:])
	return udt, nil
}

// ParsePubSym decodes an S_PUB32 record.
func ParsePubSym(data []byte) (*PubSym, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("pub symbol data too small: %d bytes", len(data))
	}
	pub := &PubSym{
		Flags:   binary.LittleEndian.Uint32(data[0:]),
		Offset:  binary.LittleEndian.Uint32(data[4:]),
		Segment: binary.LittleEndian.Uint16(data[8:]),
	}
	pub.Name, _ = streams.ParseString(data[10:])
	return pub, nil
}

// ParseConstantSym decodes an S_CONSTANT record.
func ParseConstantSym(data []byte) (*ConstantSym, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("constant symbol data too small: %d bytes", len(data))
	}
	c := &ConstantSym{TypeIndex: binary.LittleEndian.Uint32(data)}
	val, n := streams.ParseNumeric(data[4:])
	if n == 0 {
		return nil, fmt.Errorf("constant symbol value is malformed")
	}
	c.Value = val
	c.Name, _ = streams.ParseString(data[4+n:])
	return c, nil
}

// SymbolKindName returns the S_* name of kind.
func SymbolKindName(kind uint16) string {
	switch kind {
	case S_END:
		return "S_END"
	case S_OBJNAME:
		return "S_OBJNAME"
	case S_THUNK32:
		return "S_THUNK32"
	case S_BLOCK32:
		return "S_BLOCK32"
	case S_LABEL32:
		return "S_LABEL32"
	case S_CONSTANT:
		return "S_CONSTANT"
	case S_UDT:
		return "S_UDT"
	case S_LDATA32:
		return "S_LDATA32"
	case S_GDATA32:
		return "S_GDATA32"
	case S_PUB32:
		return "S_PUB32"
	case S_LPROC32:
		return "S_LPROC32"
	case S_GPROC32:
		return "S_GPROC32"
	case S_LTHREAD32:
		return "S_LTHREAD32"
	case S_GTHREAD32:
		return "S_GTHREAD32"
	case S_PROCREF:
		return "S_PROCREF"
	case S_DATAREF:
		return "S_DATAREF"
	case S_LPROCREF:
		return "S_LPROCREF"
	case S_COMPILE3:
		return "S_COMPILE3"
	case S_LPROC32_ID:
		return "S_LPROC32_ID"
	case S_GPROC32_ID:
		return "S_GPROC32_ID"
	default:
		return fmt.Sprintf("S_0x%04x", kind)
	}
}

// IsProcSymbol reports whether kind is a procedure record.
func IsProcSymbol(kind uint16) bool {
	switch kind {
	case S_GPROC32, S_LPROC32, S_GPROC32_ID, S_LPROC32_ID:
		return true
	}
	return false
}

// IsDataSymbol reports whether kind is a data record.
func IsDataSymbol(kind uint16) bool {
	switch kind {
	case S_GDATA32, S_LDATA32, S_GTHREAD32, S_LTHREAD32:
		return true
	}
	return false
}

// IsGlobalSymbol reports whether kind has global linkage.
func IsGlobalSymbol(kind uint16) bool {
	switch kind {
	case S_GPROC32, S_GPROC32_ID, S_GDATA32, S_GTHREAD32, S_PUB32:
		return true
	}
	return false
}
