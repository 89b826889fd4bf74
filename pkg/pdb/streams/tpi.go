package streams

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// TPI stream versions.
const (
	TPIStreamVersionV70 = 19990903
	TPIStreamVersionV80 = 20040203
)

// TypeIndexBegin is the first index assigned to a TPI record. Lower indices
// denote built-in types.
const TypeIndexBegin = 0x1000

// TPIHeader is the header of stream 2.
type TPIHeader struct {
	Version                 uint32
	HeaderSize              uint32
	TypeIndexBegin          uint32
	TypeIndexEnd            uint32
	TypeRecordBytes         uint32
	HashStreamIndex         uint16
	HashAuxStreamIndex      uint16
	HashKeySize             uint32
	NumHashBuckets          uint32
	HashValueBufferOffset   int32
	HashValueBufferLength   uint32
	IndexOffsetBufferOffset int32
	IndexOffsetBufferLength uint32
	HashAdjBufferOffset     int32
	HashAdjBufferLength     uint32
}

// TPIHeaderSize is the encoded size of TPIHeader.
const TPIHeaderSize = 56

// TypeRecord is one type record; Data excludes the length and kind prefix.
type TypeRecord struct {
	Index uint32
	Kind  uint16
	Data  []byte
}

// TPIStream holds the records of stream 2 in index order.
type TPIStream struct {
	Header  TPIHeader
	Records []TypeRecord
}

// ReadTPIStream decodes the header and splits the record area into records.
func ReadTPIStream(data []byte) (*TPIStream, error) {
	var h TPIHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("read TPI header: %w", err)
	}
	if h.Version != TPIStreamVersionV80 && h.Version != TPIStreamVersionV70 {
		return nil, fmt.Errorf("unsupported TPI version %d", h.Version)
	}
	if h.TypeIndexEnd < h.TypeIndexBegin {
		return nil, fmt.Errorf("TPI index range [%#x, %#x) is inverted", h.TypeIndexBegin, h.TypeIndexEnd)
	}
	start := int(h.HeaderSize)
	end := start + int(h.TypeRecordBytes)
	if start < TPIHeaderSize || end > len(data) {
		return nil, fmt.Errorf("TPI record area [%d, %d) outside stream of %d bytes", start, end, len(data))
	}

	tpi := &TPIStream{Header: h, Records: make([]TypeRecord, 0, h.TypeIndexEnd-h.TypeIndexBegin)}
	r := &reader{buf: data[start:end]}
	for ti := h.TypeIndexBegin; ti < h.TypeIndexEnd; ti++ {
		length, err := r.u16()
		if err != nil {
			break
		}
		body, err := r.bytes(int(length))
		if err != nil || len(body) < 2 {
			return nil, fmt.Errorf("type record %#x truncated", ti)
		}
		tpi.Records = append(tpi.Records, TypeRecord{
			Index: ti,
			Kind:  binary.LittleEndian.Uint16(body),
			Data:  body[2:],
		})
	}
	return tpi, nil
}

// Record returns the record with type index ti, or nil.
func (t *TPIStream) Record(ti uint32) *TypeRecord {
	if ti < t.Header.TypeIndexBegin {
		return nil
	}
	i := ti - t.Header.TypeIndexBegin
	if i >= uint32(len(t.Records)) {
		return nil
	}
	return &t.Records[i]
}

// Type record leaves.
const (
	LF_VTSHAPE   = 0x000a
	LF_MODIFIER  = 0x1001
	LF_POINTER   = 0x1002
	LF_PROCEDURE = 0x1008
	LF_MFUNCTION = 0x1009
	LF_ARGLIST   = 0x1201
	LF_FIELDLIST = 0x1203
	LF_BITFIELD  = 0x1205
	LF_ARRAY     = 0x1503
	LF_CLASS     = 0x1504
	LF_STRUCTURE = 0x1505
	LF_UNION     = 0x1506
	LF_ENUM      = 0x1507
	LF_INTERFACE = 0x1519
)

// Field list leaves.
const (
	LF_BCLASS    = 0x1400
	LF_VBCLASS   = 0x1401
	LF_IVBCLASS  = 0x1402
	LF_INDEX     = 0x1404
	LF_VFUNCTAB  = 0x1409
	LF_ENUMERATE = 0x1502
	LF_MEMBER    = 0x150d
	LF_STMEMBER  = 0x150e
	LF_METHOD    = 0x150f
	LF_NESTTYPE  = 0x1510
	LF_ONEMETHOD = 0x1511
)

// Numeric leaves.
const (
	LF_NUMERIC   = 0x8000
	LF_CHAR      = 0x8000
	LF_SHORT     = 0x8001
	LF_USHORT    = 0x8002
	LF_LONG      = 0x8003
	LF_ULONG     = 0x8004
	LF_QUADWORD  = 0x8009
	LF_UQUADWORD = 0x800a
)

// Built-in type modes (bits 8-11 of a built-in index).
const (
	TM_DIRECT  = 0
	TM_NPTR    = 1
	TM_FPTR    = 2
	TM_HPTR    = 3
	TM_NPTR32  = 4
	TM_FPTR32  = 5
	TM_NPTR64  = 6
	TM_NPTR128 = 7
)

// Built-in type kinds (bits 0-7 of a built-in index).
const (
	T_NOTYPE  = 0x0000
	T_VOID    = 0x0003
	T_HRESULT = 0x0008
	T_CHAR    = 0x0010
	T_SHORT   = 0x0011
	T_LONG    = 0x0012
	T_QUAD    = 0x0013
	T_OCT     = 0x0014
	T_UCHAR   = 0x0020
	T_USHORT  = 0x0021
	T_ULONG   = 0x0022
	T_UQUAD   = 0x0023
	T_UOCT    = 0x0024
	T_BOOL08  = 0x0030
	T_BOOL16  = 0x0031
	T_BOOL32  = 0x0032
	T_BOOL64  = 0x0033
	T_REAL32  = 0x0040
	T_REAL64  = 0x0041
	T_REAL80  = 0x0042
	T_REAL128 = 0x0043
	T_REAL16  = 0x0046
	T_INT1    = 0x0068
	T_UINT1   = 0x0069
	T_RCHAR   = 0x0070
	T_WCHAR   = 0x0071
	T_INT2    = 0x0072
	T_UINT2   = 0x0073
	T_INT4    = 0x0074
	T_UINT4   = 0x0075
	T_INT8    = 0x0076
	T_UINT8   = 0x0077
	T_INT16   = 0x0078
	T_UINT16  = 0x0079
	T_CHAR16  = 0x007a
	T_CHAR32  = 0x007b
	T_CHAR8   = 0x007c

	T_64PVOID = TM_NPTR64<<8 | T_VOID
)

// BuiltinKind splits a built-in index into its kind and pointer mode.
func BuiltinKind(ti uint32) (kind, mode uint32) {
	return ti & 0xFF, (ti >> 8) & 0xF
}

var builtinNames = map[uint32]string{
	T_NOTYPE:  "<no type>",
	T_VOID:    "void",
	T_HRESULT: "HRESULT",
	T_CHAR:    "char",
	T_SHORT:   "short",
	T_LONG:    "long",
	T_QUAD:    "int64",
	T_OCT:     "int128",
	T_UCHAR:   "unsigned char",
	T_USHORT:  "unsigned short",
	T_ULONG:   "unsigned long",
	T_UQUAD:   "uint64",
	T_UOCT:    "uint128",
	T_BOOL08:  "bool",
	T_BOOL32:  "BOOL",
	T_REAL32:  "float",
	T_REAL64:  "double",
	T_REAL80:  "long double",
	T_INT1:    "int8",
	T_UINT1:   "uint8",
	T_RCHAR:   "char",
	T_WCHAR:   "wchar_t",
	T_INT2:    "int16",
	T_UINT2:   "uint16",
	T_INT4:    "int32",
	T_UINT4:   "uint32",
	T_INT8:    "int64",
	T_UINT8:   "uint64",
	T_CHAR16:  "char16_t",
	T_CHAR32:  "char32_t",
	T_CHAR8:   "char8_t",
}

// BuiltinName renders a built-in index, with a trailing "*" for pointer modes.
func BuiltinName(ti uint32) string {
	if ti >= TypeIndexBegin {
		return ""
	}
	kind, mode := BuiltinKind(ti)
	name, ok := builtinNames[kind]
	if !ok {
		name = fmt.Sprintf("builtin_0x%04x", ti)
	}
	switch mode {
	case TM_DIRECT:
		return name
	case TM_FPTR, TM_FPTR32:
		return name + " far*"
	default:
		return name + "*"
	}
}
