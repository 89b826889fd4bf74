package codeview

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/jtang613/pdbreader/pkg/pdb/streams"
)

// Class property bits.
const (
	PropForwardRef    = 0x0080
	PropHasUniqueName = 0x0200
)

// Class is a decoded LF_STRUCTURE, LF_CLASS, LF_INTERFACE or LF_UNION record.
type Class struct {
	Leaf       uint16
	Count      uint16
	Props      uint16
	FieldList  uint32
	Size       uint64
	Name       string
	UniqueName string
}

// IsForwardRef reports whether the record only declares the type.
func (c *Class) IsForwardRef() bool { return c.Props&PropForwardRef != 0 }

// ParseClass decodes a class-like record body.
func ParseClass(leaf uint16, data []byte) (*Class, error) {
	c := &Class{Leaf: leaf}
	if len(data) < 8 {
		return nil, fmt.Errorf("class record too small: %d bytes", len(data))
	}
	c.Count = binary.LittleEndian.Uint16(data[0:])
	c.Props = binary.LittleEndian.Uint16(data[2:])
	c.FieldList = binary.LittleEndian.Uint32(data[4:])
	off := 8
	if leaf != streams.LF_UNION {
		// derived and vshape
		off += 8
	}
	if off > len(data) {
		return nil, fmt.Errorf("class record too small: %d bytes", len(data))
	}
	size, n := streams.ParseNumeric(data[off:])
	if n == 0 {
		return nil, fmt.Errorf("class record size: %w", io.ErrUnexpectedEOF)
	}
	c.Size = size
	off += n
	c.Name, n = streams.ParseString(data[off:])
	off += n
	if c.Props&PropHasUniqueName != 0 && off < len(data) {
		c.UniqueName, _ = streams.ParseString(data[off:])
	}
	return c, nil
}

// Enum is a decoded LF_ENUM record.
type Enum struct {
	Count      uint16
	Props      uint16
	Underlying uint32
	FieldList  uint32
	Name       string
	UniqueName string
}

// IsForwardRef reports whether the record only declares the type.
func (e *Enum) IsForwardRef() bool { return e.Props&PropForwardRef != 0 }

// ParseEnum decodes an LF_ENUM body.
func ParseEnum(data []byte) (*Enum, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("enum record too small: %d bytes", len(data))
	}
	e := &Enum{
		Count:      binary.LittleEndian.Uint16(data[0:]),
		Props:      binary.LittleEndian.Uint16(data[2:]),
		Underlying: binary.LittleEndian.Uint32(data[4:]),
		FieldList:  binary.LittleEndian.Uint32(data[8:]),
	}
	name, n := streams.ParseString(data[12:])
	e.Name = name
	if e.Props&PropHasUniqueName != 0 && 12+n < len(data) {
		e.UniqueName, _ = streams.ParseString(data[12+n:])
	}
	return e, nil
}

// Array is a decoded LF_ARRAY record. Size is the total size in bytes.
type Array struct {
	Element uint32
	Index   uint32
	Size    uint64
	Name    string
}

// ParseArray decodes an LF_ARRAY body.
func ParseArray(data []byte) (*Array, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("array record too small: %d bytes", len(data))
	}
	a := &Array{
		Element: binary.LittleEndian.Uint32(data[0:]),
		Index:   binary.LittleEndian.Uint32(data[4:]),
	}
	size, n := streams.ParseNumeric(data[8:])
	if n == 0 {
		return nil, fmt.Errorf("array record size: %w", io.ErrUnexpectedEOF)
	}
	a.Size = size
	a.Name, _ = streams.ParseString(data[8+n:])
	return a, nil
}

// Pointer modes.
const (
	PointerModePointer   = 0
	PointerModeLValueRef = 1
	PointerModeMember    = 2
	PointerModeMemberFn  = 3
	PointerModeRValueRef = 4
)

// Pointer is a decoded LF_POINTER record.
type Pointer struct {
	Referent uint32
	Attrs    uint32
}

// Mode returns the pointer mode bits.
func (p *Pointer) Mode() uint32 { return (p.Attrs >> 5) & 0x7 }

// Size returns the pointer width in bytes.
func (p *Pointer) Size() uint64 { return uint64((p.Attrs >> 13) & 0x3F) }

// IsConst reports whether the pointer itself is const.
func (p *Pointer) IsConst() bool { return p.Attrs&(1<<10) != 0 }

// ParsePointer decodes an LF_POINTER body.
func ParsePointer(data []byte) (*Pointer, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("pointer record too small: %d bytes", len(data))
	}
	return &Pointer{
		Referent: binary.LittleEndian.Uint32(data[0:]),
		Attrs:    binary.LittleEndian.Uint32(data[4:]),
	}, nil
}

// Modifier flags.
const (
	ModConst     = 0x1
	ModVolatile  = 0x2
	ModUnaligned = 0x4
)

// Modifier is a decoded LF_MODIFIER record.
type Modifier struct {
	Modified  uint32
	Modifiers uint16
}

// ParseModifier decodes an LF_MODIFIER body.
func ParseModifier(data []byte) (*Modifier, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("modifier record too small: %d bytes", len(data))
	}
	return &Modifier{
		Modified:  binary.LittleEndian.Uint32(data[0:]),
		Modifiers: binary.LittleEndian.Uint16(data[4:]),
	}, nil
}

// Bitfield is a decoded LF_BITFIELD record.
type Bitfield struct {
	Type     uint32
	Length   uint8
	Position uint8
}

// ParseBitfield decodes an LF_BITFIELD body.
func ParseBitfield(data []byte) (*Bitfield, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("bitfield record too small: %d bytes", len(data))
	}
	return &Bitfield{
		Type:     binary.LittleEndian.Uint32(data[0:]),
		Length:   data[4],
		Position: data[5],
	}, nil
}

// Procedure is a decoded LF_PROCEDURE or LF_MFUNCTION record.
type Procedure struct {
	Return  uint32
	Class   uint32
	ArgList uint32
	Params  uint16
}

// ParseProcedure decodes an LF_PROCEDURE or LF_MFUNCTION body.
func ParseProcedure(leaf uint16, data []byte) (*Procedure, error) {
	if leaf == streams.LF_MFUNCTION {
		if len(data) < 24 {
			return nil, fmt.Errorf("member function record too small: %d bytes", len(data))
		}
		return &Procedure{
			Return:  binary.LittleEndian.Uint32(data[0:]),
			Class:   binary.LittleEndian.Uint32(data[4:]),
			Params:  binary.LittleEndian.Uint16(data[14:]),
			ArgList: binary.LittleEndian.Uint32(data[16:]),
		}, nil
	}
	if len(data) < 12 {
		return nil, fmt.Errorf("procedure record too small: %d bytes", len(data))
	}
	return &Procedure{
		Return:  binary.LittleEndian.Uint32(data[0:]),
		Params:  binary.LittleEndian.Uint16(data[6:]),
		ArgList: binary.LittleEndian.Uint32(data[8:]),
	}, nil
}

// ParseArgList returns the argument type indices of an LF_ARGLIST body.
func ParseArgList(data []byte) []uint32 {
	if len(data) < 4 {
		return nil
	}
	count := binary.LittleEndian.Uint32(data)
	var args []uint32
	for off := 4; uint32(len(args)) < count && off+4 <= len(data); off += 4 {
		args = append(args, binary.LittleEndian.Uint32(data[off:]))
	}
	return args
}

// Method properties stored in bits 2-4 of member attributes.
const (
	MethodIntroVirtual     = 4
	MethodPureIntroVirtual = 6
)

// Field is one entry of an LF_FIELDLIST. Offset holds the byte offset of data
// members and base classes; Value holds the value of enumerators. An LF_INDEX
// entry carries the continuation field list in Type.
type Field struct {
	Leaf   uint16
	Attrs  uint16
	Type   uint32
	Offset uint64
	Value  uint64
	Name   string
}

// ParseFieldList decodes the members of an LF_FIELDLIST body.
func ParseFieldList(data []byte) ([]Field, error) {
	var fields []Field
	off := 0
	for off+2 <= len(data) {
		if data[off] >= 0xF0 {
			off += max(int(data[off]&0x0F), 1)
			continue
		}
		leaf := binary.LittleEndian.Uint16(data[off:])
		f, n, err := parseField(leaf, data[off+2:])
		if err != nil {
			return fields, fmt.Errorf("field %d (leaf %#x): %w", len(fields), leaf, err)
		}
		fields = append(fields, f)
		off += 2 + n
	}
	return fields, nil
}

func parseField(leaf uint16, data []byte) (Field, int, error) {
	f := Field{Leaf: leaf}
	need := func(n int) error {
		if len(data) < n {
			return io.ErrUnexpectedEOF
		}
		return nil
	}
	if err := need(2); err != nil {
		return f, 0, err
	}
	f.Attrs = binary.LittleEndian.Uint16(data)
	off := 2

	switch leaf {
	case streams.LF_MEMBER, streams.LF_BCLASS:
		if err := need(off + 4); err != nil {
			return f, 0, err
		}
		f.Type = binary.LittleEndian.Uint32(data[off:])
		off += 4
		v, n := streams.ParseNumeric(data[off:])
		if n == 0 {
			return f, 0, io.ErrUnexpectedEOF
		}
		f.Offset = v
		off += n
		if leaf == streams.LF_MEMBER {
			name, n := streams.ParseString(data[off:])
			f.Name = name
			off += n
		}

	case streams.LF_VBCLASS, streams.LF_IVBCLASS:
		if err := need(off + 8); err != nil {
			return f, 0, err
		}
		f.Type = binary.LittleEndian.Uint32(data[off:])
		off += 8
		for range 2 {
			_, n := streams.ParseNumeric(data[off:])
			if n == 0 {
				return f, 0, io.ErrUnexpectedEOF
			}
			off += n
		}

	case streams.LF_STMEMBER, streams.LF_NESTTYPE:
		if err := need(off + 4); err != nil {
			return f, 0, err
		}
		f.Type = binary.LittleEndian.Uint32(data[off:])
		off += 4
		name, n := streams.ParseString(data[off:])
		f.Name = name
		off += n

	case streams.LF_VFUNCTAB, streams.LF_INDEX:
		if err := need(off + 4); err != nil {
			return f, 0, err
		}
		f.Type = binary.LittleEndian.Uint32(data[off:])
		off += 4

	case streams.LF_ONEMETHOD:
		if err := need(off + 4); err != nil {
			return f, 0, err
		}
		f.Type = binary.LittleEndian.Uint32(data[off:])
		off += 4
		if mprop := (f.Attrs >> 2) & 0x7; mprop == MethodIntroVirtual || mprop == MethodPureIntroVirtual {
			off += 4
		}
		if err := need(off); err != nil {
			return f, 0, err
		}
		name, n := streams.ParseString(data[off:])
		f.Name = name
		off += n

	case streams.LF_METHOD:
		// Attrs holds the overload count here.
		if err := need(off + 4); err != nil {
			return f, 0, err
		}
		f.Type = binary.LittleEndian.Uint32(data[off:])
		off += 4
		name, n := streams.ParseString(data[off:])
		f.Name = name
		off += n

	case streams.LF_ENUMERATE:
		v, n := streams.ParseNumeric(data[off:])
		if n == 0 {
			return f, 0, io.ErrUnexpectedEOF
		}
		f.Value = v
		off += n
		name, n := streams.ParseString(data[off:])
		f.Name = name
		off += n

	default:
		return f, 0, fmt.Errorf("unsupported field leaf")
	}
	return f, off, nil
}

// Namer renders type indices as C-like declarations.
type Namer struct {
	TPI *streams.TPIStream
}

const maxNameDepth = 32

// Name returns a readable rendering of ti.
func (n Namer) Name(ti uint32) string {
	return n.name(ti, 0)
}

func (n Namer) name(ti uint32, depth int) string {
	if ti < streams.TypeIndexBegin {
		return streams.BuiltinName(ti)
	}
	var rec *streams.TypeRecord
	if n.TPI != nil {
		rec = n.TPI.Record(ti)
	}
	if rec == nil || depth > maxNameDepth {
		return fmt.Sprintf("type_0x%x", ti)
	}
	depth++

	switch rec.Kind {
	case streams.LF_POINTER:
		p, err := ParsePointer(rec.Data)
		if err != nil {
			break
		}
		suffix := "*"
		switch p.Mode() {
		case PointerModeLValueRef:
			suffix = "&"
		case PointerModeRValueRef:
			suffix = "&&"
		}
		s := n.name(p.Referent, depth) + suffix
		if p.IsConst() {
			s += " const"
		}
		return s

	case streams.LF_MODIFIER:
		m, err := ParseModifier(rec.Data)
		if err != nil {
			break
		}
		s := n.name(m.Modified, depth)
		if m.Modifiers&ModVolatile != 0 {
			s = "volatile " + s
		}
		if m.Modifiers&ModConst != 0 {
			s = "const " + s
		}
		return s

	case streams.LF_ARRAY:
		a, err := ParseArray(rec.Data)
		if err != nil {
			break
		}
		return fmt.Sprintf("%s[%d]", n.name(a.Element, depth), a.Size)

	case streams.LF_PROCEDURE, streams.LF_MFUNCTION:
		p, err := ParseProcedure(rec.Kind, rec.Data)
		if err != nil {
			break
		}
		var args []string
		if al := n.TPI.Record(p.ArgList); al != nil && al.Kind == streams.LF_ARGLIST {
			for _, a := range ParseArgList(al.Data) {
				args = append(args, n.name(a, depth))
			}
		}
		prefix := ""
		if rec.Kind == streams.LF_MFUNCTION {
			prefix = n.name(p.Class, depth) + "::"
		}
		return fmt.Sprintf("%s %s(%s)", n.name(p.Return, depth), prefix, strings.Join(args, ", "))

	case streams.LF_BITFIELD:
		b, err := ParseBitfield(rec.Data)
		if err != nil {
			break
		}
		return fmt.Sprintf("%s : %d", n.name(b.Type, depth), b.Length)

	case streams.LF_STRUCTURE, streams.LF_CLASS, streams.LF_INTERFACE, streams.LF_UNION:
		if c, err := ParseClass(rec.Kind, rec.Data); err == nil && c.Name != "" {
			return c.Name
		}

	case streams.LF_ENUM:
		if e, err := ParseEnum(rec.Data); err == nil && e.Name != "" {
			return e.Name
		}
	}
	return fmt.Sprintf("type_0x%x", ti)
}
