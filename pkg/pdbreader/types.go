package pdbreader

import (
	"fmt"

	"github.com/jtang613/pdbreader/pkg/provider"
)

// TypeKind is the semantic category of a resolved type.
type TypeKind int

const (
	TypeUnknown TypeKind = iota
	TypeInteger
	TypeUnsignedInteger
	TypeFloat
	TypeDouble
	TypeChar
	TypeWideChar
	TypeArray
	TypeEnum
	TypeClass
)

var typeKindNames = [...]string{
	TypeUnknown:         "unknown",
	TypeInteger:         "integer",
	TypeUnsignedInteger: "unsigned",
	TypeFloat:           "float",
	TypeDouble:          "double",
	TypeChar:            "char",
	TypeWideChar:        "wchar",
	TypeArray:           "array",
	TypeEnum:            "enum",
	TypeClass:           "class",
}

func (k TypeKind) String() string {
	if k >= 0 && int(k) < len(typeKindNames) {
		return typeKindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText renders the kind by name in JSON output.
func (k TypeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// TypeInfo describes a resolved type. The zero value is the "unresolved" sentinel.
type TypeInfo struct {
	Kind           TypeKind          `json:"kind"`
	Name           string            `json:"name"`
	Size           uint64            `json:"size"`
	SourceID       provider.SymbolID `json:"source_id"`
	ArrayDimension uint32            `json:"array_dimension,omitempty"`
	ArrayElementID provider.SymbolID `json:"array_element_id,omitempty"`

	// reader answers follow-up queries. It never owns the session.
	reader *Reader
}

// Valid reports whether t is a real resolution rather than the sentinel.
func (t TypeInfo) Valid() bool {
	return t.Size > 0
}

// Element resolves the element type of an array.
func (t TypeInfo) Element() TypeInfo {
	if t.Kind != TypeArray || t.reader == nil {
		return TypeInfo{}
	}
	return t.reader.ResolveType(t.ArrayElementID)
}

// Fields lists the data members of a class type.
func (t TypeInfo) Fields() []FieldInfo {
	if t.Kind != TypeClass || t.reader == nil {
		return nil
	}
	return t.reader.FieldsOfID(t.SourceID)
}

// ResolveType maps a type id to a TypeInfo. Failures yield the zero TypeInfo and
// are not cached, so a later call retries.
func (r *Reader) ResolveType(id provider.SymbolID) TypeInfo {
	if t, ok := r.types[id]; ok {
		r.metrics.lookup(cacheTypes, true)
		return t
	}
	r.metrics.lookup(cacheTypes, false)

	if _, busy := r.resolving[id]; busy {
		r.logger.Debug().Uint32("type_id", uint32(id)).Msg("type refers to itself")
		return TypeInfo{}
	}
	r.resolving[id] = struct{}{}
	defer delete(r.resolving, id)

	t, err := r.resolveType(id)
	if err != nil {
		r.logger.Debug().Err(err).Uint32("type_id", uint32(id)).Msg("type not resolved")
		return TypeInfo{}
	}
	r.types[id] = t
	return t
}

func (r *Reader) resolveType(id provider.SymbolID) (TypeInfo, error) {
	sym, err := r.session.SymbolByID(id)
	if err != nil {
		return TypeInfo{}, err
	}
	tag, err := sym.Tag()
	if err != nil {
		return TypeInfo{}, fmt.Errorf("read tag: %w", err)
	}
	size, err := sym.Length()
	if err != nil {
		return TypeInfo{}, fmt.Errorf("read length: %w", err)
	}
	if size == 0 {
		return TypeInfo{}, fmt.Errorf("type has no size")
	}
	sourceID, err := sym.ID()
	if err != nil {
		return TypeInfo{}, fmt.Errorf("read id: %w", err)
	}

	info := TypeInfo{Size: size, SourceID: sourceID, reader: r}

	switch tag {
	case provider.SymTagUDT, provider.SymTagEnum:
		name, err := sym.Name()
		if err != nil {
			return TypeInfo{}, fmt.Errorf("read name: %w", err)
		}
		info.Kind = TypeClass
		if tag == provider.SymTagEnum {
			info.Kind = TypeEnum
		}
		info.Name = name

	case provider.SymTagArrayType:
		elemID, err := sym.TypeID()
		if err != nil {
			return TypeInfo{}, fmt.Errorf("read element type: %w", err)
		}
		elem := r.ResolveType(elemID)
		if !elem.Valid() {
			return TypeInfo{}, fmt.Errorf("element type %d not resolved", elemID)
		}
		if size%elem.Size != 0 {
			return TypeInfo{}, fmt.Errorf("array size %d is not a multiple of element size %d", size, elem.Size)
		}
		dim := uint32(size / elem.Size)
		info.Kind = TypeArray
		info.ArrayDimension = dim
		info.ArrayElementID = elemID
		info.Name = fmt.Sprintf("%s[%d]", elem.Name, dim)

	case provider.SymTagBaseType:
		bt, err := sym.BaseType()
		if err != nil {
			return TypeInfo{}, fmt.Errorf("read base type: %w", err)
		}
		kind, name, ok := baseTypeKind(bt, size)
		if !ok {
			return TypeInfo{}, fmt.Errorf("unsupported base type %d of size %d", bt, size)
		}
		info.Kind = kind
		info.Name = name

	default:
		// Pointers, function types and the like are a stable "unrecognized"
		// answer that keeps its size, so enclosing structs still resolve.
		name, _ := sym.Name()
		info.Kind = TypeUnknown
		info.Name = name
	}
	return info, nil
}

func baseTypeKind(bt provider.BasicType, size uint64) (TypeKind, string, bool) {
	switch bt {
	case provider.BasicChar, provider.BasicChar8:
		return TypeChar, "char", true
	case provider.BasicWChar, provider.BasicChar16:
		return TypeWideChar, "wchar_t", true
	case provider.BasicInt, provider.BasicLong:
		return TypeInteger, fmt.Sprintf("int%d", size*8), true
	case provider.BasicUInt, provider.BasicULong:
		return TypeUnsignedInteger, fmt.Sprintf("uint%d", size*8), true
	case provider.BasicFloat:
		switch size {
		case 4:
			return TypeFloat, "float", true
		case 8:
			return TypeDouble, "double", true
		}
	}
	return TypeUnknown, "", false
}

// LookupType resolves a struct, class, union or enum by exact name.
func (r *Reader) LookupType(name string) (TypeInfo, bool) {
	for _, tag := range []provider.SymTag{provider.SymTagUDT, provider.SymTagEnum} {
		sym, ok := requireUnique(r.global.FindChildren(tag, name, provider.NameSearchCaseSensitive))
		if !ok {
			continue
		}
		id, err := sym.ID()
		if err != nil {
			return TypeInfo{}, false
		}
		t := r.ResolveType(id)
		return t, t.Valid()
	}
	return TypeInfo{}, false
}
