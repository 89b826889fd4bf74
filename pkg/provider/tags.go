package provider

import (
	"fmt"
	"strings"
)

// SymTag is the category of a symbol. Values follow the DIA SymTagEnum numbering.
type SymTag uint32

const (
	SymTagNull SymTag = iota
	SymTagExe
	SymTagCompiland
	SymTagCompilandDetails
	SymTagCompilandEnv
	SymTagFunction
	SymTagBlock
	SymTagData
	SymTagAnnotation
	SymTagLabel
	SymTagPublicSymbol
	SymTagUDT
	SymTagEnum
	SymTagFunctionType
	SymTagPointerType
	SymTagArrayType
	SymTagBaseType
	SymTagTypedef
	SymTagBaseClass
	SymTagFriend
	SymTagFunctionArgType
	SymTagFuncDebugStart
	SymTagFuncDebugEnd
	SymTagUsingNamespace
	SymTagVTableShape
	SymTagVTable
	SymTagCustom
	SymTagThunk
)

var symTagNames = map[SymTag]string{
	SymTagNull:            "null",
	SymTagExe:             "exe",
	SymTagCompiland:       "compiland",
	SymTagFunction:        "function",
	SymTagBlock:           "block",
	SymTagData:            "data",
	SymTagLabel:           "label",
	SymTagPublicSymbol:    "public",
	SymTagUDT:             "udt",
	SymTagEnum:            "enum",
	SymTagFunctionType:    "function_type",
	SymTagPointerType:     "pointer",
	SymTagArrayType:       "array",
	SymTagBaseType:        "base",
	SymTagTypedef:         "typedef",
	SymTagBaseClass:       "base_class",
	SymTagFunctionArgType: "function_arg",
	SymTagVTableShape:     "vtable_shape",
	SymTagVTable:          "vtable",
	SymTagThunk:           "thunk",
}

func (t SymTag) String() string {
	if name, ok := symTagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("symtag(%d)", uint32(t))
}

// MarshalText renders the tag by name in JSON output.
func (t SymTag) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseSymTag maps a category name to its tag. "any" and "all" select SymTagNull.
func ParseSymTag(s string) (SymTag, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "any", "all":
		return SymTagNull, nil
	case "func", "functions":
		return SymTagFunction, nil
	case "publics", "pub":
		return SymTagPublicSymbol, nil
	case "struct", "class", "union":
		return SymTagUDT, nil
	}
	for tag, name := range symTagNames {
		if name == s {
			return tag, nil
		}
	}
	return SymTagNull, fmt.Errorf("unknown symbol category %q", s)
}

// BasicType is the base-type code of a SymTagBaseType symbol (DIA BasicType).
type BasicType uint32

const (
	BasicNoType   BasicType = 0
	BasicVoid     BasicType = 1
	BasicChar     BasicType = 2
	BasicWChar    BasicType = 3
	BasicInt      BasicType = 6
	BasicUInt     BasicType = 7
	BasicFloat    BasicType = 8
	BasicBCD      BasicType = 9
	BasicBool     BasicType = 10
	BasicLong     BasicType = 13
	BasicULong    BasicType = 14
	BasicCurrency BasicType = 25
	BasicDate     BasicType = 26
	BasicVariant  BasicType = 27
	BasicComplex  BasicType = 28
	BasicBit      BasicType = 29
	BasicBSTR     BasicType = 30
	BasicHresult  BasicType = 31
	BasicChar16   BasicType = 32
	BasicChar32   BasicType = 33
	BasicChar8    BasicType = 34
)

// DataKind classifies SymTagData symbols (DIA DataKind).
type DataKind uint32

const (
	DataIsUnknown DataKind = iota
	DataIsLocal
	DataIsStaticLocal
	DataIsParam
	DataIsObjectPtr
	DataIsFileStatic
	DataIsGlobal
	DataIsMember
	DataIsStaticMember
	DataIsConstant
)
