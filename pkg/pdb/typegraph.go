package pdb

import (
	"fmt"

	"github.com/jtang613/pdbreader/pkg/pdb/codeview"
	"github.com/jtang613/pdbreader/pkg/pdb/streams"
	"github.com/jtang613/pdbreader/pkg/provider"
)

type builtin struct {
	basic provider.BasicType
	size  uint64
}

var builtins = map[uint32]builtin{
	streams.T_VOID:    {provider.BasicVoid, 0},
	streams.T_HRESULT: {provider.BasicHresult, 4},
	streams.T_CHAR:    {provider.BasicChar, 1},
	streams.T_RCHAR:   {provider.BasicChar, 1},
	streams.T_UCHAR:   {provider.BasicUInt, 1},
	streams.T_WCHAR:   {provider.BasicWChar, 2},
	streams.T_CHAR8:   {provider.BasicChar8, 1},
	streams.T_CHAR16:  {provider.BasicChar16, 2},
	streams.T_CHAR32:  {provider.BasicChar32, 4},
	streams.T_SHORT:   {provider.BasicInt, 2},
	streams.T_USHORT:  {provider.BasicUInt, 2},
	streams.T_LONG:    {provider.BasicLong, 4},
	streams.T_ULONG:   {provider.BasicULong, 4},
	streams.T_QUAD:    {provider.BasicInt, 8},
	streams.T_UQUAD:   {provider.BasicUInt, 8},
	streams.T_OCT:     {provider.BasicInt, 16},
	streams.T_UOCT:    {provider.BasicUInt, 16},
	streams.T_INT1:    {provider.BasicInt, 1},
	streams.T_UINT1:   {provider.BasicUInt, 1},
	streams.T_INT2:    {provider.BasicInt, 2},
	streams.T_UINT2:   {provider.BasicUInt, 2},
	streams.T_INT4:    {provider.BasicInt, 4},
	streams.T_UINT4:   {provider.BasicUInt, 4},
	streams.T_INT8:    {provider.BasicInt, 8},
	streams.T_UINT8:   {provider.BasicUInt, 8},
	streams.T_INT16:   {provider.BasicInt, 16},
	streams.T_UINT16:  {provider.BasicUInt, 16},
	streams.T_BOOL08:  {provider.BasicBool, 1},
	streams.T_BOOL16:  {provider.BasicBool, 2},
	streams.T_BOOL32:  {provider.BasicBool, 4},
	streams.T_BOOL64:  {provider.BasicBool, 8},
	streams.T_REAL16:  {provider.BasicFloat, 2},
	streams.T_REAL32:  {provider.BasicFloat, 4},
	streams.T_REAL64:  {provider.BasicFloat, 8},
	streams.T_REAL80:  {provider.BasicFloat, 10},
	streams.T_REAL128: {provider.BasicFloat, 16},
}

func builtinPointerSize(mode uint32) uint64 {
	switch mode {
	case streams.TM_NPTR64:
		return 8
	case streams.TM_NPTR128:
		return 16
	case streams.TM_NPTR, streams.TM_FPTR, streams.TM_HPTR:
		return 2
	default:
		return 4
	}
}

func isUserType(kind uint16) bool {
	switch kind {
	case streams.LF_STRUCTURE, streams.LF_CLASS, streams.LF_INTERFACE, streams.LF_UNION, streams.LF_ENUM:
		return true
	}
	return false
}

func (f *File) isForwardRef(rec *streams.TypeRecord) bool {
	if rec.Kind == streams.LF_ENUM {
		e, err := codeview.ParseEnum(rec.Data)
		return err != nil || e.IsForwardRef()
	}
	c, err := codeview.ParseClass(rec.Kind, rec.Data)
	return err != nil || c.IsForwardRef()
}

// indexDefinitions records the first complete record for every class and enum
// name, keyed by unique name when the record carries one.
func (f *File) indexDefinitions() {
	add := func(key string, ti uint32) {
		if _, ok := f.definitions[key]; !ok && key != "" {
			f.definitions[key] = ti
		}
	}
	for i := range f.tpi.Records {
		rec := &f.tpi.Records[i]
		switch {
		case rec.Kind == streams.LF_ENUM:
			if e, err := codeview.ParseEnum(rec.Data); err == nil && !e.IsForwardRef() {
				add(e.UniqueName, rec.Index)
				add(e.Name, rec.Index)
			}
		case isUserType(rec.Kind):
			if c, err := codeview.ParseClass(rec.Kind, rec.Data); err == nil && !c.IsForwardRef() {
				add(c.UniqueName, rec.Index)
				add(c.Name, rec.Index)
			}
		}
	}
}

func (f *File) definition(name, unique string) (uint32, bool) {
	if ti, ok := f.definitions[unique]; ok && unique != "" {
		return ti, true
	}
	ti, ok := f.definitions[name]
	return ti, ok
}

// typeNode returns the node for type index ti, building it on first use.
// Modifiers and bitfields resolve to their underlying type and forward
// references to their definition.
func (f *File) typeNode(ti uint32) (*node, error) {
	return f.typeNodeAt(ti, 0)
}

const maxTypeChain = 64

func (f *File) typeNodeAt(ti uint32, depth int) (*node, error) {
	if n, ok := f.types[ti]; ok {
		return n, nil
	}
	if depth > maxTypeChain {
		return nil, fmt.Errorf("type %#x: alias chain too deep: %w", ti, provider.ErrNotFound)
	}
	n, err := f.buildTypeNode(ti, depth)
	if err != nil {
		return nil, err
	}
	f.types[ti] = n
	return n, nil
}

func (f *File) buildTypeNode(ti uint32, depth int) (*node, error) {
	if ti < streams.TypeIndexBegin {
		return f.builtinNode(ti)
	}
	rec := f.tpi.Record(ti)
	if rec == nil {
		return nil, fmt.Errorf("type %#x: %w", ti, provider.ErrNotFound)
	}

	n := &node{f: f, id: provider.SymbolID(ti), name: f.namer.Name(ti)}
	switch rec.Kind {
	case streams.LF_MODIFIER:
		m, err := codeview.ParseModifier(rec.Data)
		if err != nil {
			return nil, err
		}
		return f.typeNodeAt(m.Modified, depth+1)

	case streams.LF_BITFIELD:
		b, err := codeview.ParseBitfield(rec.Data)
		if err != nil {
			return nil, err
		}
		return f.typeNodeAt(b.Type, depth+1)

	case streams.LF_STRUCTURE, streams.LF_CLASS, streams.LF_INTERFACE, streams.LF_UNION:
		c, err := codeview.ParseClass(rec.Kind, rec.Data)
		if err != nil {
			return nil, err
		}
		if c.IsForwardRef() {
			if def, ok := f.definition(c.Name, c.UniqueName); ok && def != ti {
				return f.typeNodeAt(def, depth+1)
			}
		}
		n.tag = provider.SymTagUDT
		n.name = c.Name
		n.length, n.attrs = c.Size, hasLength
		if !c.IsForwardRef() {
			n.fieldList = c.FieldList
		}

	case streams.LF_ENUM:
		e, err := codeview.ParseEnum(rec.Data)
		if err != nil {
			return nil, err
		}
		if e.IsForwardRef() {
			if def, ok := f.definition(e.Name, e.UniqueName); ok && def != ti {
				return f.typeNodeAt(def, depth+1)
			}
		}
		n.tag = provider.SymTagEnum
		n.name = e.Name
		n.typ, n.attrs = provider.SymbolID(e.Underlying), hasType
		if under, err := f.typeNodeAt(e.Underlying, depth+1); err == nil {
			n.length, n.attrs = under.length, n.attrs|hasLength
			n.basic, n.attrs = under.basic, n.attrs|(under.attrs&hasBasic)
		}
		if !e.IsForwardRef() {
			n.fieldList = e.FieldList
		}

	case streams.LF_ARRAY:
		a, err := codeview.ParseArray(rec.Data)
		if err != nil {
			return nil, err
		}
		n.tag = provider.SymTagArrayType
		n.length, n.typ, n.attrs = a.Size, provider.SymbolID(a.Element), hasLength|hasType

	case streams.LF_POINTER:
		p, err := codeview.ParsePointer(rec.Data)
		if err != nil {
			return nil, err
		}
		n.tag = provider.SymTagPointerType
		n.length, n.typ, n.attrs = p.Size(), provider.SymbolID(p.Referent), hasLength|hasType

	case streams.LF_PROCEDURE, streams.LF_MFUNCTION:
		p, err := codeview.ParseProcedure(rec.Kind, rec.Data)
		if err != nil {
			return nil, err
		}
		n.tag = provider.SymTagFunctionType
		n.typ, n.attrs = provider.SymbolID(p.Return), hasType

	case streams.LF_VTSHAPE:
		n.tag = provider.SymTagVTableShape

	default:
		n.tag = provider.SymTagCustom
	}
	return n, nil
}

func (f *File) builtinNode(ti uint32) (*node, error) {
	kind, mode := streams.BuiltinKind(ti)
	b, ok := builtins[kind]
	if !ok {
		return nil, fmt.Errorf("builtin type %#x: %w", ti, provider.ErrNotFound)
	}
	n := &node{f: f, id: provider.SymbolID(ti), name: streams.BuiltinName(ti)}
	if mode != streams.TM_DIRECT {
		n.tag = provider.SymTagPointerType
		n.length, n.typ, n.attrs = builtinPointerSize(mode), provider.SymbolID(kind), hasLength|hasType
		return n, nil
	}
	n.tag = provider.SymTagBaseType
	n.basic, n.length, n.attrs = b.basic, b.size, hasBasic|hasLength
	return n, nil
}

// loadChildren decodes the field list of a UDT or enum into child nodes.
func (f *File) loadChildren(n *node) error {
	if n.loaded {
		return nil
	}
	if n.fieldList == 0 {
		n.loaded = true
		return nil
	}

	var children []*node
	visited := make(map[uint32]bool)
	for ti := n.fieldList; ti != 0; {
		if visited[ti] {
			return fmt.Errorf("field list %#x of %s continues into itself", ti, n.name)
		}
		visited[ti] = true
		rec := f.tpi.Record(ti)
		if rec == nil || rec.Kind != streams.LF_FIELDLIST {
			return fmt.Errorf("field list %#x of %s: %w", ti, n.name, provider.ErrNotFound)
		}
		fields, err := codeview.ParseFieldList(rec.Data)
		if err != nil {
			return fmt.Errorf("field list %#x of %s: %w", ti, n.name, err)
		}
		ti = 0
		for _, fl := range fields {
			if fl.Leaf == streams.LF_INDEX {
				ti = fl.Type
				continue
			}
			children = append(children, f.newNode(f.fieldNode(fl)))
		}
	}
	n.children = children
	n.loaded = true
	return nil
}

func (f *File) fieldNode(fl codeview.Field) *node {
	c := &node{name: fl.Name, typ: provider.SymbolID(fl.Type), attrs: hasType}
	switch fl.Leaf {
	case streams.LF_MEMBER:
		c.tag = provider.SymTagData
		c.kind, c.offset, c.attrs = provider.DataIsMember, int32(fl.Offset), c.attrs|hasKind|hasOffset
	case streams.LF_STMEMBER:
		c.tag = provider.SymTagData
		c.kind, c.attrs = provider.DataIsStaticMember, c.attrs|hasKind
	case streams.LF_ENUMERATE:
		c.tag = provider.SymTagData
		c.kind, c.attrs = provider.DataIsConstant, hasKind
	case streams.LF_BCLASS, streams.LF_VBCLASS, streams.LF_IVBCLASS:
		c.tag = provider.SymTagBaseClass
		c.name = f.namer.Name(fl.Type)
		if fl.Leaf == streams.LF_BCLASS {
			c.offset, c.attrs = int32(fl.Offset), c.attrs|hasOffset
		}
	case streams.LF_NESTTYPE:
		c.tag = provider.SymTagTypedef
	case streams.LF_ONEMETHOD, streams.LF_METHOD:
		c.tag = provider.SymTagFunction
		if fl.Leaf == streams.LF_METHOD {
			// The type of an overload set is its method list.
			c.attrs &^= hasType
		}
	case streams.LF_VFUNCTAB:
		c.tag = provider.SymTagVTable
	}
	return c
}
