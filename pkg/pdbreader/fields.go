package pdbreader

import (
	"fmt"
	"slices"

	"github.com/jtang613/pdbreader/pkg/provider"
)

// FieldInfo is one data member of a structure.
type FieldInfo struct {
	Name   string   `json:"name"`
	Offset uint32   `json:"offset"`
	Type   TypeInfo `json:"type"`
}

// FieldsOf lists the data members of the structure with the given exact name.
// The result is empty when the name is unknown or ambiguous, or when any member
// fails to resolve.
func (r *Reader) FieldsOf(structName string) []FieldInfo {
	sym, ok := requireUnique(r.global.FindChildren(provider.SymTagUDT, structName, provider.NameSearchCaseSensitive))
	if !ok {
		r.logger.Debug().Str("struct", structName).Msg("struct not found or ambiguous")
		return nil
	}
	id, err := sym.ID()
	if err != nil {
		return nil
	}
	return r.FieldsOfID(id)
}

// FieldsOfID lists the data members of the structure with the given id, in
// provider order. Members are resolved all-or-nothing.
func (r *Reader) FieldsOfID(id provider.SymbolID) []FieldInfo {
	if fields, ok := r.fields[id]; ok {
		r.metrics.lookup(cacheFields, true)
		return slices.Clone(fields)
	}
	r.metrics.lookup(cacheFields, false)

	fields, err := r.collectFields(id)
	if err != nil {
		r.logger.Debug().Err(err).Uint32("struct_id", uint32(id)).Msg("fields not resolved")
		return nil
	}
	r.fields[id] = fields
	return slices.Clone(fields)
}

func (r *Reader) collectFields(id provider.SymbolID) ([]FieldInfo, error) {
	sym, err := r.session.SymbolByID(id)
	if err != nil {
		return nil, err
	}
	it, err := sym.FindChildren(provider.SymTagNull, "", provider.NameSearchNone)
	if err != nil {
		return nil, fmt.Errorf("enumerate members: %w", err)
	}

	fields := []FieldInfo{}
	err = each(it, func(child provider.Symbol) error {
		member, err := isDataMember(child)
		if err != nil || !member {
			return err
		}
		name, err := child.Name()
		if err != nil {
			return fmt.Errorf("read member name: %w", err)
		}
		offset, err := child.Offset()
		if err != nil {
			return fmt.Errorf("read offset of %s: %w", name, err)
		}
		typeID, err := child.TypeID()
		if err != nil {
			return fmt.Errorf("read type of %s: %w", name, err)
		}
		t := r.ResolveType(typeID)
		if !t.Valid() {
			return fmt.Errorf("type of %s not resolved", name)
		}
		fields = append(fields, FieldInfo{Name: name, Offset: uint32(offset), Type: t})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func isDataMember(sym provider.Symbol) (bool, error) {
	tag, err := sym.Tag()
	if err != nil {
		return false, fmt.Errorf("read member tag: %w", err)
	}
	if tag != provider.SymTagData {
		return false, nil
	}
	kind, err := sym.DataKind()
	if err != nil {
		return false, fmt.Errorf("read data kind: %w", err)
	}
	return kind == provider.DataIsMember, nil
}

// StructMemberOffset returns the byte offset of member within the structure
// structName. Both names must match exactly one symbol.
func (r *Reader) StructMemberOffset(structName, member string) (uint32, bool) {
	udt, ok := requireUnique(r.global.FindChildren(provider.SymTagUDT, structName, provider.NameSearchCaseSensitive))
	if !ok {
		return 0, false
	}
	m, ok := requireUnique(udt.FindChildren(provider.SymTagNull, member, provider.NameSearchCaseSensitive))
	if !ok {
		return 0, false
	}
	offset, err := m.Offset()
	if err != nil {
		return 0, false
	}
	return uint32(offset), true
}

// StructSize returns the size in bytes of the structure structName.
func (r *Reader) StructSize(structName string) (uint64, bool) {
	udt, ok := requireUnique(r.global.FindChildren(provider.SymTagUDT, structName, provider.NameSearchCaseSensitive))
	if !ok {
		return 0, false
	}
	size, err := udt.Length()
	if err != nil || size == 0 {
		return 0, false
	}
	return size, true
}
