package pdb

import (
	"github.com/jtang613/pdbreader/pkg/pdb/streams"
)

// Info summarizes the identity and shape of a PDB.
type Info struct {
	GUID         string            `json:"guid"`
	Age          uint32            `json:"age"`
	Version      uint32            `json:"version"`
	Machine      string            `json:"machine"`
	Streams      int               `json:"streams"`
	Types        int               `json:"types"`
	Modules      int               `json:"modules"`
	NamedStreams map[string]uint32 `json:"named_streams,omitempty"`
}

// SectionInfo describes one section of the image the PDB was built for.
type SectionInfo struct {
	Index          uint16 `json:"index"`
	Name           string `json:"name"`
	VirtualAddress uint32 `json:"virtual_address"`
	VirtualSize    uint32 `json:"virtual_size"`
}

// ModuleInfo describes one compiland.
type ModuleInfo struct {
	Name         string `json:"name"`
	ObjectFile   string `json:"object_file"`
	SymbolStream uint16 `json:"symbol_stream"`
	SymbolSize   uint32 `json:"symbol_size"`
	SourceFiles  uint16 `json:"source_files"`
}

// Info returns the PDB identity. The GUID and age form the symbol server key.
func (f *File) Info() Info {
	return Info{
		GUID:         f.pdbInfo.GUIDString(),
		Age:          f.pdbInfo.Age,
		Version:      f.pdbInfo.Version,
		Machine:      streams.MachineTypeName(f.dbi.Header.Machine),
		Streams:      f.msf.NumStreams(),
		Types:        len(f.tpi.Records),
		Modules:      len(f.dbi.Modules),
		NamedStreams: f.pdbInfo.NamedStreams,
	}
}

// Signature returns the raw GUID and age.
func (f *File) Signature() ([16]byte, uint32) {
	return f.pdbInfo.GUID, f.pdbInfo.Age
}

// Sections returns the image sections used for address translation.
func (f *File) Sections() []SectionInfo {
	out := make([]SectionInfo, len(f.sections))
	for i, s := range f.sections {
		out[i] = SectionInfo{
			Index:          uint16(i + 1),
			Name:           s.SectionName(),
			VirtualAddress: s.VirtualAddress,
			VirtualSize:    s.VirtualSize,
		}
	}
	return out
}

// Modules returns the compilands listed in the DBI stream.
func (f *File) Modules() []ModuleInfo {
	out := make([]ModuleInfo, len(f.dbi.Modules))
	for i, mod := range f.dbi.Modules {
		out[i] = ModuleInfo{
			Name:         mod.ModuleName,
			ObjectFile:   mod.ObjFileName,
			SymbolStream: mod.ModuleSymStream,
			SymbolSize:   mod.SymByteSize,
			SourceFiles:  mod.SourceFileCount,
		}
	}
	return out
}
