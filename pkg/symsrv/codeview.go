package symsrv

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/jtang613/pdbreader/pkg/pdb/streams"
)

// ErrNoCodeView is returned when an executable carries no RSDS debug record.
var ErrNoCodeView = errors.New("executable has no CodeView debug record")

const (
	debugDirectoryIndex = 6
	debugTypeCodeView   = 2
	debugEntrySize      = 28
)

var rsdsMagic = []byte("RSDS")

// CodeViewInfo is the RSDS record that names the PDB an executable was linked with.
type CodeViewInfo struct {
	GUID [16]byte
	Age  uint32
	Path string
}

// PDBName returns the file name of the PDB path recorded by the linker.
func (c CodeViewInfo) PDBName() string {
	return path.Base(strings.ReplaceAll(c.Path, `\`, "/"))
}

// Signature returns the GUID and age as a symbol store directory name.
func (c CodeViewInfo) Signature() string {
	return fmt.Sprintf("%s%X", streams.FormatGUID(c.GUID), c.Age)
}

// Key returns the relative symbol store path, "<name>/<signature>/<name>".
func (c CodeViewInfo) Key() string {
	name := c.PDBName()
	return path.Join(name, c.Signature(), name)
}

// Matches reports whether a PDB with the given GUID and age belongs to the executable.
func (c CodeViewInfo) Matches(guid [16]byte, age uint32) bool {
	return c.GUID == guid && c.Age == age
}

// ReadCodeViewFile reads the RSDS record of the executable at name on fs.
func ReadCodeViewFile(fs afero.Fs, name string) (CodeViewInfo, error) {
	f, err := fs.Open(name)
	if err != nil {
		return CodeViewInfo{}, err
	}
	defer f.Close()
	info, err := ReadCodeView(f)
	if err != nil {
		return CodeViewInfo{}, fmt.Errorf("%s: %w", name, err)
	}
	return info, nil
}

// ReadCodeView finds the CodeView entry of the PE debug directory.
func ReadCodeView(r io.ReaderAt) (CodeViewInfo, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return CodeViewInfo{}, fmt.Errorf("parse PE: %w", err)
	}
	defer f.Close()

	var dir pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes > debugDirectoryIndex {
			dir = oh.DataDirectory[debugDirectoryIndex]
		}
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes > debugDirectoryIndex {
			dir = oh.DataDirectory[debugDirectoryIndex]
		}
	}
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return CodeViewInfo{}, ErrNoCodeView
	}

	entries, err := readAtRVA(f, r, dir.VirtualAddress, dir.Size)
	if err != nil {
		return CodeViewInfo{}, fmt.Errorf("read debug directory: %w", err)
	}
	for off := 0; off+debugEntrySize <= len(entries); off += debugEntrySize {
		e := entries[off:]
		if binary.LittleEndian.Uint32(e[12:]) != debugTypeCodeView {
			continue
		}
		size := binary.LittleEndian.Uint32(e[16:])
		pointer := binary.LittleEndian.Uint32(e[24:])
		if size < 24 {
			continue
		}
		rec := make([]byte, size)
		if _, err := r.ReadAt(rec, int64(pointer)); err != nil {
			return CodeViewInfo{}, fmt.Errorf("read CodeView record: %w", err)
		}
		if !bytes.HasPrefix(rec, rsdsMagic) {
			continue
		}
		var info CodeViewInfo
		copy(info.GUID[:], rec[4:20])
		info.Age = binary.LittleEndian.Uint32(rec[20:])
		info.Path, _ = streams.ParseString(rec[24:])
		return info, nil
	}
	return CodeViewInfo{}, ErrNoCodeView
}

func readAtRVA(f *pe.File, r io.ReaderAt, rva, size uint32) ([]byte, error) {
	for _, s := range f.Sections {
		if rva < s.VirtualAddress || rva >= s.VirtualAddress+max(s.VirtualSize, s.Size) {
			continue
		}
		buf := make([]byte, size)
		if _, err := r.ReadAt(buf, int64(s.Offset+rva-s.VirtualAddress)); err != nil {
			return nil, err
		}
		return buf, nil
	}
	return nil, fmt.Errorf("rva %#x is outside every section", rva)
}
