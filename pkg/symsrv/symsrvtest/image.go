// Package symsrvtest provides synthetic executables and an in-process symbol
// server for tests.
package symsrvtest

import (
	"bytes"
	"debug/pe"
	"encoding/binary"

	"github.com/spf13/afero"
)

const (
	peOffset      = 0x40
	sectionRVA    = 0x1000
	sectionOffset = 0x200
	debugEntry    = 28

	debugTypeCodeView = 2
)

// Image describes a PE32+ executable with a CodeView debug directory entry.
type Image struct {
	GUID    [16]byte
	Age     uint32
	PDBPath string
	// NoDebug leaves the debug data directory empty.
	NoDebug bool
}

// Bytes lays the image out: headers, then one .rdata section holding the
// debug directory followed by the RSDS record.
func (img Image) Bytes() []byte {
	var data bytes.Buffer
	if !img.NoDebug {
		rsds := append([]byte("RSDS"), img.GUID[:]...)
		rsds = binary.LittleEndian.AppendUint32(rsds, img.Age)
		rsds = append(append(rsds, img.PDBPath...), 0)

		write(&data,
			uint32(0), uint32(0), uint16(0), uint16(0),
			uint32(debugTypeCodeView),
			uint32(len(rsds)),
			uint32(sectionRVA+debugEntry),
			uint32(sectionOffset+debugEntry))
		data.Write(rsds)
	}
	for data.Len()%0x200 != 0 || data.Len() == 0 {
		data.WriteByte(0)
	}

	var buf bytes.Buffer
	buf.WriteString("MZ")
	buf.Write(make([]byte, 0x3c-2))
	write(&buf, uint32(peOffset))
	buf.WriteString("PE\x00\x00")

	write(&buf, pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_AMD64,
		NumberOfSections:     1,
		SizeOfOptionalHeader: uint16(binary.Size(pe.OptionalHeader64{})),
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_LARGE_ADDRESS_AWARE,
	})

	oh := pe.OptionalHeader64{
		Magic:               0x20b,
		ImageBase:           0x140000000,
		SectionAlignment:    0x1000,
		FileAlignment:       0x200,
		SizeOfImage:         sectionRVA + 0x1000,
		SizeOfHeaders:       sectionOffset,
		Subsystem:           pe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
		NumberOfRvaAndSizes: 16,
	}
	if !img.NoDebug {
		oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_DEBUG] = pe.DataDirectory{
			VirtualAddress: sectionRVA,
			Size:           debugEntry,
		}
	}
	write(&buf, oh)

	sh := pe.SectionHeader32{
		VirtualSize:      uint32(data.Len()),
		VirtualAddress:   sectionRVA,
		SizeOfRawData:    uint32(data.Len()),
		PointerToRawData: sectionOffset,
		Characteristics:  pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ,
	}
	copy(sh.Name[:], ".rdata")
	write(&buf, sh)

	buf.Write(make([]byte, sectionOffset-buf.Len()))
	buf.Write(data.Bytes())
	return buf.Bytes()
}

// WriteFile stores the image at path on fs.
func (img Image) WriteFile(fs afero.Fs, path string) error {
	return afero.WriteFile(fs, path, img.Bytes(), 0o644)
}

func write(buf *bytes.Buffer, vals ...any) {
	for _, v := range vals {
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			panic(err)
		}
	}
}
