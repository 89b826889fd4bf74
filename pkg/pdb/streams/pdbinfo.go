// Package streams decodes the fixed PDB streams: PDB info, TPI, DBI and the
// section header debug stream.
package streams

import (
	"encoding/binary"
	"fmt"
)

// PDBStreamVersionVC70 is the info stream version written by every modern linker.
const PDBStreamVersionVC70 = 20000404

// PDBInfo is stream 1: the signature that ties a PDB to its executable.
type PDBInfo struct {
	Version      uint32
	Signature    uint32
	Age          uint32
	GUID         [16]byte
	NamedStreams map[string]uint32
}

// ReadPDBInfo decodes the info stream. The named stream table is optional; a
// truncated table leaves NamedStreams partially filled.
func ReadPDBInfo(data []byte) (*PDBInfo, error) {
	r := &reader{buf: data}
	info := &PDBInfo{NamedStreams: make(map[string]uint32)}

	var err error
	if info.Version, err = r.u32(); err != nil {
		return nil, fmt.Errorf("read PDB info header: %w", err)
	}
	if info.Signature, err = r.u32(); err != nil {
		return nil, fmt.Errorf("read PDB info header: %w", err)
	}
	if info.Age, err = r.u32(); err != nil {
		return nil, fmt.Errorf("read PDB info header: %w", err)
	}
	guid, err := r.bytes(16)
	if err != nil {
		return nil, fmt.Errorf("read PDB info header: %w", err)
	}
	copy(info.GUID[:], guid)

	readNamedStreams(r, info.NamedStreams)
	return info, nil
}

// readNamedStreams decodes the string buffer and the serialized hash table that
// maps names such as "/names" to stream indices.
func readNamedStreams(r *reader, out map[string]uint32) {
	strSize, err := r.u32()
	if err != nil {
		return
	}
	strBuf, err := r.bytes(int(strSize))
	if err != nil {
		return
	}
	if _, err := r.u32(); err != nil { // size
		return
	}
	capacity, err := r.u32()
	if err != nil {
		return
	}
	present, err := readBitVector(r)
	if err != nil {
		return
	}
	if _, err := readBitVector(r); err != nil { // deleted
		return
	}
	for i := uint32(0); i < capacity; i++ {
		if !bitSet(present, i) {
			continue
		}
		keyOffset, err := r.u32()
		if err != nil {
			return
		}
		streamIndex, err := r.u32()
		if err != nil {
			return
		}
		if keyOffset < strSize {
			name, _ := ParseString(strBuf[keyOffset:])
			out[name] = streamIndex
		}
	}
}

func readBitVector(r *reader) ([]uint32, error) {
	words, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int(words)*4 > r.remaining() {
		return nil, fmt.Errorf("bit vector of %d words exceeds stream", words)
	}
	out := make([]uint32, words)
	for i := range out {
		out[i], _ = r.u32()
	}
	return out, nil
}

func bitSet(words []uint32, n uint32) bool {
	w := n / 32
	return w < uint32(len(words)) && words[w]&(1<<(n%32)) != 0
}

// FormatGUID renders a GUID the way symbol stores key it: 32 upper-case hex
// digits, the first three groups in little-endian order.
func FormatGUID(guid [16]byte) string {
	return fmt.Sprintf("%08X%04X%04X%X",
		binary.LittleEndian.Uint32(guid[0:4]),
		binary.LittleEndian.Uint16(guid[4:6]),
		binary.LittleEndian.Uint16(guid[6:8]),
		guid[8:16])
}

// GUIDString returns FormatGUID of the stream's GUID.
func (p *PDBInfo) GUIDString() string {
	return FormatGUID(p.GUID)
}
