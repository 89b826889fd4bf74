package pdbreader

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/spf13/afero"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/jtang613/pdbreader/pkg/provider"
)

// Encoding selects the text encoding of an export.
type Encoding int

const (
	// EncodingNarrow writes one byte per UTF-16 code unit, keeping only the low
	// byte. Names outside U+0000..U+00FF are corrupted.
	EncodingNarrow Encoding = iota
	// EncodingWide writes UTF-16LE without a byte order mark.
	EncodingWide
)

func (e Encoding) String() string {
	if e == EncodingWide {
		return "wide"
	}
	return "narrow"
}

// ParseEncoding accepts "narrow" or "wide".
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "narrow", "ansi", "":
		return EncodingNarrow, nil
	case "wide", "utf16", "utf-16":
		return EncodingWide, nil
	}
	return EncodingNarrow, fmt.Errorf("unknown export encoding %q", s)
}

// ExportRecord is one line of an export.
type ExportRecord struct {
	Name string
	RVA  uint32
}

var wideEncoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Export writes "name\taddress\n" for every global symbol with the given tag.
// Symbols whose name or address cannot be read are skipped. Names containing tab
// or newline characters corrupt the output.
func (r *Reader) Export(tag provider.SymTag, w io.Writer, enc Encoding) (int, error) {
	it, err := r.global.FindChildren(tag, "", provider.NameSearchNone)
	if err != nil {
		return 0, fmt.Errorf("enumerate %s symbols: %w", tag, err)
	}

	out := newRecordWriter(w, enc)
	written, skipped := 0, 0
	err = each(it, func(sym provider.Symbol) error {
		name, err := sym.Name()
		if err != nil {
			skipped++
			return nil
		}
		rva, err := sym.RVA()
		if err != nil {
			skipped++
			return nil
		}
		if err := out.writeRecord(name, rva); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		written++
		return nil
	})
	if err != nil {
		return written, err
	}
	if err := out.Close(); err != nil {
		return written, fmt.Errorf("flush export: %w", err)
	}
	r.logger.Debug().Stringer("tag", tag).Stringer("encoding", enc).
		Int("written", written).Int("skipped", skipped).Msg("exported symbols")
	return written, nil
}

// ExportFile creates path on fs and exports into it.
func (r *Reader) ExportFile(fs afero.Fs, path string, tag provider.SymTag, enc Encoding) (n int, err error) {
	f, err := fs.Create(path)
	if err != nil {
		return 0, fmt.Errorf("could not open export file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close export file: %w", cerr)
		}
	}()
	return r.Export(tag, f, enc)
}

type recordWriter struct {
	buf  *bufio.Writer
	wide *transform.Writer
	enc  Encoding
}

func newRecordWriter(w io.Writer, enc Encoding) *recordWriter {
	rw := &recordWriter{buf: bufio.NewWriter(w), enc: enc}
	if enc == EncodingWide {
		rw.wide = transform.NewWriter(rw.buf, wideEncoding.NewEncoder())
	}
	return rw
}

func (rw *recordWriter) writeRecord(name string, rva uint32) error {
	line := name + "\t" + "0x" + strconv.FormatUint(uint64(rva), 16) + "\n"
	if rw.enc == EncodingWide {
		_, err := io.WriteString(rw.wide, line)
		return err
	}
	for _, u := range utf16.Encode([]rune(line)) {
		if err := rw.buf.WriteByte(byte(u)); err != nil {
			return err
		}
	}
	return nil
}

func (rw *recordWriter) Close() error {
	if rw.wide != nil {
		if err := rw.wide.Close(); err != nil {
			return err
		}
	}
	return rw.buf.Flush()
}

// ReadExport parses an export produced with the given encoding. Narrow bytes are
// read back as ISO-8859-1.
func ReadExport(rd io.Reader, enc Encoding) ([]ExportRecord, error) {
	var src io.Reader
	if enc == EncodingWide {
		src = transform.NewReader(rd, wideEncoding.NewDecoder())
	} else {
		src = charmap.ISO8859_1.NewDecoder().Reader(rd)
	}

	var records []ExportRecord
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		tab := strings.LastIndexByte(text, '\t')
		if tab < 0 {
			return nil, fmt.Errorf("line %d: missing tab separator", line)
		}
		rva, err := strconv.ParseUint(text[tab+1:], 0, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: parse address: %w", line, err)
		}
		records = append(records, ExportRecord{Name: text[:tab], RVA: uint32(rva)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	return records, nil
}
