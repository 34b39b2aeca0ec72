package importer

// reader.go streams delimited text files in bounded-size chunks.
//
// The file is never materialized in memory: rows are pulled from an
// encoding/csv reader layered over a decoding pipeline chosen by the
// declared encoding. UTF-8 input gets BOM stripping and byte sanitization;
// anything else is decoded through x/text so legacy exports (latin-1,
// windows-1252) load without a re-encoding step.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// ReaderOptions are the format knobs for one source file.
type ReaderOptions struct {
	// Delimiter is the column separator (default ',').
	Delimiter rune
	// Encoding is the declared text encoding (default "utf-8").
	Encoding string
	// SkipRows is the number of rows before the header, for files with
	// banner lines.
	SkipRows int
}

// FileReader reads one delimited file: header first, then data rows in
// chunks.
type FileReader struct {
	file   *os.File
	csv    *csv.Reader
	header []string
}

// OpenFile opens path, skips opts.SkipRows rows, and reads the header row.
func OpenFile(path string, opts ReaderOptions) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}

	decoded, err := decodeReader(f, opts.Encoding)
	if err != nil {
		f.Close()
		return nil, err
	}

	r := csv.NewReader(decoded)
	if opts.Delimiter != 0 {
		r.Comma = opts.Delimiter
	}
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	for i := 0; i < opts.SkipRows; i++ {
		if _, err := r.Read(); err != nil {
			f.Close()
			return nil, fmt.Errorf("skip row %d: %w", i+1, err)
		}
	}

	header, err := r.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: file has no header row")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, col := range header {
		header[i] = strings.TrimSpace(col)
	}

	// Data rows must match the header width; a short or long row aborts
	// the import rather than loading a misaligned chunk.
	r.FieldsPerRecord = len(header)

	return &FileReader{file: f, csv: r, header: header}, nil
}

// Header returns the source column names.
func (fr *FileReader) Header() []string {
	return fr.header
}

// ReadChunk reads up to n data rows. It returns io.EOF (with no rows) once
// the file is exhausted.
func (fr *FileReader) ReadChunk(n int) ([][]string, error) {
	rows := make([][]string, 0, n)
	for len(rows) < n {
		record, err := fr.csv.Read()
		if errors.Is(err, io.EOF) {
			if len(rows) == 0 {
				return nil, io.EOF
			}
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// Close releases the underlying file.
func (fr *FileReader) Close() error {
	return fr.file.Close()
}

// decodeReader wraps r with the decoding pipeline for the named encoding.
func decodeReader(r io.Reader, name string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return newUTF8Sanitizer(newBOMSkippingReader(r)), nil
	}

	enc, err := lookupEncoding(name)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// lookupEncoding resolves an encoding name. The spellings used by existing
// project files ("latin-1", "cp1252") are mapped explicitly; everything else
// goes through the WHATWG index.
func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "latin-1", "latin1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252, nil
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", name, err)
	}
	return enc, nil
}

// applyColumnMapping translates source column names to target column names.
// Unmapped columns pass through unchanged. The mapping is applied before any
// table is created or row loaded, so the staging shape always matches the
// target shape.
func applyColumnMapping(columns []string, mapping map[string]string) []string {
	if len(mapping) == 0 {
		return columns
	}

	mapped := make([]string, len(columns))
	for i, col := range columns {
		if target, ok := mapping[col]; ok {
			mapped[i] = target
		} else {
			mapped[i] = col
		}
	}
	return mapped
}
