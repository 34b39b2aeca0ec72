package importer

// streaming.go provides io.Reader wrappers used when reading UTF-8 source
// files:
//
//   - bomSkippingReader removes the UTF-8 BOM (0xEF 0xBB 0xBF) that Windows
//     tools commonly prepend.
//   - utf8Sanitizer replaces invalid UTF-8 sequences with '?' on the fly.
//
// Both operate in constant memory so arbitrarily large files never need to
// be materialized. Non-UTF-8 encodings bypass these and go through an
// x/text decoder instead (see reader.go).

import (
	"bufio"
	"io"
	"unicode/utf8"
)

// bomSkippingReader discards a leading UTF-8 BOM on the first read.
type bomSkippingReader struct {
	br      *bufio.Reader
	checked bool
}

func newBOMSkippingReader(r io.Reader) *bomSkippingReader {
	return &bomSkippingReader{br: bufio.NewReader(r)}
}

func (r *bomSkippingReader) Read(p []byte) (int, error) {
	if !r.checked {
		r.checked = true
		head, err := r.br.Peek(3)
		if err == nil && head[0] == 0xEF && head[1] == 0xBB && head[2] == 0xBF {
			if _, err := r.br.Discard(3); err != nil {
				return 0, err
			}
		}
	}
	return r.br.Read(p)
}

// utf8Sanitizer replaces invalid UTF-8 bytes with '?'. A multi-byte sequence
// split across two reads is held back in pending until the continuation
// bytes arrive, so valid runes are never mangled at buffer boundaries.
type utf8Sanitizer struct {
	reader  io.Reader
	pending []byte
	eof     bool
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{
		reader:  r,
		pending: make([]byte, 0, utf8.UTFMax),
	}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := copy(p, s.pending)
	s.pending = s.pending[:0]

	n, err := s.reader.Read(p[offset:])
	n += offset
	if err == io.EOF {
		s.eof = true
	}

	if n == 0 {
		return 0, err
	}

	// Fast path: pure ASCII needs no inspection.
	if allASCII(p[:n]) {
		return n, err
	}

	return s.sanitize(p[:n]), err
}

// sanitize rewrites data in place, replacing invalid bytes with '?'. An
// incomplete trailing sequence is saved to pending unless EOF was reached,
// in which case it is invalid by definition.
func (s *utf8Sanitizer) sanitize(data []byte) int {
	write := 0
	for read := 0; read < len(data); {
		r, size := utf8.DecodeRune(data[read:])

		if r == utf8.RuneError && size <= 1 {
			rest := data[read:]
			if !s.eof && isIncompleteSequence(rest) {
				s.pending = append(s.pending, rest...)
				return write
			}
			data[write] = '?'
			write++
			read++
			continue
		}

		copy(data[write:], data[read:read+size])
		write += size
		read += size
	}
	return write
}

func allASCII(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return false
		}
	}
	return true
}

// isIncompleteSequence reports whether data could be the prefix of a valid
// multi-byte UTF-8 sequence whose continuation bytes have not arrived yet.
func isIncompleteSequence(data []byte) bool {
	if len(data) == 0 || len(data) >= utf8.UTFMax {
		return false
	}

	lead := data[0]
	var want int
	switch {
	case lead >= 0xF0:
		want = 4
	case lead >= 0xE0:
		want = 3
	case lead >= 0xC0:
		want = 2
	default:
		return false // continuation or ASCII byte cannot start a sequence
	}
	if len(data) >= want {
		return false
	}
	for _, b := range data[1:] {
		if b&0xC0 != 0x80 {
			return false
		}
	}
	return true
}
