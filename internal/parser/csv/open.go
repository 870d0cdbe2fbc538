// Package csv reads delimited text files for ingestion: separator sniffing,
// header extraction and pooled row streaming.
package csv

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Supported source encodings.
const (
	EncodingAuto        = "auto"
	EncodingUTF8        = "utf-8"
	EncodingLatin1      = "latin1"
	EncodingWindows1252 = "windows-1252"
)

// sniffBytes is how much of the file "auto" inspects before choosing a decoder.
const sniffBytes = 64 << 10

// Options control how a source file is opened and tokenized.
//
// The zero value reads UTF-8 input with auto-detection and strict quoting.
type Options struct {
	// Encoding is one of the Encoding* constants. Empty means EncodingAuto.
	Encoding string

	// LazyQuotes tolerates bare quotes inside unquoted fields.
	LazyQuotes bool
}

// ValidEncoding reports whether enc is accepted by Open.
func ValidEncoding(enc string) bool {
	switch normalizeEncoding(enc) {
	case EncodingAuto, EncodingUTF8, EncodingLatin1, EncodingWindows1252:
		return true
	}
	return false
}

func normalizeEncoding(enc string) string {
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "", "auto":
		return EncodingAuto
	case "utf-8", "utf8":
		return EncodingUTF8
	case "latin1", "latin-1", "iso-8859-1":
		return EncodingLatin1
	case "windows-1252", "cp1252":
		return EncodingWindows1252
	default:
		return enc
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Open opens path and returns a reader that yields UTF-8 text.
//
// With EncodingAuto the first 64 KiB are inspected: valid UTF-8 is passed
// through untouched, anything else is decoded as Windows-1252 (the usual
// export encoding of spreadsheet tools).
func Open(path string, opt Options) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch enc := normalizeEncoding(opt.Encoding); enc {
	case EncodingUTF8:
		br := bufio.NewReader(f)
		skipBOM(br)
		return &readCloser{Reader: br, Closer: f}, nil
	case EncodingLatin1:
		return &readCloser{Reader: charmap.ISO8859_1.NewDecoder().Reader(f), Closer: f}, nil
	case EncodingWindows1252:
		return &readCloser{Reader: charmap.Windows1252.NewDecoder().Reader(f), Closer: f}, nil
	case EncodingAuto:
		br := bufio.NewReaderSize(f, sniffBytes)
		peek, err := br.Peek(sniffBytes)
		if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
			_ = f.Close()
			return nil, err
		}
		if utf8.Valid(trimPartialRune(peek)) {
			skipBOM(br)
			return &readCloser{Reader: br, Closer: f}, nil
		}
		return &readCloser{Reader: charmap.Windows1252.NewDecoder().Reader(br), Closer: f}, nil
	default:
		_ = f.Close()
		return nil, fmt.Errorf("unsupported source encoding %q", opt.Encoding)
	}
}

// skipBOM consumes a leading UTF-8 byte order mark, if any.
func skipBOM(br *bufio.Reader) {
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = br.Discard(3)
	}
}

// trimPartialRune drops an incomplete multi-byte sequence at the end of a
// sample cut at an arbitrary byte offset.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			break
		}
	}
	return b
}
