package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Candidate separators, in the order DetectSeparator tries them.
const (
	Semicolon = ';'
	Comma     = ','
)

// ErrSingleColumn means the header splits into a single field under every
// candidate separator.
var ErrSingleColumn = errors.New("separator not detected or file has a single column")

// DetectionError reports why no usable separator could be chosen for a file.
type DetectionError struct {
	Path string
	Err  error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detect separator %s: %v", e.Path, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// DetectSeparator inspects only the header record of path and returns ';'
// when it yields more than one field, otherwise ',' under the same rule.
//
// Errors:
//   - *DetectionError wrapping the read failure if the header is unreadable
//     (missing file, empty file, broken quoting).
//   - *DetectionError wrapping ErrSingleColumn if neither candidate splits
//     the header. No other delimiter is tried.
func DetectSeparator(path string, opt Options) (rune, error) {
	for _, sep := range []rune{Semicolon, Comma} {
		hdr, err := ReadHeader(path, sep, opt)
		if err != nil {
			return 0, &DetectionError{Path: path, Err: err}
		}
		if len(hdr) > 1 {
			return sep, nil
		}
	}
	return 0, &DetectionError{Path: path, Err: ErrSingleColumn}
}

// ReadHeader returns the first record of path split on sep. The UTF-8 BOM is
// stripped from the first field. An empty file yields io.ErrUnexpectedEOF.
func ReadHeader(path string, sep rune, opt Options) ([]string, error) {
	rc, err := Open(path, opt)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return readHeader(newReader(rc, sep, opt))
}

func readHeader(cr *csv.Reader) ([]string, error) {
	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read header: %w", io.ErrUnexpectedEOF)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	out := append([]string(nil), hdr...)
	if len(out) > 0 {
		out[0] = strings.TrimPrefix(out[0], "\uFEFF")
	}
	return out, nil
}

func newReader(r io.Reader, sep rune, opt Options) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = sep
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1 // width is checked by the caller
	return cr
}
