package csv

import (
	"context"
	"fmt"
	"io"

	"csvload/internal/transformer"
)

// Projection maps raw record fields onto destination columns.
type Projection struct {
	// Comma is the field separator.
	Comma rune

	// Source[i] is the raw field index feeding destination column i.
	Source []int

	// HeaderWidth is the field count the header must have. Records wider than
	// this are rejected; narrower records are padded with NULLs.
	HeaderWidth int
}

// WidthError reports a record (or header) whose field count does not fit
// the projection.
type WidthError struct {
	Line int
	Want int
	Got  int
}

func (e *WidthError) Error() string {
	if e.Line == 1 {
		return fmt.Sprintf("header has %d fields, expected %d", e.Got, e.Want)
	}
	return fmt.Sprintf("record %d has %d fields, expected at most %d", e.Line, e.Got, e.Want)
}

// StreamRows streams records from src into pooled *transformer.Row objects
// aligned to p.Source. The header record is read, checked against
// p.HeaderWidth and skipped.
//
// The caller owns out and closes it after StreamRows returns. Every row sent
// on out transfers ownership to the receiver, which must Free it.
//
// NOTE on cancellation:
// On ctx cancellation in-flight rows are dropped, not re-pooled, because a
// downstream consumer may still be reading them.
//
// Errors:
//   - the first csv read error, wrapped with the record number
//   - *WidthError for a header or record that does not fit p
//   - ctx.Err() on cancellation
func StreamRows(
	ctx context.Context,
	src io.ReadCloser,
	p Projection,
	opt Options,
	out chan<- *transformer.Row,
) error {
	defer src.Close()

	cr := newReader(src, p.Comma, opt)
	cr.ReuseRecord = true

	hdr, err := readHeader(cr)
	if err != nil {
		return err
	}
	if len(hdr) != p.HeaderWidth {
		return &WidthError{Line: 1, Want: p.HeaderWidth, Got: len(hdr)}
	}

	line := 1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("csv read record %d: %w", line, err)
		}
		if len(rec) > p.HeaderWidth {
			return &WidthError{Line: line, Want: p.HeaderWidth, Got: len(rec)}
		}

		row := transformer.GetRow(len(p.Source))
		row.Line = line
		for t, si := range p.Source {
			if si >= len(rec) || rec[si] == "" {
				row.V[t] = nil
				continue
			}
			row.V[t] = rec[si]
		}

		select {
		case out <- row:
		case <-ctx.Done():
			// IMPORTANT: do not re-pool on cancellation
			row.Drop()
			return ctx.Err()
		}
	}
}
