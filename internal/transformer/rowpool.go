// Package transformer holds the pooled row container passed from the CSV
// parser to the batch loader. Pooling keeps memory flat while large files
// stream through fixed-size batches.
package transformer

import "sync"

// Row is a positional row aligned to a table's column order.
//
// Ownership contract:
//   - Exactly one goroutine owns a Row at a time.
//   - Sending a Row on a channel transfers ownership.
//   - The final consumer (the loader, after the batch append returns) calls
//     Free.
//
// On cancellation paths use Drop instead of Free: the producer may still be
// unwinding while a consumer reads r.V, and a re-pooled Row could be handed
// out and overwritten underneath it.
type Row struct {
	V    []any
	Line int // 1-based record number in the source file, header included
}

var rowPool sync.Pool

// GetRow returns a pooled Row with len(V) == colCount and every value nil.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		clear(r.V)
		r.Line = 0
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns r to the pool. Only call it once nothing else can observe r
// or r.V.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards r without re-pooling it.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}

// Values collects the value slices of rows, in order, for a bulk append.
func Values(rows []*Row) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = r.V
	}
	return out
}

// FreeAll returns every row in rows to the pool.
func FreeAll(rows []*Row) {
	for _, r := range rows {
		r.Free()
	}
}
