package storage

// RowsPerStatement returns how many rows of width columns fit into a single
// multi-row INSERT without exceeding maxParams bound parameters or maxRows
// VALUES tuples (maxRows <= 0 means no row cap). It is at least 1.
func RowsPerStatement(columns, maxParams, maxRows int) int {
	if columns <= 0 {
		return 1
	}
	n := maxParams / columns
	if maxRows > 0 && n > maxRows {
		n = maxRows
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ChunkRows splits rows into consecutive slices of at most size rows. The
// returned slices share rows' backing array.
func ChunkRows(rows [][]any, size int) [][][]any {
	if size < 1 {
		size = 1
	}
	out := make([][][]any, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}
