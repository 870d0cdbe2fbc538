package ingest

import (
	"context"
	"errors"
	"log/slog"

	"csvload/internal/metrics"
	"csvload/internal/parser/csv"
	"csvload/internal/schema"
	"csvload/internal/storage"
	"csvload/internal/transformer"
)

// DefaultBatchSize is the number of rows appended per Store call.
const DefaultBatchSize = 1000

// BatchLoader streams a source file into an existing table in bounded batches.
type BatchLoader struct {
	Store     storage.Store
	BatchSize int
	Source    csv.Options
	Logger    *slog.Logger
}

// Load appends every data record of path to spec.TableName and returns the
// number of rows written.
//
// The header is re-read and must have spec.HeaderWidth fields. Records are
// projected positionally through spec.Source: wider records are an error,
// shorter ones are padded with NULL, empty cells load as NULL.
//
// There is no file-wide transaction: batches committed before a failure stay.
//
// Errors:
//   - *LoadError carrying the rows committed so far.
func (l *BatchLoader) Load(ctx context.Context, path string, spec schema.TableSpec, sep rune) (int64, error) {
	size := l.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	log := l.logger().With("table", spec.TableName)

	src, err := csv.Open(path, l.Source)
	if err != nil {
		return 0, &LoadError{Table: spec.TableName, Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh := make(chan *transformer.Row, size)
	errCh := make(chan error, 1)
	proj := csv.Projection{Comma: sep, Source: spec.Source, HeaderWidth: spec.HeaderWidth}

	// Reader: stream records into pooled rows. Ownership of each row moves
	// to this goroutine's consumer below.
	go func() {
		defer close(rowCh)
		errCh <- csv.StreamRows(ctx, src, proj, l.Source, rowCh)
	}()

	var (
		total int64
		line  int
		batch = make([]*transformer.Row, 0, size)
	)

	// abort stops the reader, releases everything still in flight and waits
	// for the reader to exit.
	abort := func(err error) (int64, error) {
		cancel()
		transformer.FreeAll(batch)
		for r := range rowCh {
			r.Drop()
		}
		<-errCh
		return total, &LoadError{Table: spec.TableName, Rows: total, Line: line, Err: err}
	}

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := l.Store.AppendRows(ctx, spec.TableName, spec.Columns, transformer.Values(batch))
		transformer.FreeAll(batch)
		batch = batch[:0]
		if err != nil {
			return err
		}
		total += n
		metrics.RecordBatch()
		metrics.RecordRows(n)
		log.Debug("batch appended", "rows", n, "total", total, "line", line)
		return nil
	}

	for r := range rowCh {
		line = r.Line
		batch = append(batch, r)
		if len(batch) == size {
			if err := flush(); err != nil {
				return abort(err)
			}
		}
	}

	if err := <-errCh; err != nil {
		transformer.FreeAll(batch)
		var we *csv.WidthError
		if errors.As(err, &we) {
			line = we.Line
		}
		return total, &LoadError{Table: spec.TableName, Rows: total, Line: line, Err: err}
	}

	if err := flush(); err != nil {
		return total, &LoadError{Table: spec.TableName, Rows: total, Line: line, Err: err}
	}
	return total, nil
}

func (l *BatchLoader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}
