package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"csvload/internal/storage"
)

// fakeStore is an in-memory storage.Store. Rows are copied on append since
// the loader re-pools them afterwards.
type fakeStore struct {
	mu      sync.Mutex
	tables  map[string][][]any
	created []storage.TableSpec
	appends []int

	failOn    string // op name to fail: exists|count|create|truncate|append
	failAfter int    // for append: fail on append number failAfter+1
}

func newFakeStore() *fakeStore {
	return &fakeStore{tables: map[string][][]any{}}
}

func (f *fakeStore) fail(op string) error {
	if f.failOn == op {
		return fmt.Errorf("injected %s failure", op)
	}
	return nil
}

func (f *fakeStore) Close() {}

func (f *fakeStore) TableExists(_ context.Context, table string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("exists"); err != nil {
		return false, err
	}
	_, ok := f.tables[strings.ToLower(table)]
	return ok, nil
}

func (f *fakeStore) CountRows(_ context.Context, table string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("count"); err != nil {
		return 0, err
	}
	return int64(len(f.tables[strings.ToLower(table)])), nil
}

func (f *fakeStore) CreateTable(_ context.Context, t storage.TableSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("create"); err != nil {
		return err
	}
	if err := t.Validate(); err != nil {
		return err
	}
	f.created = append(f.created, t)
	f.tables[strings.ToLower(t.Name)] = nil
	return nil
}

func (f *fakeStore) TruncateTable(_ context.Context, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("truncate"); err != nil {
		return err
	}
	f.tables[strings.ToLower(table)] = nil
	return nil
}

func (f *fakeStore) AppendRows(_ context.Context, table string, _ []string, rows [][]any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "append" && len(f.appends) >= f.failAfter {
		return 0, fmt.Errorf("injected append failure")
	}
	key := strings.ToLower(table)
	for _, r := range rows {
		f.tables[key] = append(f.tables[key], append([]any(nil), r...))
	}
	f.appends = append(f.appends, len(rows))
	return int64(len(rows)), nil
}

func (f *fakeStore) rows(table string) [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tables[strings.ToLower(table)]
}

func (f *fakeStore) seed(table string, rows ...[]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[strings.ToLower(table)] = rows
}
