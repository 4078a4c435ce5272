package docstore

import (
	"context"
	"fmt"
	"reflect"
	"strconv"

	"github.com/tailored-agentic-units/docstore/storage"
)

// Cond selects documents for Search and Remove.
type Cond func(storage.Document) bool

// Where returns a Cond matching documents whose field equals value.
// Integer values compare after widening to int64.
func Where(field string, value any) Cond {
	want := storage.Document{field: value}.Clone()[field]
	return func(doc storage.Document) bool {
		got, ok := doc[field]
		return ok && reflect.DeepEqual(got, want)
	}
}

// Record is a stored document together with its id.
type Record struct {
	ID  int
	Doc storage.Document
}

// Table is a handle on one named table of a DB. Handles hold no data; every
// call reads the current State through the DB's storage stack.
type Table struct {
	db   *DB
	name string
}

func (t *Table) Name() string {
	return t.name
}

// Insert stores doc under the next free id and returns that id.
func (t *Table) Insert(ctx context.Context, doc storage.Document) (int, error) {
	ids, err := t.InsertMultiple(ctx, doc)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// InsertMultiple stores docs with consecutive ids in one write.
func (t *Table) InsertMultiple(ctx context.Context, docs ...storage.Document) ([]int, error) {
	ids := make([]int, 0, len(docs))
	err := t.modify(ctx, func(tbl storage.Table) (bool, error) {
		next := tbl.NextID()
		for _, doc := range docs {
			if doc == nil {
				doc = storage.Document{}
			}
			tbl[strconv.Itoa(next)] = doc.Clone()
			ids = append(ids, next)
			next++
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Get returns the document stored under id.
func (t *Table) Get(ctx context.Context, id int) (storage.Document, error) {
	tbl, err := t.view(ctx)
	if err != nil {
		return nil, err
	}
	doc, ok := tbl[strconv.Itoa(id)]
	if !ok {
		return nil, t.notFound(id)
	}
	return doc, nil
}

// Contains reports whether id is stored in the table.
func (t *Table) Contains(ctx context.Context, id int) (bool, error) {
	tbl, err := t.view(ctx)
	if err != nil {
		return false, err
	}
	_, ok := tbl[strconv.Itoa(id)]
	return ok, nil
}

// Update sets the given fields on the document stored under id, leaving its
// other fields untouched.
func (t *Table) Update(ctx context.Context, id int, fields storage.Document) error {
	return t.modify(ctx, func(tbl storage.Table) (bool, error) {
		key := strconv.Itoa(id)
		doc, ok := tbl[key]
		if !ok {
			return false, t.notFound(id)
		}
		if doc == nil {
			doc = storage.Document{}
		}
		for k, v := range fields.Clone() {
			doc[k] = v
		}
		tbl[key] = doc
		return true, nil
	})
}

// Search returns the documents matching cond in id order.
func (t *Table) Search(ctx context.Context, cond Cond) ([]Record, error) {
	tbl, err := t.view(ctx)
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, id := range tbl.DocIDs() {
		doc := tbl[strconv.Itoa(id)]
		if cond(doc) {
			out = append(out, Record{ID: id, Doc: doc})
		}
	}
	return out, nil
}

// Remove deletes the documents matching cond and returns their ids.
func (t *Table) Remove(ctx context.Context, cond Cond) ([]int, error) {
	var removed []int
	err := t.modify(ctx, func(tbl storage.Table) (bool, error) {
		for _, id := range tbl.DocIDs() {
			key := strconv.Itoa(id)
			if cond(tbl[key]) {
				delete(tbl, key)
				removed = append(removed, id)
			}
		}
		return len(removed) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// RemoveIDs deletes the documents stored under ids. Nothing is removed if
// any id is missing.
func (t *Table) RemoveIDs(ctx context.Context, ids ...int) error {
	return t.modify(ctx, func(tbl storage.Table) (bool, error) {
		for _, id := range ids {
			if _, ok := tbl[strconv.Itoa(id)]; !ok {
				return false, t.notFound(id)
			}
		}
		for _, id := range ids {
			delete(tbl, strconv.Itoa(id))
		}
		return len(ids) > 0, nil
	})
}

// Len returns the number of documents in the table.
func (t *Table) Len(ctx context.Context) (int, error) {
	tbl, err := t.view(ctx)
	if err != nil {
		return 0, err
	}
	return len(tbl), nil
}

// All returns every document in id order.
func (t *Table) All(ctx context.Context) ([]Record, error) {
	return t.Search(ctx, func(storage.Document) bool { return true })
}

// Truncate removes every document while keeping the table itself.
func (t *Table) Truncate(ctx context.Context) error {
	return t.modify(ctx, func(tbl storage.Table) (bool, error) {
		clear(tbl)
		return true, nil
	})
}

func (t *Table) view(ctx context.Context) (storage.Table, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	state, err := t.db.load(ctx)
	if err != nil {
		return nil, err
	}
	return state[t.name], nil
}

// modify applies fn to the table inside a read-modify-write of the whole
// State. The State is written only when fn reports a change.
func (t *Table) modify(ctx context.Context, fn func(storage.Table) (bool, error)) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	state, err := t.db.load(ctx)
	if err != nil {
		return err
	}
	tbl := state[t.name]
	if tbl == nil {
		tbl = storage.Table{}
	}

	changed, err := fn(tbl)
	if err != nil || !changed {
		return err
	}
	state[t.name] = tbl
	return t.db.store.Write(ctx, state)
}

func (t *Table) notFound(id int) error {
	return fmt.Errorf("%w: %s/%d", ErrDocumentNotFound, t.name, id)
}
