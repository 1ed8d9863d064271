package docstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alaap-nair/studysync/pkg/model"
	"github.com/google/uuid"
)

// Op names a Memory operation for failure injection and call counting.
type Op string

const (
	OpQuery  Op = "query"
	OpGet    Op = "get"
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Memory is an in-process Store. When composite indexes are required it
// rejects filtered queries ordered by another field unless a matching index
// was declared, the same way the hosted backend does before the index is
// built.
type Memory struct {
	mu             sync.Mutex
	collections    map[string]map[string]map[string]any
	requireIndexes bool
	indexes        map[string]bool
	failures       map[Op]error
	calls          map[Op]int
	now            func() time.Time
}

// NewMemory returns an empty store that needs no indexes.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]map[string]any),
		indexes:     make(map[string]bool),
		failures:    make(map[Op]error),
		calls:       make(map[Op]int),
		now:         time.Now,
	}
}

// RequireCompositeIndexes makes filtered queries ordered by another field
// fail with ErrIndexMissing unless AddIndex declared the index.
func (m *Memory) RequireCompositeIndexes() *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requireIndexes = true
	return m
}

// AddIndex declares a composite index over filterFields ordered by order.
func (m *Memory) AddIndex(collection string, order OrderBy, filterFields ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[indexKey(collection, order, filterFields)] = true
}

// SetClock replaces the clock used for server timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Fail makes every subsequent call of op return err. A nil err clears it.
func (m *Memory) Fail(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Calls returns how many times op has been invoked, failed calls included.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Put stores data under a caller-chosen id, bypassing failure injection.
func (m *Memory) Put(collection, id string, data map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs(collection)[id] = m.resolve(data)
}

func (m *Memory) enter(op Op) error {
	m.calls[op]++
	if err := m.failures[op]; err != nil {
		return err
	}
	return nil
}

func (m *Memory) docs(collection string) map[string]map[string]any {
	c, ok := m.collections[collection]
	if !ok {
		c = make(map[string]map[string]any)
		m.collections[collection] = c
	}
	return c
}

func (m *Memory) resolve(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = m.now()
			continue
		}
		out[k] = copyValue(v)
	}
	return out
}

func (m *Memory) Query(ctx context.Context, collection string, filters []Filter, order *OrderBy) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, WithKind(model.ErrRemoteUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpQuery); err != nil {
		return nil, err
	}

	if order != nil && m.requireIndexes {
		var others []string
		for _, f := range filters {
			if f.Field != order.Field {
				others = append(others, f.Field)
			}
		}
		if len(others) > 0 && !m.indexes[indexKey(collection, *order, others)] {
			return nil, IndexMissingError(collection, append(others, order.Field)...)
		}
	}

	var docs []Document
	for id, data := range m.docs(collection) {
		doc := Document{ID: id, Data: data}
		if !matchesAll(doc, filters) {
			continue
		}
		if order != nil {
			if _, ok := data[order.Field]; !ok {
				continue
			}
		}
		docs = append(docs, cloneDocument(doc))
	}

	if order != nil {
		sort.Slice(docs, func(i, j int) bool {
			return CompareDocuments(docs[i], docs[j], *order) < 0
		})
	} else {
		sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	}
	return docs, nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, WithKind(model.ErrRemoteUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGet); err != nil {
		return Document{}, err
	}
	data, ok := m.docs(collection)[id]
	if !ok {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, model.ErrNotFound)
	}
	return cloneDocument(Document{ID: id, Data: data}), nil
}

func (m *Memory) Add(ctx context.Context, collection string, data map[string]any) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, WithKind(model.ErrRemoteUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpAdd); err != nil {
		return Document{}, err
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	stored := m.resolve(data)
	m.docs(collection)[id] = stored
	return cloneDocument(Document{ID: id, Data: stored}), nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, data map[string]any) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, WithKind(model.ErrRemoteUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpdate); err != nil {
		return Document{}, err
	}
	existing, ok := m.docs(collection)[id]
	if !ok {
		return Document{}, fmt.Errorf("update %s/%s: %w", collection, id, model.ErrNotFound)
	}
	for k, v := range m.resolve(data) {
		existing[k] = v
	}
	return cloneDocument(Document{ID: id, Data: existing}), nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return WithKind(model.ErrRemoteUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpDelete); err != nil {
		return err
	}
	docs := m.docs(collection)
	if _, ok := docs[id]; !ok {
		return fmt.Errorf("delete %s/%s: %w", collection, id, model.ErrNotFound)
	}
	delete(docs, id)
	return nil
}

func indexKey(collection string, order OrderBy, filterFields []string) string {
	fields := slices.Clone(filterFields)
	slices.Sort(fields)
	fields = slices.Compact(fields)
	dir := order.Direction
	if dir == "" {
		dir = Asc
	}
	return fmt.Sprintf("%s|%s|%s:%s", collection, strings.Join(fields, ","), order.Field, dir)
}

func matchesAll(doc Document, filters []Filter) bool {
	for _, f := range filters {
		v, ok := doc.Data[f.Field]
		if !ok || !matches(v, f.Op, f.Value) {
			return false
		}
	}
	return true
}

func matches(v any, op string, want any) bool {
	sameClass := classify(v) == classify(want)
	switch op {
	case "==":
		return sameClass && Compare(v, want) == 0
	case "!=":
		return !(sameClass && Compare(v, want) == 0)
	case "<":
		return sameClass && Compare(v, want) < 0
	case "<=":
		return sameClass && Compare(v, want) <= 0
	case ">":
		return sameClass && Compare(v, want) > 0
	case ">=":
		return sameClass && Compare(v, want) >= 0
	case "array-contains":
		for _, el := range asSlice(v) {
			if classify(el) == classify(want) && Compare(el, want) == 0 {
				return true
			}
		}
	case "in":
		for _, el := range asSlice(want) {
			if classify(el) == classify(v) && Compare(el, v) == 0 {
				return true
			}
		}
	}
	return false
}

func asSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out
	}
	return nil
}

func copyValue(v any) any {
	switch s := v.(type) {
	case []any:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = copyValue(x)
		}
		return out
	case []string:
		return asSlice(s)
	case map[string]any:
		out := make(map[string]any, len(s))
		for k, x := range s {
			out[k] = copyValue(x)
		}
		return out
	case *time.Time:
		if s == nil {
			return nil
		}
		return *s
	}
	return v
}

func cloneDocument(d Document) Document {
	data := make(map[string]any, len(d.Data))
	for k, v := range d.Data {
		data[k] = copyValue(v)
	}
	return Document{ID: d.ID, Data: data}
}
