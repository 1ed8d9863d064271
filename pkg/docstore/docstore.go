// Package docstore defines the schemaless document store the task cache is
// backed by, together with a Firestore implementation and an in-memory one.
package docstore

import (
	"context"
	"maps"
)

// Document is one schemaless record of a collection.
type Document struct {
	ID   string
	Data map[string]any
}

// Field returns the raw value stored under name and whether it was present.
func (d Document) Field(name string) (any, bool) {
	v, ok := d.Data[name]
	return v, ok
}

// Clone copies the top level of the document's data.
func (d Document) Clone() Document {
	return Document{ID: d.ID, Data: maps.Clone(d.Data)}
}

// Direction is the sort direction of an ordered query.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Filter restricts a query to documents whose Field satisfies Op against Value.
// Supported operators: ==, !=, <, <=, >, >=, array-contains, in.
type Filter struct {
	Field string
	Op    string
	Value any
}

// OrderBy sorts a query by one field.
type OrderBy struct {
	Field     string
	Direction Direction
}

// Desc reports whether the ordering is descending.
func (o OrderBy) Desc() bool {
	return o.Direction == Desc
}

type serverTimestamp struct{}

// ServerTimestamp is a write sentinel replaced by the backend's commit time.
var ServerTimestamp any = serverTimestamp{}

// Store is the remote document store. Errors wrap the kinds declared in the
// model package so callers can tell a missing index or a vanished document
// apart from the backend being unreachable.
type Store interface {
	// Query returns the documents matching every filter, sorted by order
	// when it is non-nil.
	Query(ctx context.Context, collection string, filters []Filter, order *OrderBy) ([]Document, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	// Add stores data under a backend-assigned id and returns the stored record.
	Add(ctx context.Context, collection string, data map[string]any) (Document, error)
	// Update merges data into an existing document and returns the stored record.
	Update(ctx context.Context, collection, id string, data map[string]any) (Document, error)
	Delete(ctx context.Context, collection, id string) error
}
