// Package query wraps a document store so that filtered, ordered queries keep
// working while the backend lacks the composite index they need.
package query

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/alaap-nair/studysync/pkg/docstore"
)

// Querier runs collection queries with an unordered fallback for missing
// composite indexes.
type Querier struct {
	store  docstore.Store
	logger *log.Logger
	warmup bool

	mu      sync.Mutex
	visited map[warmupKey]bool
	wg      sync.WaitGroup
}

// Option configures a Querier.
type Option func(*Querier)

// WithLogger sets the logger used for index diagnostics.
func WithLogger(logger *log.Logger) Option {
	return func(q *Querier) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithWarmup enables the index warm-up probe after a fallback.
func WithWarmup(enabled bool) Option {
	return func(q *Querier) { q.warmup = enabled }
}

// New creates a Querier over store.
func New(store docstore.Store, opts ...Option) *Querier {
	q := &Querier{
		store:   store,
		logger:  log.New(os.Stderr, "[query] ", log.LstdFlags),
		visited: make(map[warmupKey]bool),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// QueryCollection returns the documents of name matching filter, sorted by
// orderBy. Both are optional. When the backend reports a missing composite
// index the query is re-issued with the filter only and sorted here, so the
// caller sees the same sequence an indexed query would have produced. Every
// other error is returned unchanged.
func (q *Querier) QueryCollection(ctx context.Context, name string, filter *docstore.Filter, orderBy *docstore.OrderBy) ([]docstore.Document, error) {
	var filters []docstore.Filter
	if filter != nil {
		filters = []docstore.Filter{*filter}
	}

	docs, err := q.store.Query(ctx, name, filters, orderBy)
	if err == nil {
		return docs, nil
	}
	if orderBy == nil || !docstore.IsIndexMissing(err) {
		return nil, err
	}

	q.logger.Printf("Missing composite index on %s (%s); falling back to in-memory sort. Provision it out-of-band: %v",
		name, indexFields(filter, orderBy), err)

	docs, err = q.store.Query(ctx, name, filters, nil)
	if err != nil {
		return nil, fmt.Errorf("fallback query %s: %w", name, err)
	}
	docs = SortDocuments(docs, *orderBy)

	if q.warmup {
		q.startWarmup(name, filter, *orderBy)
	}
	return docs, nil
}

// SortDocuments orders docs as an indexed query on order would. Documents
// without the order field are dropped, because an indexed query never
// returns them.
func SortDocuments(docs []docstore.Document, order docstore.OrderBy) []docstore.Document {
	out := make([]docstore.Document, 0, len(docs))
	for _, d := range docs {
		if _, ok := d.Data[order.Field]; ok {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return docstore.CompareDocuments(out[i], out[j], order) < 0
	})
	return out
}

// Wait blocks until every in-flight warm-up probe has finished.
func (q *Querier) Wait() {
	q.wg.Wait()
}

func indexFields(filter *docstore.Filter, orderBy *docstore.OrderBy) string {
	if filter == nil {
		return fmt.Sprintf("%s %s", orderBy.Field, direction(orderBy))
	}
	return fmt.Sprintf("%s, %s %s", filter.Field, orderBy.Field, direction(orderBy))
}

func direction(o *docstore.OrderBy) docstore.Direction {
	if o.Desc() {
		return docstore.Desc
	}
	return docstore.Asc
}
