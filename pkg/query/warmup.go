package query

import (
	"context"
	"time"

	"github.com/alaap-nair/studysync/pkg/docstore"
)

// probeMarker tags probe documents so they can be recognized and cleaned up.
const probeMarker = "__indexProbe"

const warmupTimeout = 30 * time.Second

type warmupKey struct {
	collection  string
	filterField string
	orderField  string
}

// startWarmup writes and deletes a throwaway document carrying the queried
// fields, then re-runs the failing query once, to nudge the backend's index
// builder. It runs at most once per (collection, filter field, order field)
// for the lifetime of the Querier and never affects a caller's result.
func (q *Querier) startWarmup(collection string, filter *docstore.Filter, order docstore.OrderBy) {
	key := warmupKey{collection: collection, orderField: order.Field}
	if filter != nil {
		key.filterField = filter.Field
	}

	q.mu.Lock()
	if q.visited[key] {
		q.mu.Unlock()
		return
	}
	q.visited[key] = true
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), warmupTimeout)
		defer cancel()
		q.warm(ctx, collection, filter, order)
	}()
}

func (q *Querier) warm(ctx context.Context, collection string, filter *docstore.Filter, order docstore.OrderBy) {
	probe := map[string]any{
		probeMarker: true,
		order.Field: docstore.ServerTimestamp,
	}
	var filters []docstore.Filter
	if filter != nil {
		probe[filter.Field] = filter.Value
		filters = []docstore.Filter{*filter}
	}

	doc, err := q.store.Add(ctx, collection, probe)
	if err != nil {
		q.logger.Printf("Index warm-up probe on %s failed: %v", collection, err)
		return
	}
	if err := q.store.Delete(ctx, collection, doc.ID); err != nil {
		q.logger.Printf("Index warm-up could not delete probe %s/%s: %v", collection, doc.ID, err)
	}

	if _, err := q.store.Query(ctx, collection, filters, &order); err != nil {
		if docstore.IsIndexMissing(err) {
			q.logger.Printf("Index on %s (%s) still building", collection, indexFields(filter, &order))
			return
		}
		q.logger.Printf("Index warm-up re-query on %s failed: %v", collection, err)
		return
	}
	q.logger.Printf("Index on %s (%s) is now available", collection, indexFields(filter, &order))
}

// IsProbe reports whether doc is a warm-up probe that a concurrent reader
// happened to observe before it was deleted.
func IsProbe(doc docstore.Document) bool {
	v, ok := doc.Data[probeMarker].(bool)
	return ok && v
}
