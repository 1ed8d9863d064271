package query

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/alaap-nair/studysync/pkg/docstore"
	"github.com/alaap-nair/studysync/pkg/model"
	"github.com/google/go-cmp/cmp"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// seed fills both stores with the same randomly generated task documents.
// Order fields collide on purpose so tie-breaking is exercised.
func seed(stores ...*docstore.Memory) {
	rng := rand.New(rand.NewSource(42))
	subjects := []string{"math", "physics", "history"}
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		data := map[string]any{
			"subjectId": subjects[rng.Intn(len(subjects))],
			"createdAt": base.Add(time.Duration(rng.Intn(10)) * time.Hour),
			"priority":  []string{"high", "medium", "low"}[rng.Intn(3)],
		}
		for _, s := range stores {
			s.Put("tasks", fmt.Sprintf("task-%02d", i), data)
		}
	}
}

func ids(docs []docstore.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestFallbackMatchesIndexedQuery(t *testing.T) {
	ctx := context.Background()
	filter := &docstore.Filter{Field: "subjectId", Op: "==", Value: "math"}

	for _, order := range []docstore.OrderBy{
		{Field: "createdAt", Direction: docstore.Asc},
		{Field: "createdAt", Direction: docstore.Desc},
		{Field: "priority", Direction: docstore.Asc},
	} {
		unindexed := docstore.NewMemory().RequireCompositeIndexes()
		indexed := docstore.NewMemory().RequireCompositeIndexes()
		indexed.AddIndex("tasks", order, "subjectId")
		seed(unindexed, indexed)

		want, err := New(indexed, WithLogger(quietLogger())).QueryCollection(ctx, "tasks", filter, &order)
		if err != nil {
			t.Fatalf("indexed query (%v): %v", order, err)
		}
		got, err := New(unindexed, WithLogger(quietLogger())).QueryCollection(ctx, "tasks", filter, &order)
		if err != nil {
			t.Fatalf("fallback query (%v): %v", order, err)
		}
		if len(want) == 0 {
			t.Fatalf("expected seeded data to match the filter")
		}
		if diff := cmp.Diff(ids(want), ids(got)); diff != "" {
			t.Errorf("fallback order differs from indexed order for %v (-want +got):\n%s", order, diff)
		}
	}
}

func TestFallbackLogsDiagnostic(t *testing.T) {
	var buf bytes.Buffer
	store := docstore.NewMemory().RequireCompositeIndexes()
	seed(store)

	q := New(store, WithLogger(log.New(&buf, "", 0)))
	_, err := q.QueryCollection(context.Background(), "tasks",
		&docstore.Filter{Field: "subjectId", Op: "==", Value: "math"},
		&docstore.OrderBy{Field: "createdAt", Direction: docstore.Desc})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "tasks") || !strings.Contains(out, "subjectId, createdAt desc") {
		t.Errorf("expected diagnostic naming collection and fields, got %q", out)
	}
}

func TestOtherErrorsPropagate(t *testing.T) {
	store := docstore.NewMemory()
	boom := docstore.WithKind(model.ErrRemoteUnavailable, errors.New("backend down"))
	store.Fail(docstore.OpQuery, boom)

	q := New(store, WithLogger(quietLogger()))
	_, err := q.QueryCollection(context.Background(), "tasks", nil, &docstore.OrderBy{Field: "createdAt"})
	if !errors.Is(err, model.ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
	if store.Calls(docstore.OpQuery) != 1 {
		t.Fatalf("expected no fallback query, got %d queries", store.Calls(docstore.OpQuery))
	}
}

func TestWarmupRunsOncePerTuple(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory().RequireCompositeIndexes()
	seed(store)

	q := New(store, WithLogger(quietLogger()), WithWarmup(true))
	filter := &docstore.Filter{Field: "subjectId", Op: "==", Value: "math"}
	order := &docstore.OrderBy{Field: "createdAt", Direction: docstore.Desc}

	first, err := q.QueryCollection(ctx, "tasks", filter, order)
	if err != nil {
		t.Fatalf("first query: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := q.QueryCollection(ctx, "tasks", filter, order); err != nil {
			t.Fatalf("repeat query: %v", err)
		}
	}
	// A different filter value is the same tuple.
	other := &docstore.Filter{Field: "subjectId", Op: "==", Value: "history"}
	if _, err := q.QueryCollection(ctx, "tasks", other, order); err != nil {
		t.Fatalf("other value query: %v", err)
	}
	q.Wait()

	if n := store.Calls(docstore.OpAdd); n != 1 {
		t.Fatalf("expected exactly one probe write, got %d", n)
	}
	if n := store.Calls(docstore.OpDelete); n != 1 {
		t.Fatalf("expected the probe to be deleted once, got %d", n)
	}

	after, err := q.QueryCollection(ctx, "tasks", filter, order)
	if err != nil {
		t.Fatalf("query after warm-up: %v", err)
	}
	if diff := cmp.Diff(ids(first), ids(after)); diff != "" {
		t.Errorf("warm-up changed query results (-before +after):\n%s", diff)
	}
	for _, d := range after {
		if IsProbe(d) {
			t.Fatalf("probe document leaked into results")
		}
	}
}

func TestQueryWithoutOrderNeedsNoFallback(t *testing.T) {
	store := docstore.NewMemory().RequireCompositeIndexes()
	seed(store)

	q := New(store, WithLogger(quietLogger()))
	docs, err := q.QueryCollection(context.Background(), "tasks",
		&docstore.Filter{Field: "priority", Op: "==", Value: "high"}, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, d := range docs {
		if d.Data["priority"] != "high" {
			t.Fatalf("unexpected document %s with priority %v", d.ID, d.Data["priority"])
		}
	}
	if store.Calls(docstore.OpQuery) != 1 {
		t.Fatalf("expected a single query, got %d", store.Calls(docstore.OpQuery))
	}
}
