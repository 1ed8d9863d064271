package docstore

import (
	"context"
	"fmt"
	"log"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Firestore is a Store backed by Cloud Firestore.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore wraps an existing Firestore client.
func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

// OpenFirestore initializes a Firebase app for projectID and returns a store
// over its Firestore database. An empty credentialsFile uses application
// default credentials.
func OpenFirestore(ctx context.Context, projectID, credentialsFile string) (*Firestore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firestore client: %w", err)
	}

	log.Printf("[Firestore] Client initialized for project %q", projectID)
	return NewFirestore(client), nil
}

// Close releases the underlying client.
func (f *Firestore) Close() error {
	return f.client.Close()
}

func (f *Firestore) Query(ctx context.Context, collection string, filters []Filter, order *OrderBy) ([]Document, error) {
	q := f.client.Collection(collection).Query
	for _, flt := range filters {
		q = q.Where(flt.Field, flt.Op, toFirestore(flt.Value))
	}
	if order != nil {
		dir := firestore.Asc
		if order.Desc() {
			dir = firestore.Desc
		}
		q = q.OrderBy(order.Field, dir)
	}

	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, Classify(err))
	}

	docs := make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, fromSnapshot(snap))
	}
	return docs, nil
}

func (f *Firestore) Get(ctx context.Context, collection, id string) (Document, error) {
	snap, err := f.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, Classify(err))
	}
	return fromSnapshot(snap), nil
}

func (f *Firestore) Add(ctx context.Context, collection string, data map[string]any) (Document, error) {
	ref, _, err := f.client.Collection(collection).Add(ctx, toFirestoreMap(data))
	if err != nil {
		return Document{}, fmt.Errorf("add to %s: %w", collection, Classify(err))
	}
	// Read back so server timestamps are resolved in the returned record.
	return f.Get(ctx, collection, ref.ID)
}

func (f *Firestore) Update(ctx context.Context, collection, id string, data map[string]any) (Document, error) {
	updates := make([]firestore.Update, 0, len(data))
	for k, v := range data {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: toFirestore(v)})
	}
	ref := f.client.Collection(collection).Doc(id)
	if _, err := ref.Update(ctx, updates); err != nil {
		return Document{}, fmt.Errorf("update %s/%s: %w", collection, id, Classify(err))
	}
	return f.Get(ctx, collection, id)
}

func (f *Firestore) Delete(ctx context.Context, collection, id string) error {
	_, err := f.client.Collection(collection).Doc(id).Delete(ctx, firestore.Exists)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, Classify(err))
	}
	return nil
}

func fromSnapshot(snap *firestore.DocumentSnapshot) Document {
	return Document{ID: snap.Ref.ID, Data: snap.Data()}
}

func toFirestore(v any) any {
	if _, ok := v.(serverTimestamp); ok {
		return firestore.ServerTimestamp
	}
	return v
}

func toFirestoreMap(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = toFirestore(v)
	}
	return out
}
