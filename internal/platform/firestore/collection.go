package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
)

// Document is a decoded snapshot plus its server timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// QueryBuilder narrows the base collection query.
type QueryBuilder func(firestore.Query) firestore.Query

// Collection is typed access to one top-level collection. Every store error passes
// through WrapError with an op of the form "<collection>.<action>".
type Collection[T any] struct {
	provider *Provider
	name     string
}

func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

func (c *Collection[T]) op(action string) string { return c.name + "." + action }

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil || c.name == "" {
		return nil, errors.New("firestore: collection is not configured")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%s: document id is required", c.op("doc"))
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Create fails with a conflict when id is taken.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Create(ctx, value)
	return WrapError(c.op("create"), err)
}

// Update applies field-path writes to an existing document in a single commit.
func (c *Collection[T]) Update(ctx context.Context, id string, updates []firestore.Update) error {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, updates)
	return WrapError(c.op("update"), err)
}

// Mutate reads id inside a transaction and commits the updates build derives from the
// snapshot. build may run more than once when Firestore retries on contention.
func (c *Collection[T]) Mutate(ctx context.Context, id string, build func(current Document[T]) ([]firestore.Update, error)) error {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, c.provider, c.op("mutate"), func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := decodeSnapshot[T](snap)
		if err != nil {
			return err
		}
		updates, err := build(current)
		if err != nil || len(updates) == 0 {
			return err
		}
		return tx.Update(ref, updates)
	})
}

// Delete requires the document to exist.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx, firestore.Exists)
	return WrapError(c.op("delete"), err)
}

func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return decodeSnapshot[T](snap)
}

// GetAll reads ids in one round trip and leaves out the ones that do not exist.
func (c *Collection[T]) GetAll(ctx context.Context, ids []string) ([]Document[T], error) {
	coll, err := c.ref(ctx)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			refs = append(refs, coll.Doc(id))
		}
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, WrapError(c.op("getAll"), err)
	}
	docs := make([]Document[T], 0, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		doc, err := decodeSnapshot[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	q, err := c.query(ctx, build)
	if err != nil {
		return nil, err
	}
	it := q.Documents(ctx)
	defer it.Stop()

	var docs []Document[T]
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		doc, err := decodeSnapshot[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

// Count is a server-side count; no documents are transferred.
func (c *Collection[T]) Count(ctx context.Context, build QueryBuilder) (int64, error) {
	return c.aggregate(ctx, build, "count", func(a *firestore.AggregationQuery) *firestore.AggregationQuery {
		return a.WithCount("count")
	})
}

// Sum totals an integer field server-side. Fractional sums are truncated.
func (c *Collection[T]) Sum(ctx context.Context, build QueryBuilder, field string) (int64, error) {
	return c.aggregate(ctx, build, "sum", func(a *firestore.AggregationQuery) *firestore.AggregationQuery {
		return a.WithSum(field, "sum")
	})
}

func (c *Collection[T]) aggregate(ctx context.Context, build QueryBuilder, alias string, with func(*firestore.AggregationQuery) *firestore.AggregationQuery) (int64, error) {
	q, err := c.query(ctx, build)
	if err != nil {
		return 0, err
	}
	result, err := with(q.NewAggregationQuery()).Get(ctx)
	if err != nil {
		return 0, WrapError(c.op(alias), err)
	}
	return aggregateInt(result[alias]), nil
}

func (c *Collection[T]) query(ctx context.Context, build QueryBuilder) (firestore.Query, error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return firestore.Query{}, err
	}
	if build == nil {
		return coll.Query, nil
	}
	return build(coll.Query), nil
}

func aggregateInt(v any) int64 {
	switch value := v.(type) {
	case *firestorepb.Value:
		if _, isDouble := value.GetValueType().(*firestorepb.Value_DoubleValue); isDouble {
			return int64(value.GetDoubleValue())
		}
		return value.GetIntegerValue()
	case int64:
		return value
	case float64:
		return int64(value)
	}
	return 0
}

func decodeSnapshot[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: data, CreateTime: snap.CreateTime, UpdateTime: snap.UpdateTime}, nil
}
