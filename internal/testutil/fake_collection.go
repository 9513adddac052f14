package testutil

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/mongodb-labs/digest-verifier/internal/digest"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// FakeCollection is an in-memory stand-in for a *mongo.Collection that
// understands the handful of queries the verifier sends: {} (with skip
// and limit), {_id: {$in: [...]}}, and {_id: x}.
type FakeCollection struct {
	name string

	mu   sync.Mutex
	docs []bson.D

	// FindErr, when set, fails every Find.
	FindErr error

	// CountErr, when set, fails EstimatedDocumentCount.
	CountErr error

	// Corrupt lists _id keys whose documents come back without an _id.
	Corrupt map[string]bool

	finds   atomic.Int64
	filters []bson.D
}

func NewFakeCollection(name string, docs ...bson.D) *FakeCollection {
	return &FakeCollection{
		name:    name,
		docs:    docs,
		Corrupt: map[string]bool{},
	}
}

func (c *FakeCollection) Name() string {
	return c.name
}

// Finds returns how many times Find has been called.
func (c *FakeCollection) Finds() int {
	return int(c.finds.Load())
}

// Filters returns the filter of every Find so far, in call order.
func (c *FakeCollection) Filters() []bson.D {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.filters)
}

// Put inserts or replaces a document by _id.
func (c *FakeCollection) Put(doc bson.D) {
	key := docKey(doc)

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.docs {
		if docKey(existing) == key {
			c.docs[i] = doc
			return
		}
	}

	c.docs = append(c.docs, doc)
}

func (c *FakeCollection) EstimatedDocumentCount(
	_ context.Context,
	_ ...*options.EstimatedDocumentCountOptions,
) (int64, error) {
	if c.CountErr != nil {
		return 0, c.CountErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return int64(len(c.docs)), nil
}

func (c *FakeCollection) Find(
	ctx context.Context,
	filter any,
	opts ...*options.FindOptions,
) (*mongo.Cursor, error) {
	c.finds.Add(1)

	if c.FindErr != nil {
		return nil, c.FindErr
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.filters = append(c.filters, filter.(bson.D))
	matched := c.match(filter.(bson.D))
	c.mu.Unlock()

	for _, opt := range opts {
		if opt.Skip != nil {
			matched = lo.Drop(matched, int(*opt.Skip))
		}
		if opt.Limit != nil && *opt.Limit > 0 {
			matched = lo.Subset(matched, 0, uint(*opt.Limit))
		}
	}

	matched = lo.Map(matched, func(doc bson.D, _ int) bson.D {
		if c.Corrupt[docKey(doc)] {
			return lo.Filter(doc, func(e bson.E, _ int) bool { return e.Key != "_id" })
		}
		return doc
	})

	return DocsToCursor(matched), nil
}

func (c *FakeCollection) match(filter bson.D) []bson.D {
	if len(filter) == 0 {
		return append([]bson.D{}, c.docs...)
	}

	var wanted []any
	if in, ok := filter[0].Value.(bson.D); ok && len(in) == 1 && in[0].Key == "$in" {
		wanted = in[0].Value.([]any)
	} else {
		wanted = []any{filter[0].Value}
	}

	keys := map[string]bool{}
	for _, id := range wanted {
		keys[lo.Must(digest.KeyOf(id))] = true
	}

	return lo.Filter(c.docs, func(doc bson.D, _ int) bool {
		return keys[docKey(doc)]
	})
}

func docKey(doc bson.D) string {
	for _, e := range doc {
		if e.Key == "_id" {
			return lo.Must(digest.KeyOf(e.Value))
		}
	}

	panic("test document lacks _id")
}
