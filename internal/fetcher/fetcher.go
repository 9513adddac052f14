// Package fetcher reads documents by _id and reduces them to digests.
package fetcher

import (
	"context"
	"slices"
	"time"

	"github.com/mongodb-labs/digest-verifier/internal/digest"
	"github.com/mongodb-labs/digest-verifier/internal/logger"
	"github.com/mongodb-labs/digest-verifier/internal/util"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/time/rate"
)

// Collection is the subset of *mongo.Collection that the verifier reads
// through.
type Collection interface {
	Name() string
	EstimatedDocumentCount(ctx context.Context, opts ...*options.EstimatedDocumentCountOptions) (int64, error)
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

var _ Collection = (*mongo.Collection)(nil)

// Options tune a Fetcher. The zero value hashes in field order with no
// timeout and no rate limit.
type Options struct {
	Hasher digest.Hasher

	// Timeout bounds each fetch. Zero means no bound.
	Timeout time.Duration

	// Rate caps fetches per second across all workers. Zero means no cap.
	Rate float64
}

// Fetcher turns sets of _ids into digest maps.
type Fetcher struct {
	hasher  digest.Hasher
	timeout time.Duration
	limiter *rate.Limiter
}

// Batch is the outcome of one Fetch.
type Batch struct {
	Digests digest.Map

	// IDs holds each digested document's _id as it was read, by key.
	IDs map[string]bson.RawValue

	// Bytes is the total BSON size of the digested documents.
	Bytes int

	// Failures counts documents that arrived but could not be digested.
	Failures int
}

func New(opts Options) *Fetcher {
	f := &Fetcher{
		hasher:  opts.Hasher,
		timeout: opts.Timeout,
	}

	if opts.Rate > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.Rate), max(1, int(opts.Rate)))
	}

	return f
}

// Fetch reads every document of coll whose _id is in ids and digests it.
//
// Fetch does not fail as a whole: a document that cannot be read or
// digested is logged and left out of the result, and so is everything
// after a cursor failure. Callers detect absences by comparing against
// what they asked for.
func (f *Fetcher) Fetch(ctx context.Context, log *logger.Logger, coll Collection, ids []any) Batch {
	batch := Batch{Digests: digest.Map{}, IDs: map[string]bson.RawValue{}}

	if len(ids) == 0 {
		return batch
	}

	ctx, cancel := f.fetchContext(ctx, len(ids))
	defer cancel()

	if err := f.wait(ctx); err != nil {
		log.Error().Err(err).Str("collection", coll.Name()).Int("ids", len(ids)).Msg("Rate limiter wait failed.")
		return batch
	}

	cursor, err := coll.Find(ctx, bson.D{{"_id", bson.D{{"$in", ids}}}})
	if err != nil {
		log.Error().
			Err(err).
			Str("kind", util.ErrorKind(err)).
			Str("collection", coll.Name()).
			Int("ids", len(ids)).
			Msg("Failed to query documents.")

		return batch
	}
	defer cursor.Close(context.WithoutCancel(ctx))

	for cursor.Next(ctx) {
		doc := cursor.Current

		id, key, err := digest.DocumentID(doc)
		if err != nil {
			batch.Failures++
			log.Error().Err(err).Str("collection", coll.Name()).Msg("Skipping document without a usable _id.")
			continue
		}

		sum, err := f.hasher.Sum(doc)
		if err != nil {
			batch.Failures++
			log.Error().Err(err).Str("collection", coll.Name()).Str("_id", key).Msg("Skipping document that could not be digested.")
			continue
		}

		batch.Digests[key] = sum
		batch.IDs[key] = cloneID(id)
		batch.Bytes += len(doc)
	}

	if err := cursor.Err(); err != nil {
		if ctx.Err() != nil {
			err = util.WrapCtxErrWithCause(ctx)
		}

		log.Error().
			Err(err).
			Str("kind", util.ErrorKind(err)).
			Str("collection", coll.Name()).
			Int("received", len(batch.Digests)).
			Int("requested", len(ids)).
			Msg("Cursor failed; keeping the documents read so far.")
	}

	return batch
}

// FetchOne reads and digests a single document. found is false (and err
// nil) when no document has the given _id.
func (f *Fetcher) FetchOne(ctx context.Context, coll Collection, id any) (sum string, found bool, err error) {
	ctx, cancel := f.fetchContext(ctx, 1)
	defer cancel()

	if err := f.wait(ctx); err != nil {
		return "", false, errors.Wrap(err, "waiting for rate limiter")
	}

	cursor, err := coll.Find(ctx, bson.D{{"_id", id}}, options.Find().SetLimit(1))
	if err != nil {
		return "", false, errors.Wrapf(err, "querying %#q for _id %v", coll.Name(), id)
	}
	defer cursor.Close(context.WithoutCancel(ctx))

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return "", false, errors.Wrapf(err, "reading %#q for _id %v", coll.Name(), id)
		}

		return "", false, nil
	}

	sum, err = f.hasher.Sum(cursor.Current)
	if err != nil {
		return "", false, errors.Wrapf(err, "digesting %#q document %v", coll.Name(), id)
	}

	return sum, true, nil
}

// ScanIDs returns up to limit _ids of coll in ascending order, after
// skipping the first skip.
func (f *Fetcher) ScanIDs(ctx context.Context, coll Collection, skip, limit int64) ([]any, error) {
	if limit <= 0 {
		return nil, nil
	}

	opts := options.Find().
		SetProjection(bson.D{{"_id", 1}}).
		SetSort(bson.D{{"_id", 1}}).
		SetSkip(skip).
		SetLimit(limit)

	cursor, err := coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "scanning _ids of %#q", coll.Name())
	}
	defer cursor.Close(context.WithoutCancel(ctx))

	ids := make([]any, 0, min(limit, 10_000))
	for cursor.Next(ctx) {
		id, _, err := digest.DocumentID(cursor.Current)
		if err != nil {
			return nil, errors.Wrapf(err, "scanning _ids of %#q", coll.Name())
		}

		ids = append(ids, cloneID(id))
	}

	if err := cursor.Err(); err != nil {
		return nil, errors.Wrapf(err, "scanning _ids of %#q", coll.Name())
	}

	return ids, nil
}

// EstimatedCount returns the collection's estimated document count.
func (f *Fetcher) EstimatedCount(ctx context.Context, coll Collection) (int64, error) {
	count, err := coll.EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "estimating document count of %#q", coll.Name())
	}

	return count, nil
}

// cloneID detaches id from the cursor buffer it was read from.
func cloneID(id bson.RawValue) bson.RawValue {
	return bson.RawValue{Type: id.Type, Value: slices.Clone(id.Value)}
}

func (f *Fetcher) fetchContext(ctx context.Context, numIDs int) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeoutCause(
		ctx,
		f.timeout,
		errors.Errorf("fetching %d document(s) took longer than %s", numIDs, f.timeout),
	)
}

func (f *Fetcher) wait(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}

	return f.limiter.Wait(ctx)
}
