package snapshot

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/mongodb-labs/digest-verifier/internal/logger"
	"github.com/pkg/errors"
	"github.com/samber/mo"
)

const catalogPrefix = "snapshot/"

// Fragment records one write to a snapshot.
type Fragment struct {
	Location  string    `json:"location"`
	Docs      int       `json:"docs"`
	RunID     string    `json:"runID"`
	WrittenAt time.Time `json:"writtenAt"`
}

// Catalog is a local record of snapshot writes, kept in BadgerDB. Load
// consults it to notice snapshots that lost data after being written.
type Catalog struct {
	log *logger.Logger
	db  *badger.DB
	seq atomic.Uint64
}

// OpenCatalog opens (or creates) the catalog in dir. An empty dir gives
// an in-memory catalog that lasts only as long as the process.
func OpenCatalog(l *logger.Logger, dir string) (*Catalog, error) {
	opts := badger.DefaultOptions(dir).WithLogger(&badgerLogger{l})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening snapshot catalog %#q", dir)
	}

	return &Catalog{log: l, db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

func fragmentPrefix(key Key) []byte {
	return []byte(catalogPrefix + key.Name() + "/")
}

// Record adds a fragment under the given snapshot key.
func (c *Catalog) Record(key Key, frag Fragment) error {
	if frag.WrittenAt.IsZero() {
		frag.WrittenAt = time.Now()
	}

	val, err := json.Marshal(frag)
	if err != nil {
		return errors.Wrap(err, "encoding fragment")
	}

	entryKey := append(
		fragmentPrefix(key),
		fmt.Sprintf("%020d-%06d-%s", frag.WrittenAt.UnixNano(), c.seq.Add(1), frag.RunID)...,
	)

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey, val)
	})
}

// Fragments streams the fragments recorded for a snapshot, oldest first.
func (c *Catalog) Fragments(ctx context.Context, key Key) <-chan mo.Result[Fragment] {
	retChan := make(chan mo.Result[Fragment])
	prefix := fragmentPrefix(key)

	go func() {
		defer close(retChan)

		err := c.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				var frag Fragment

				err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &frag)
				})
				if err != nil {
					return errors.Wrapf(err, "decoding catalog entry %#q", it.Item().Key())
				}

				select {
				case <-ctx.Done():
					return ctx.Err()
				case retChan <- mo.Ok(frag):
				}
			}

			return nil
		})

		if err != nil {
			select {
			case <-ctx.Done():
				c.log.Warn().Err(err).Msg("Stopped reading snapshot catalog.")
			case retChan <- mo.Err[Fragment](err):
			}
		}
	}()

	return retChan
}
