// Package snapshot persists a collection's source digests so that a later
// run can compare the destination against them.
//
// Each write appends one JSON object ({"<_id key>":"<digest>",...}) to
// the snapshot named by the Key. Repeated writes therefore leave several
// objects back to back; Load splits them apart again and merges them.
package snapshot

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/mongodb-labs/digest-verifier/internal/digest"
	"github.com/mongodb-labs/digest-verifier/internal/logger"
	"github.com/pkg/errors"
)

// ErrNotFound means nothing has been written under a Key.
var ErrNotFound = errors.New("snapshot not found")

// Key names a snapshot: a namespace and the sample range it covers.
type Key struct {
	Namespace string
	Start     int
	Count     int
}

// Name renders the key as "<namespace>_<start>_<end>".
func (k Key) Name() string {
	return fmt.Sprintf("%s_%d_%d", k.Namespace, k.Start, k.Start+k.Count)
}

// Backend stores snapshot blobs.
type Backend interface {
	// Append adds a blob to the snapshot and returns where it went.
	Append(ctx context.Context, key Key, blob []byte) (string, error)

	// Read returns every blob of the snapshot, concatenated in write
	// order, or ErrNotFound.
	Read(ctx context.Context, key Key) ([]byte, error)
}

// Store writes and loads digest maps through a Backend, optionally
// recording each write in a Catalog.
type Store struct {
	backend Backend
	catalog *Catalog
	runID   string
	log     *logger.Logger
}

// NewStore returns a Store. catalog may be nil.
func NewStore(log *logger.Logger, backend Backend, catalog *Catalog, runID string) *Store {
	return &Store{
		backend: backend,
		catalog: catalog,
		runID:   runID,
		log:     log,
	}
}

// Write appends the digests as one blob.
func (s *Store) Write(ctx context.Context, key Key, digests digest.Map) (string, error) {
	blob, err := json.Marshal(digests)
	if err != nil {
		return "", errors.Wrapf(err, "encoding snapshot %#q", key.Name())
	}

	location, err := s.backend.Append(ctx, key, blob)
	if err != nil {
		return "", errors.Wrapf(err, "writing snapshot %#q", key.Name())
	}

	if s.catalog != nil {
		err := s.catalog.Record(key, Fragment{
			Location: location,
			Docs:     len(digests),
			RunID:    s.runID,
		})
		if err != nil {
			return "", errors.Wrapf(err, "cataloging snapshot %#q", key.Name())
		}
	}

	return location, nil
}

// Load reads every blob of the snapshot and merges them; later blobs
// win where _ids repeat.
func (s *Store) Load(ctx context.Context, key Key) (digest.Map, error) {
	data, err := s.backend.Read(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "reading snapshot %#q", key.Name())
	}

	blobs, err := DecodeConcatenated(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding snapshot %#q", key.Name())
	}

	merged := digest.Map{}
	for _, blob := range blobs {
		for id, sum := range blob {
			merged[id] = sum
		}
	}

	s.log.Debug().
		Str("snapshot", key.Name()).
		Int("blobs", len(blobs)).
		Int("docs", len(merged)).
		Msg("Loaded snapshot.")

	if s.catalog != nil {
		s.checkAgainstCatalog(ctx, key, merged)
	}

	return merged, nil
}

func (s *Store) checkAgainstCatalog(ctx context.Context, key Key, merged digest.Map) {
	var fragments, largest int

	for res := range s.catalog.Fragments(ctx, key) {
		frag, err := res.Get()
		if err != nil {
			s.log.Warn().Err(err).Str("snapshot", key.Name()).Msg("Failed to read snapshot catalog.")
			return
		}

		fragments++
		largest = max(largest, frag.Docs)
	}

	if fragments == 0 {
		s.log.Debug().Str("snapshot", key.Name()).Msg("Snapshot has no catalog entries.")
		return
	}

	if len(merged) < largest {
		s.log.Warn().
			Str("snapshot", key.Name()).
			Int("loaded", len(merged)).
			Int("recorded", largest).
			Msg("Snapshot holds fewer documents than were written to it. It may be truncated.")
	}
}
