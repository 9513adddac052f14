package verifier

// This file holds the counters that workers share while verifying one
// collection.

import (
	"sync/atomic"
	"time"

	"github.com/mongodb-labs/digest-verifier/internal/types"
	"github.com/mongodb-labs/digest-verifier/internal/util"
	"github.com/mongodb-labs/digest-verifier/msync"
)

// CollectionStats accumulates one collection's progress. Workers update
// it concurrently; every field is either atomic or guarded.
type CollectionStats struct {
	Namespace string
	Total     types.DocumentCount
	Units     types.UnitCount

	processed    atomic.Uint64
	unitsDone    atomic.Uint64
	processNanos atomic.Int64
	bytes        atomic.Uint64
	mismatches   atomic.Uint64

	failed msync.Flag

	displayLimit int
	samples      *msync.DataGuard[[]Mismatch]
}

func newCollectionStats(namespace string, total int, units int, displayLimit int) *CollectionStats {
	return &CollectionStats{
		Namespace:    namespace,
		Total:        types.DocumentCount(total),
		Units:        types.UnitCount(units),
		displayLimit: displayLimit,
		samples:      msync.NewDataGuard([]Mismatch{}),
	}
}

// recordUnit adds a finished unit and returns the new processed count.
func (cs *CollectionStats) recordUnit(docs int, elapsed time.Duration) types.DocumentCount {
	cs.unitsDone.Add(1)
	cs.processNanos.Add(int64(elapsed))
	return types.DocumentCount(cs.processed.Add(uint64(docs)))
}

func (cs *CollectionStats) addBytes(n int) {
	cs.bytes.Add(uint64(n))
}

// fail marks the collection failed without recording a mismatch.
func (cs *CollectionStats) fail() {
	cs.failed.Raise()
}

// addMismatch fails the collection and records the mismatch, keeping up
// to displayLimit of them for the summary.
func (cs *CollectionStats) addMismatch(m Mismatch) {
	cs.failed.Raise()
	cs.mismatches.Add(1)

	cs.samples.Store(func(ms []Mismatch) []Mismatch {
		if len(ms) < cs.displayLimit {
			ms = append(ms, m)
		}
		return ms
	})
}

func (cs *CollectionStats) Failed() bool {
	return cs.failed.IsRaised()
}

func (cs *CollectionStats) Processed() types.DocumentCount {
	return types.DocumentCount(cs.processed.Load())
}

// ProcessTime is the sum of all units' processing times.
func (cs *CollectionStats) ProcessTime() time.Duration {
	return time.Duration(cs.processNanos.Load())
}

func (cs *CollectionStats) result(elapsed time.Duration, err error) CollectionResult {
	var samples []Mismatch
	cs.samples.Load(func(ms []Mismatch) {
		samples = append(samples, ms...)
	})

	return CollectionResult{
		Namespace:   cs.Namespace,
		Passed:      err == nil && !cs.Failed(),
		Err:         err,
		Total:       cs.Total,
		Processed:   cs.Processed(),
		Units:       types.UnitCount(cs.unitsDone.Load()),
		Bytes:       cs.bytes.Load(),
		Mismatches:  cs.mismatches.Load(),
		Samples:     samples,
		Elapsed:     elapsed,
		ProcessTime: cs.ProcessTime(),
	}
}

// CollectionResult is the outcome of verifying one collection.
type CollectionResult struct {
	Namespace string `json:"namespace"`
	Passed    bool   `json:"passed"`

	// Err is set when the collection could not be verified at all, e.g.
	// for a missing snapshot.
	Err error `json:"-"`

	Total     types.DocumentCount `json:"total"`
	Processed types.DocumentCount `json:"processed"`
	Units     types.UnitCount     `json:"units"`
	Bytes     uint64              `json:"bytes"`

	Mismatches uint64     `json:"mismatches"`
	Samples    []Mismatch `json:"samples,omitempty"`

	Elapsed     time.Duration `json:"elapsed"`
	ProcessTime time.Duration `json:"processTime"`
}

// AvgUnitTime is the mean processing time per unit.
func (cr CollectionResult) AvgUnitTime() time.Duration {
	return time.Duration(util.Divide(cr.ProcessTime, cr.Units))
}
