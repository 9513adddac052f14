// Package partitions splits a sample of _ids into the work units that
// the verifier's workers consume.
package partitions

import (
	"github.com/samber/lo"
)

// Partition is one unit of work: a consecutive run of sampled _ids.
type Partition struct {
	// Offset is the position of the first ID within the sample. It only
	// serves to correlate log lines.
	Offset int

	IDs []any
}

// Len returns the number of IDs in the partition.
func (p Partition) Len() int {
	return len(p.IDs)
}

// End returns the offset just past the partition's last ID.
func (p Partition) End() int {
	return p.Offset + len(p.IDs)
}

// Split cuts ids into consecutive partitions of batchSize IDs each; only
// the last may be shorter. No IDs means no partitions. batchSize must be
// positive.
func Split(ids []any, batchSize int) []Partition {
	if batchSize <= 0 {
		panic("partitions.Split: batch size must be positive")
	}

	chunks := lo.Chunk(ids, batchSize)

	return lo.Map(chunks, func(chunk []any, i int) Partition {
		return Partition{
			Offset: i * batchSize,
			IDs:    chunk,
		}
	})
}

// Count sums the IDs across partitions.
func Count(parts []Partition) int {
	return lo.SumBy(parts, Partition.Len)
}
