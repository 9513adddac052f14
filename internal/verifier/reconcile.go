package verifier

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/mongodb-labs/digest-verifier/internal/digest"
	"github.com/samber/lo"
)

// Reconciliation lists how two digest maps disagree. Every list is
// sorted; the three lists never share an _id.
type Reconciliation struct {
	// In the source map only.
	Missing []string

	// In the destination map only.
	Extra []string

	// In both maps, with different digests.
	Differing []string
}

// Equal reports whether the maps agreed completely.
func (r Reconciliation) Equal() bool {
	return len(r.Missing) == 0 && len(r.Extra) == 0 && len(r.Differing) == 0
}

func reconcile(src, dst digest.Map) Reconciliation {
	srcIDs := mapset.NewThreadUnsafeSet(lo.Keys(src)...)
	dstIDs := mapset.NewThreadUnsafeSet(lo.Keys(dst)...)

	differing := lo.Filter(
		srcIDs.Intersect(dstIDs).ToSlice(),
		func(id string, _ int) bool { return src[id] != dst[id] },
	)

	return Reconciliation{
		Missing:   sorted(srcIDs.Difference(dstIDs).ToSlice()),
		Extra:     sorted(dstIDs.Difference(srcIDs).ToSlice()),
		Differing: sorted(differing),
	}
}

func sorted(ids []string) []string {
	slices.Sort(ids)
	return ids
}
