package verifier

// MismatchKind says how a document failed verification.
type MismatchKind string

const (
	// The source has the document; the destination does not.
	MissingOnDestination MismatchKind = "missing on destination"

	// The destination has a document that the source batch lacked.
	OnlyOnDestination MismatchKind = "only on destination"

	// Both sides have the document but the digests differ.
	ContentDiffers MismatchKind = "content differs"

	// Load-compare: the snapshot lacks the document and the source either
	// lacks it too or could not be asked.
	MissingOnSource MismatchKind = "missing on source"

	// The source could not be read to fill a gap in the snapshot.
	SourceRefetchFailed MismatchKind = "source refetch failed"

	// A whole unit's fetch came back empty.
	UnitFetchFailed MismatchKind = "unit fetch failed"
)

// Mismatch is one failed document (or, for UnitFetchFailed, one failed
// unit).
type Mismatch struct {
	Namespace string       `json:"namespace"`
	ID        string       `json:"id"`
	Kind      MismatchKind `json:"kind"`
	Unit      int          `json:"unit"`
}
