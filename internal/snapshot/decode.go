package snapshot

import (
	"bytes"
	"io"

	"github.com/goccy/go-json"
	"github.com/mongodb-labs/digest-verifier/internal/digest"
	"github.com/pkg/errors"
)

// DecodeConcatenated decodes a run of back-to-back JSON objects, such as
// `{"a":"1"}{"b":"2"}`, in order. Whitespace between objects is allowed.
// Empty input yields no objects.
func DecodeConcatenated(data []byte) ([]digest.Map, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var blobs []digest.Map
	for {
		blob := digest.Map{}
		err := dec.Decode(&blob)
		if errors.Is(err, io.EOF) {
			return blobs, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "decoding blob %d", len(blobs))
		}

		blobs = append(blobs, blob)
	}
}
