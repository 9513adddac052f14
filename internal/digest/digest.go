// Package digest turns documents into short fingerprints that can be
// compared across clusters without shipping whole documents around.
//
// A document's digest is the 128-bit xxh3 hash of its canonical text:
// canonical Extended JSON (which keeps BSON types distinct, so 1 and 1.0
// differ) with all insignificant whitespace removed.
package digest

import (
	"encoding/hex"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/pretty"
	"github.com/zeebo/xxh3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Map maps an _id key (see IDKey) to that document's digest.
type Map map[string]string

// Hasher computes digests. The zero value preserves field order.
type Hasher struct {
	// IgnoreFieldOrder sorts the fields of every embedded document before
	// hashing, so documents that differ only in field order match.
	IgnoreFieldOrder bool
}

// Canonicalize renders doc as normalized text.
func (h Hasher) Canonicalize(doc bson.Raw) ([]byte, error) {
	if h.IgnoreFieldOrder {
		sorted, err := sortFields(doc)
		if err != nil {
			return nil, errors.Wrap(err, "sorting document fields")
		}
		doc = sorted
	}

	text, err := bson.MarshalExtJSON(doc, true, false)
	if err != nil {
		return nil, errors.Wrap(err, "rendering document as extended JSON")
	}

	return CanonicalizeText(text), nil
}

// Sum returns the hex-encoded digest of doc.
func (h Hasher) Sum(doc bson.Raw) (string, error) {
	text, err := h.Canonicalize(doc)
	if err != nil {
		return "", err
	}

	return SumText(text), nil
}

// CanonicalizeText strips insignificant whitespace from JSON text,
// e.g. `{"a": 1, "b": [1, 2]}` becomes `{"a":1,"b":[1,2]}`. String
// contents are untouched.
func CanonicalizeText(text []byte) []byte {
	return pretty.Ugly(text)
}

// SumText hashes already-canonical text.
func SumText(text []byte) string {
	sum := xxh3.Hash128(text).Bytes()
	return hex.EncodeToString(sum[:])
}

func sortFields(doc bson.Raw) (bson.Raw, error) {
	d, err := sortedDocument(doc)
	if err != nil {
		return nil, err
	}

	return bson.Marshal(d)
}

func sortedDocument(doc bson.Raw) (bson.D, error) {
	elems, err := doc.Elements()
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(elems, func(a, b bson.RawElement) int {
		return strings.Compare(a.Key(), b.Key())
	})

	d := make(bson.D, 0, len(elems))
	for _, el := range elems {
		val, err := sortedValue(el.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "field %#q", el.Key())
		}
		d = append(d, bson.E{Key: el.Key(), Value: val})
	}

	return d, nil
}

func sortedValue(val bson.RawValue) (any, error) {
	switch val.Type {
	case bsontype.EmbeddedDocument:
		return sortedDocument(val.Document())
	case bsontype.Array:
		items, err := val.Array().Values()
		if err != nil {
			return nil, err
		}

		arr := make(bson.A, 0, len(items))
		for _, item := range items {
			sv, err := sortedValue(item)
			if err != nil {
				return nil, err
			}
			arr = append(arr, sv)
		}

		return arr, nil
	default:
		return val, nil
	}
}
