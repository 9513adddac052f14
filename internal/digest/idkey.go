package digest

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDKey gives the string under which a document with the given _id is
// kept in a Map. Integers, and doubles with integral values, render in
// decimal; ObjectIDs in hex; strings as themselves unless they could be
// read as one of the other forms, in which case they are quoted. Anything
// else renders as extended JSON.
//
// Distinct _ids never share a key. Numerically equal _ids do, since the
// server treats them as the same _id.
func IDKey(id bson.RawValue) string {
	switch id.Type {
	case bsontype.String:
		return stringKey(id.StringValue())
	case bsontype.Int32:
		return strconv.FormatInt(int64(id.Int32()), 10)
	case bsontype.Int64:
		return strconv.FormatInt(id.Int64(), 10)
	case bsontype.Double:
		f := id.Double()
		if f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
			return strconv.FormatInt(int64(f), 10)
		}
		return id.String()
	case bsontype.ObjectID:
		return id.ObjectID().Hex()
	default:
		return id.String()
	}
}

// stringKey quotes strings that look like an integer, an ObjectID, or
// extended JSON. Every non-string key has one of those forms.
func stringKey(s string) string {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.Quote(s)
	}

	if _, err := primitive.ObjectIDFromHex(s); err == nil {
		return strconv.Quote(s)
	}

	if s == "true" || s == "false" || s == "null" || strings.ContainsAny(s[:min(1, len(s))], `{["`) {
		return strconv.Quote(s)
	}

	return s
}

// KeyOf is IDKey for a Go value, such as a sampled _id.
func KeyOf(id any) (string, error) {
	if rv, ok := id.(bson.RawValue); ok {
		return IDKey(rv), nil
	}

	t, data, err := bson.MarshalValue(id)
	if err != nil {
		return "", errors.Wrapf(err, "marshaling _id %v", id)
	}

	return IDKey(bson.RawValue{Type: t, Value: data}), nil
}

// DocumentID returns the _id of doc along with its IDKey.
func DocumentID(doc bson.Raw) (bson.RawValue, string, error) {
	id, err := doc.LookupErr("_id")
	if err != nil {
		return bson.RawValue{}, "", errors.Wrap(err, "document lacks _id")
	}

	return id, IDKey(id), nil
}
