package types

import (
	"golang.org/x/exp/constraints"
)

// DocumentCount represents a count of BSON/MongoDB documents.
type DocumentCount uint64

// UnitCount represents a count of work units (batches of sampled IDs).
type UnitCount uint64

// RealNumber represents any real (i.e., non-complex) number type.
type RealNumber interface {
	constraints.Integer | constraints.Float
}

// ToNumericTypeOf returns a copy of the 1st parameter converted to the
// “type of” the 2nd parameter. This saves repeating a numeric type that
// is already declared elsewhere:
//
//	total := types.DocumentCount(123)
//	done := ToNumericTypeOf(processed.Load(), total)
func ToNumericTypeOf[To, From RealNumber](value From, _ To) To {
	return To(value)
}
