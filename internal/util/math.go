package util

import "github.com/mongodb-labs/digest-verifier/internal/types"

// Divide is syntactic sugar around float64(numerator) / float64(denominator).
// A zero denominator yields 0 rather than NaN or Inf.
func Divide[N types.RealNumber, D types.RealNumber](numerator N, denominator D) float64 {
	if denominator == 0 {
		return 0
	}

	return float64(numerator) / float64(denominator)
}
