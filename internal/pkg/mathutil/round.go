// Package mathutil holds numeric helpers shared by the report and verdict code.
package mathutil

import "github.com/shopspring/decimal"

// RoundHalfUp rounds v to places decimals, sending ties away from zero.
// The value is taken at its shortest decimal representation first, so an
// input such as 2.00005 rounds to 2.0001 rather than following its binary
// approximation down to 2.0000.
func RoundHalfUp(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// Round3 is RoundHalfUp to the three decimals used throughout the report.
func Round3(v float64) float64 {
	return RoundHalfUp(v, 3)
}
