package mathutil

import (
	"fmt"
	"math"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestRoundHalfUp(t *testing.T) {
	tests := []struct {
		in     float64
		places int32
		want   float64
	}{
		{2.00005, 4, 2.0001},
		{2.00004, 4, 2.0},
		{0.125, 2, 0.13},
		{2.5, 0, 3},
		{3.5, 0, 4},
		{1.0005, 3, 1.001},
		{4.4995, 3, 4.5},
		{103.0, 3, 103.0},
	}

	for _, tt := range tests {
		if got := RoundHalfUp(tt.in, tt.places); got != tt.want {
			t.Errorf("RoundHalfUp(%v, %d) = %v, want %v", tt.in, tt.places, got, tt.want)
		}
	}
}

// Ties always move the last kept digit up, unlike banker's rounding which
// would keep even digits in place.
func TestRoundHalfUpTiesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("x.xxxx5 rounds up at 4 places", prop.ForAll(
		func(whole int, frac int) bool {
			// d.dddd5 parsed from text, e.g. 2.00005.
			in, err := strconv.ParseFloat(fmt.Sprintf("%d.%04d5", whole, frac), 64)
			if err != nil {
				return false
			}
			want := float64(whole) + float64(frac+1)/10000
			got := RoundHalfUp(in, 4)
			if math.Abs(got-want) > 1e-9 {
				t.Logf("RoundHalfUp(%v, 4) = %v, want %v", in, got, want)
				return false
			}
			return true
		},
		gen.IntRange(0, 500),
		gen.IntRange(0, 9998),
	))

	properties.TestingRun(t)
}
