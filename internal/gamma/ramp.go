// SPDX-License-Identifier: GPL-3.0-only

// Package gamma applies the display color matrix through per-channel gamma
// ramps.
//
// A gamma ramp scales each channel independently, so it can only reproduce
// the neutral axis of a color matrix: the output for an input of white. For a
// white balance tint this is what matters, since the matrix is a per-channel
// scale in the display's own color space up to small cross terms.
package gamma

import (
	"math"

	"github.com/shini4i/whitebalance-daemon/internal/colorspace"
)

// White holds per-channel multipliers for red, green and blue. A value of 1
// is neutral.
type White [3]float64

// Neutral leaves every channel untouched.
var Neutral = White{1, 1, 1}

// NeutralWhite returns the channel multipliers the matrix produces for a
// white input, clamped to [0, 1]. Non-finite results map to neutral.
func NeutralWhite(m colorspace.Mat4) White {
	if !m.Valid() {
		return Neutral
	}
	sums := m.Block().RowSums()

	var white White
	for i, v := range sums {
		white[i] = math.Min(math.Max(v, 0), 1)
	}
	return white
}

// GammaRamp fills r, g and b with linear ramps scaled by white.
func GammaRamp(r, g, b []uint16, white White) {
	fill(r, white[0])
	fill(g, white[1])
	fill(b, white[2])
}

func fill(ramp []uint16, scale float64) {
	n := len(ramp)
	if n == 0 {
		return
	}
	if n == 1 {
		ramp[0] = uint16(math.MaxUint16 * scale)
		return
	}
	for i := range ramp {
		ramp[i] = uint16(float64(i) / float64(n-1) * math.MaxUint16 * scale)
	}
}
